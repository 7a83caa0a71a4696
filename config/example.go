package config

import "strings"

// ExampleYaml is a complete configuration with every section set.
var ExampleYaml = `
endpoints:
  mqtt:
    broker: tcp://localhost:1883
    prefix: md
    qos: 1
  websocket:
    url: wss://stream.example.com/v1
    reconnect: 1s
dispatch:
  workers: 4
  queue: 1024
  timeout: 500ms
  overflow: drop
  wildcard: false
logging:
  level: info
  development: false
graphite:
  address: localhost:2003
  prefix: feedmux
  interval: 1m
subscriptions:
- quotes/AAPL
- trades/AAPL
- status`

var ExampleConfig = Must(OpenReader(strings.NewReader(ExampleYaml)))

// Must panics if err is not nil.
func Must(config *Config, err error) *Config {
	if err != nil {
		panic(err)
	}
	return config
}
