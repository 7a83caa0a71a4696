// Package config loads feedmux.yml.
package config

import (
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/barnybug/feedmux/pubsub"
	"github.com/barnybug/feedmux/util"
)

type Duration struct {
	time.Duration
}

func (self *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "duration %q", s)
	}
	self.Duration = d
	return nil
}

func (self Duration) MarshalYAML() (interface{}, error) {
	return self.String(), nil
}

type MqttConf struct {
	Broker   string
	Prefix   string
	Qos      byte
	ClientID string `yaml:"client_id"`
}

type WebsocketConf struct {
	Url       string
	Reconnect Duration
}

type EndpointsConf struct {
	Mqtt      MqttConf
	Websocket WebsocketConf
}

type DispatchConf struct {
	Workers  int
	Queue    int
	Timeout  Duration
	Overflow string
	Wildcard bool
}

type LoggingConf struct {
	Level       string
	Development bool
}

type GraphiteConf struct {
	Address  string
	Prefix   string
	Interval Duration
}

type Config struct {
	Endpoints     EndpointsConf
	Dispatch      DispatchConf
	Logging       LoggingConf
	Graphite      GraphiteConf
	Subscriptions []pubsub.ChannelKey
}

// Transport names the configured endpoint: "websocket" when a websocket url
// is set, "mqtt" when a broker is set, "" otherwise.
func (self *Config) Transport() string {
	switch {
	case self.Endpoints.Websocket.Url != "":
		return "websocket"
	case self.Endpoints.Mqtt.Broker != "":
		return "mqtt"
	}
	return ""
}

// MatchPolicy maps the wildcard flag.
func (self *Config) MatchPolicy() pubsub.MatchPolicy {
	if self.Dispatch.Wildcard {
		return pubsub.MatchWildcard
	}
	return pubsub.MatchExact
}

func (self *Config) applyDefaults() {
	if self.Endpoints.Mqtt.Prefix == "" {
		self.Endpoints.Mqtt.Prefix = "feedmux"
	}
	if self.Dispatch.Workers == 0 {
		self.Dispatch.Workers = 4
	}
	if self.Dispatch.Queue == 0 {
		self.Dispatch.Queue = 1024
	}
	if self.Dispatch.Overflow == "" {
		self.Dispatch.Overflow = "drop"
	}
	if self.Logging.Level == "" {
		self.Logging.Level = "info"
	}
	if self.Graphite.Prefix == "" {
		self.Graphite.Prefix = "feedmux"
	}
	if self.Graphite.Interval.Duration == 0 {
		self.Graphite.Interval.Duration = time.Minute
	}
}

// Validate rejects values the components cannot run with.
func (self *Config) Validate() error {
	if self.Endpoints.Mqtt.Qos > 2 {
		return errors.Errorf("endpoints.mqtt.qos: %d not in 0-2", self.Endpoints.Mqtt.Qos)
	}
	if self.Dispatch.Workers < 0 {
		return errors.New("dispatch.workers: must be positive")
	}
	if self.Dispatch.Queue < 0 {
		return errors.New("dispatch.queue: must be positive")
	}
	if self.Dispatch.Timeout.Duration < 0 {
		return errors.New("dispatch.timeout: must not be negative")
	}
	if _, err := pubsub.ParseOverflow(self.Dispatch.Overflow); err != nil {
		return errors.Wrap(err, "dispatch.overflow")
	}
	for _, key := range self.Subscriptions {
		if !key.Valid() {
			return errors.Errorf("subscriptions: invalid key %v", key)
		}
	}
	return nil
}

func Open() (*Config, error) {
	return OpenFile(ConfigPath("feedmux.yml"))
}

// OpenFile loads the config at p. A leading ~/ is expanded.
func OpenFile(p string) (*Config, error) {
	file, err := os.Open(util.ExpandUser(p))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return OpenReader(file)
}

func OpenReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return OpenRaw(data)
}

func OpenRaw(data []byte) (*Config, error) {
	self := &Config{}
	if err := yaml.UnmarshalStrict(data, self); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	self.applyDefaults()
	if err := self.Validate(); err != nil {
		return nil, err
	}
	return self, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	self := &Config{}
	self.applyDefaults()
	return self
}

func ConfigPath(p string) string {
	config := os.Getenv("XDG_CONFIG_HOME")
	if config == "" {
		config = path.Join(os.Getenv("HOME"), ".config")
	}
	return path.Join(config, "feedmux", p)
}
