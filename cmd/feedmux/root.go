package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barnybug/feedmux/config"
	"github.com/barnybug/feedmux/logging"
	"github.com/barnybug/feedmux/pubsub"
	"github.com/barnybug/feedmux/pubsub/mqtt"
	"github.com/barnybug/feedmux/pubsub/websocket"
)

type app struct {
	configPath string
	verbose    bool

	conf   *config.Config
	logger *zap.Logger
}

func NewRootCommand(version string) *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "feedmux",
		Short: "Subscribe to market data streams and dispatch them to handlers",
		Long: `feedmux connects to a streaming market data endpoint (MQTT or websocket),
subscribes to the channels that have handlers and routes each message to them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/feedmux/feedmux.yml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newListenCommand(a))
	rootCmd.AddCommand(newPublishCommand(a))
	rootCmd.AddCommand(newAPIsCommand())
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	var err error
	if a.configPath != "" {
		a.conf, err = config.OpenFile(a.configPath)
	} else {
		a.conf, err = config.Open()
		if os.IsNotExist(err) {
			a.conf, err = config.Default(), nil
		}
	}
	if err != nil {
		return errors.Wrap(err, "config")
	}
	if a.verbose {
		a.conf.Logging.Level = "debug"
		a.conf.Logging.Development = true
	}
	a.logger, err = logging.New(a.conf.Logging, cmd.ErrOrStderr())
	return err
}

func (a *app) newTransport() (pubsub.Transport, error) {
	switch a.conf.Transport() {
	case "websocket":
		ws := a.conf.Endpoints.Websocket
		return websocket.New(ws.Url,
			websocket.WithReconnect(ws.Reconnect.Duration),
			websocket.WithLogger(a.logger)), nil
	case "mqtt":
		return a.newBroker(), nil
	}
	return nil, errors.New("no endpoint configured: set endpoints.websocket.url or endpoints.mqtt.broker")
}

func (a *app) newBroker() *mqtt.Broker {
	m := a.conf.Endpoints.Mqtt
	return mqtt.NewBroker(m.Broker,
		mqtt.WithPrefix(m.Prefix),
		mqtt.WithQoS(m.Qos),
		mqtt.WithClientID(m.ClientID),
		mqtt.WithWildcard(a.conf.Dispatch.Wildcard),
		mqtt.WithLogger(a.logger))
}
