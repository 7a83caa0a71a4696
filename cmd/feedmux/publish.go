package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/barnybug/feedmux/pubsub"
	"github.com/barnybug/feedmux/util"
)

func newPublishCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "publish <key> field=value...",
		Short:   "Publish one message over MQTT",
		Example: `  feedmux publish quotes/AAPL symbol=AAPL price=101.5`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, fields, err := publishArgs(args)
			if err != nil {
				return err
			}
			if a.conf.Endpoints.Mqtt.Broker == "" {
				return errors.New("publish needs endpoints.mqtt.broker")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			broker := a.newBroker()
			if err := broker.Connect(ctx, nil); err != nil {
				return err
			}
			defer broker.Close()
			return broker.Publisher().Emit(key, fields)
		},
	}
}

func publishArgs(args []string) (pubsub.ChannelKey, map[string]interface{}, error) {
	positional, fields := util.ParseArgs(args)
	if len(positional) != 1 {
		return pubsub.ChannelKey{}, nil, errors.Errorf("expected one key, got %q", positional)
	}
	key, err := pubsub.ParseKey(positional[0])
	if err != nil {
		return pubsub.ChannelKey{}, nil, err
	}
	return key, fields, nil
}
