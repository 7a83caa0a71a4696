package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barnybug/feedmux/client"
	"github.com/barnybug/feedmux/lib/graphite"
	"github.com/barnybug/feedmux/pubsub"
)

func newListenCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "listen [key...]",
		Short: "Print messages for the given keys (default: subscriptions from config)",
		Example: `  feedmux listen quotes/AAPL trades/AAPL
  feedmux listen news`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := listenKeys(args, a.conf.Subscriptions)
			if err != nil {
				return err
			}
			transport, err := a.newTransport()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.listen(ctx, transport, keys, cmd.OutOrStdout())
		},
	}
}

func listenKeys(args []string, defaults []pubsub.ChannelKey) ([]pubsub.ChannelKey, error) {
	if len(args) == 0 {
		if len(defaults) == 0 {
			return nil, errors.New("no keys given and no subscriptions configured")
		}
		return defaults, nil
	}
	var keys []pubsub.ChannelKey
	for _, arg := range args {
		key, err := pubsub.ParseKey(arg)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// printer writes one line per message: the message's own key then the
// payload as JSON.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) handler(key pubsub.ChannelKey) func(context.Context, any) error {
	return func(ctx context.Context, msg any) error {
		var body []byte
		if ev, ok := msg.(*pubsub.Event); ok {
			body = ev.Bytes()
		} else {
			var err error
			if body, err = json.Marshal(msg); err != nil {
				return err
			}
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		_, err := fmt.Fprintf(p.out, "%s %s\n", messageKey(key, msg), body)
		return err
	}
}

// messageKey narrows a registration key to the key the message arrived on.
// Under wildcard matching a root registration sees every symbol of its API.
func messageKey(key pubsub.ChannelKey, msg any) pubsub.ChannelKey {
	if key.HasSub() {
		return key
	}
	var symbol string
	switch m := msg.(type) {
	case *pubsub.Event:
		if m.Key.Valid() {
			return m.Key
		}
	case *pubsub.Quote:
		symbol = m.Symbol
	case *pubsub.Trade:
		symbol = m.Symbol
	case *pubsub.Bar:
		symbol = m.Symbol
	case *pubsub.Book:
		symbol = m.Symbol
	}
	if symbol == "" {
		return key
	}
	return pubsub.Key(key.API, symbol)
}

func (a *app) clientOptions() ([]client.Option, error) {
	d := a.conf.Dispatch
	overflow, err := pubsub.ParseOverflow(d.Overflow)
	if err != nil {
		return nil, err
	}
	return []client.Option{
		client.WithLogger(a.logger),
		client.WithMatchPolicy(a.conf.MatchPolicy()),
		client.WithWorkers(d.Workers),
		client.WithQueueSize(d.Queue),
		client.WithOverflow(overflow),
		client.WithHandlerTimeout(d.Timeout.Duration),
	}, nil
}

func (a *app) listen(ctx context.Context, transport pubsub.Transport, keys []pubsub.ChannelKey, out io.Writer) error {
	opts, err := a.clientOptions()
	if err != nil {
		return err
	}
	c := client.New(transport, opts...)

	p := &printer{out: out}
	for _, key := range keys {
		if _, err := client.SubscribeFunc(c, key, p.handler(key)); err != nil {
			return err
		}
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("listening", zap.Stringers("keys", keys))

	var wg sync.WaitGroup
	if gc := a.conf.Graphite; gc.Address != "" {
		r := client.NewReporter(c, graphite.New(gc.Address), gc.Prefix, gc.Interval.Duration)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
		}()
	}

	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = c.Close(shutdown)
	wg.Wait()
	return err
}
