// Package client assembles the dispatch core around a transport.
//
// A Client owns the handler registry, the coordinator that turns first and
// last registrations into transport intents, the dispatcher and the ingest
// pool. The transport feeds decoded messages to the client, which acts as
// its pubsub.Sink.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/barnybug/feedmux/pubsub"
)

var _ pubsub.Sink = (*Client)(nil)

type options struct {
	logger   *zap.Logger
	policy   pubsub.MatchPolicy
	workers  int
	queue    int
	overflow pubsub.Overflow
	timeout  time.Duration
	observer pubsub.FaultObserver
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMatchPolicy(p pubsub.MatchPolicy) Option {
	return func(o *options) { o.policy = p }
}

func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

func WithQueueSize(n int) Option {
	return func(o *options) { o.queue = n }
}

func WithOverflow(overflow pubsub.Overflow) Option {
	return func(o *options) { o.overflow = overflow }
}

// WithHandlerTimeout bounds each handler invocation. Zero runs handlers
// inline without a deadline.
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithFaultObserver receives every fault raised while dispatching.
func WithFaultObserver(f pubsub.FaultObserver) Option {
	return func(o *options) { o.observer = f }
}

type Client struct {
	transport   pubsub.Transport
	registry    *pubsub.Registry
	coordinator *pubsub.Coordinator
	dispatcher  *pubsub.Dispatcher
	ingest      *pubsub.Ingest
	logger      *zap.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

func New(transport pubsub.Transport, opts ...Option) *Client {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("transport", transport.ID()))

	c := &Client{transport: transport, logger: logger}
	c.coordinator = pubsub.NewCoordinator(transport, pubsub.WithCoordinatorLogger(logger))
	c.registry = pubsub.NewRegistry(
		pubsub.WithMatchPolicy(o.policy),
		pubsub.WithWatcher(c.coordinator),
		pubsub.WithRegistryLogger(logger))

	dopts := []pubsub.DispatcherOption{pubsub.WithDispatcherLogger(logger), pubsub.WithHandlerTimeout(o.timeout)}
	if o.observer != nil {
		dopts = append(dopts, pubsub.WithFaultObserver(o.observer))
	}
	c.dispatcher = pubsub.NewDispatcher(c.registry, dopts...)

	iopts := []pubsub.IngestOption{pubsub.WithIngestLogger(logger), pubsub.WithOverflow(o.overflow)}
	if o.workers > 0 {
		iopts = append(iopts, pubsub.WithWorkers(o.workers))
	}
	if o.queue > 0 {
		iopts = append(iopts, pubsub.WithQueueSize(o.queue))
	}
	c.ingest = pubsub.NewIngest(c.dispatcher, iopts...)
	return c
}

// Start runs the ingest workers, connects the transport and starts
// delivering intents. Handlers may be registered before or after Start.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pubsub.ErrClosed
	}
	if c.started {
		return pubsub.ErrAlreadyRunning
	}
	if err := c.ingest.Start(); err != nil {
		return err
	}
	// a failed start leaves nothing running so Start can be retried
	if err := c.transport.Connect(ctx, c); err != nil {
		c.ingest.Halt(ctx)
		return errors.Wrapf(err, "connect %s", c.transport.ID())
	}
	if err := c.coordinator.Start(); err != nil {
		c.transport.Close()
		c.ingest.Halt(ctx)
		return err
	}
	c.started = true
	c.logger.Info("client started")
	return nil
}

// Close stops dispatch, removes every handler, sends the resulting
// unsubscribes and closes the transport. Queued messages are discarded.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	var err error
	if started {
		err = multierr.Append(err, c.ingest.Stop(ctx))
	}
	c.registry.Close()
	if started {
		err = multierr.Append(err, c.coordinator.Stop(ctx))
		err = multierr.Append(err, c.transport.Close())
	}
	c.logger.Info("client closed", zap.Error(err))
	return err
}

// OnMessage hands a decoded message to the ingest pool. It does not wait
// for handlers.
func (c *Client) OnMessage(key pubsub.ChannelKey, payload any) error {
	return c.ingest.Submit(context.Background(), key, payload)
}

// ActiveKeys returns every key with at least one handler, sorted.
func (c *Client) ActiveKeys() []pubsub.ChannelKey {
	return c.coordinator.ActiveKeys()
}

// Unsubscribe removes a registration. It reports false for unknown tokens.
func (c *Client) Unsubscribe(token pubsub.Token) bool {
	return c.registry.Unregister(token)
}

// Dispatch delivers payload synchronously on the caller's goroutine,
// bypassing the ingest pool.
func (c *Client) Dispatch(ctx context.Context, key pubsub.ChannelKey, payload any) pubsub.Result {
	return c.dispatcher.Dispatch(ctx, key, payload)
}

func (c *Client) Registry() *pubsub.Registry {
	return c.registry
}

// Subscribe registers h for key on c.
func Subscribe[T any](c *Client, key pubsub.ChannelKey, h pubsub.MessageHandler[T]) (pubsub.Token, error) {
	return pubsub.Subscribe[T](c.registry, key, h)
}

func SubscribeFunc[T any](c *Client, key pubsub.ChannelKey, f func(ctx context.Context, msg T) error) (pubsub.Token, error) {
	return pubsub.SubscribeFunc[T](c.registry, key, f)
}

type Stats struct {
	Handlers    int
	Keys        int
	Dispatcher  pubsub.DispatcherStats
	Ingest      pubsub.IngestStats
	Coordinator pubsub.CoordinatorStats
}

func (c *Client) Stats() Stats {
	return Stats{
		Handlers:    c.registry.Len(),
		Keys:        len(c.registry.Keys()),
		Dispatcher:  c.dispatcher.Stats(),
		Ingest:      c.ingest.Stats(),
		Coordinator: c.coordinator.Stats(),
	}
}
