package pubsub

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Op is the direction of an Intent.
type Op int

const (
	OpSubscribe Op = iota
	OpUnsubscribe
)

func (o Op) String() string {
	if o == OpUnsubscribe {
		return "unsubscribe"
	}
	return "subscribe"
}

// Intent asks the transport to start or stop receiving a key.
type Intent struct {
	Op  Op
	Key ChannelKey
}

// Coordinator turns registry transitions into subscribe and unsubscribe
// intents. It watches the registry, keeps the set of active keys, and
// delivers intents to the transport in the order they occurred from a single
// pump goroutine, so registration never waits on the network.
//
// For each key intents alternate strictly: a subscribe is only emitted for an
// inactive key and an unsubscribe only for an active one.
type Coordinator struct {
	transport Intents
	logger    *zap.Logger
	onError   func(Intent, error)

	mu      sync.Mutex
	active  map[ChannelKey]struct{}
	pending []Intent
	emitted [2]uint64
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithIntentErrorHandler is called when the transport rejects an intent.
func WithIntentErrorHandler(f func(Intent, error)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onError = f
	}
}

func NewCoordinator(transport Intents, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		transport: transport,
		logger:    zap.NewNop(),
		active:    map[ChannelKey]struct{}{},
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KeyActivated implements Watcher.
func (c *Coordinator) KeyActivated(key ChannelKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[key]; ok {
		return
	}
	c.active[key] = struct{}{}
	c.enqueue(Intent{Op: OpSubscribe, Key: key})
}

// KeyDeactivated implements Watcher.
func (c *Coordinator) KeyDeactivated(key ChannelKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[key]; !ok {
		return
	}
	delete(c.active, key)
	c.enqueue(Intent{Op: OpUnsubscribe, Key: key})
}

func (c *Coordinator) enqueue(in Intent) {
	c.pending = append(c.pending, in)
	c.emitted[in.Op]++
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// ActiveKeys returns every key with at least one registered handler, sorted.
// Transports call it after a reconnect to restore their subscriptions.
func (c *Coordinator) ActiveKeys() []ChannelKey {
	c.mu.Lock()
	keys := make([]ChannelKey, 0, len(c.active))
	for k := range c.active {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	SortKeys(keys)
	return keys
}

// IsActive reports whether key currently has registrations.
func (c *Coordinator) IsActive(key ChannelKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[key]
	return ok
}

// Pending returns the number of intents not yet handed to the transport.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Start launches the pump goroutine.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return ErrAlreadyRunning
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
	return nil
}

// Stop delivers every pending intent and then stops the pump, or gives up
// when ctx is done.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush synchronously delivers pending intents on the caller's goroutine.
// It is used when no pump is running.
func (c *Coordinator) Flush(ctx context.Context) {
	for {
		batch := c.take()
		if len(batch) == 0 {
			return
		}
		c.deliver(ctx, batch)
	}
}

func (c *Coordinator) run(stop, done chan struct{}) {
	defer close(done)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		select {
		case <-c.wake:
			c.Flush(ctx)
		case <-stop:
			c.Flush(ctx)
			return
		}
	}
}

func (c *Coordinator) take() []Intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.pending
	c.pending = nil
	return batch
}

func (c *Coordinator) deliver(ctx context.Context, batch []Intent) {
	for _, in := range batch {
		var err error
		switch in.Op {
		case OpSubscribe:
			err = c.transport.Subscribe(ctx, in.Key)
		case OpUnsubscribe:
			err = c.transport.Unsubscribe(ctx, in.Key)
		}
		if err != nil {
			c.logger.Error("intent failed", zap.Stringer("op", in.Op), zap.Stringer("key", in.Key), zap.Error(err))
			if c.onError != nil {
				c.onError(in, err)
			}
			continue
		}
		c.logger.Debug("intent delivered", zap.Stringer("op", in.Op), zap.Stringer("key", in.Key))
	}
}

// CoordinatorStats counts intents emitted since creation.
type CoordinatorStats struct {
	Subscribes   uint64
	Unsubscribes uint64
	Active       int
	Pending      int
}

func (c *Coordinator) Stats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CoordinatorStats{
		Subscribes:   c.emitted[OpSubscribe],
		Unsubscribes: c.emitted[OpUnsubscribe],
		Active:       len(c.active),
		Pending:      len(c.pending),
	}
}
