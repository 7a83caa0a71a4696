// Package dummy is an in-memory transport for tests and examples.
package dummy

import (
	"context"
	"sync"

	"github.com/barnybug/feedmux/pubsub"
)

var (
	_ pubsub.Transport = (*Transport)(nil)
	_ pubsub.Publisher = (*Publisher)(nil)
)

// Frame is one message queued for replay.
type Frame struct {
	Key     pubsub.ChannelKey
	Payload any
}

// Transport records intents and replays frames into the connected sink.
type Transport struct {
	mu         sync.Mutex
	sink       pubsub.Sink
	intents    []pubsub.Intent
	subscribed map[pubsub.ChannelKey]bool
	connects   int
	closed     bool

	// Err, if set, is returned from Subscribe and Unsubscribe.
	Err error
}

func New() *Transport {
	return &Transport{subscribed: map[pubsub.ChannelKey]bool{}}
}

func (t *Transport) ID() string {
	return "dummy"
}

// Connect stores the sink and resubscribes its active keys, as a real
// transport does after every (re)connect.
func (t *Transport) Connect(ctx context.Context, sink pubsub.Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
	t.connects++
	t.closed = false
	for _, key := range sink.ActiveKeys() {
		t.subscribed[key] = true
	}
	return nil
}

// Reconnect simulates a dropped connection being restored.
func (t *Transport) Reconnect(ctx context.Context) error {
	t.mu.Lock()
	sink := t.sink
	t.subscribed = map[pubsub.ChannelKey]bool{}
	t.mu.Unlock()
	return t.Connect(ctx, sink)
}

func (t *Transport) Subscribe(ctx context.Context, key pubsub.ChannelKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.intents = append(t.intents, pubsub.Intent{Op: pubsub.OpSubscribe, Key: key})
	if t.Err != nil {
		return t.Err
	}
	t.subscribed[key] = true
	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, key pubsub.ChannelKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.intents = append(t.intents, pubsub.Intent{Op: pubsub.OpUnsubscribe, Key: key})
	if t.Err != nil {
		return t.Err
	}
	delete(t.subscribed, key)
	return nil
}

// Intents returns every intent received so far.
func (t *Transport) Intents() []pubsub.Intent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]pubsub.Intent(nil), t.intents...)
}

// Subscribed reports whether the transport currently receives key.
func (t *Transport) Subscribed(key pubsub.ChannelKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribed[key]
}

// Connects returns how many times Connect was called.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Replay feeds frames to the sink in order, skipping keys the transport is
// not subscribed to, like a broker would. It returns the first sink error.
func (t *Transport) Replay(frames ...Frame) error {
	for _, f := range frames {
		t.mu.Lock()
		sink, ok := t.sink, t.subscribed[f.Key] || t.subscribed[f.Key.Root()]
		t.mu.Unlock()
		if sink == nil || !ok {
			continue
		}
		if err := sink.OnMessage(f.Key, f.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.sink = nil
	return nil
}

// Closed reports whether Close was called since the last Connect.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Publisher records emitted messages.
type Publisher struct {
	mu     sync.Mutex
	Frames []Frame
}

func (p *Publisher) ID() string {
	return "dummy"
}

func (p *Publisher) Emit(key pubsub.ChannelKey, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Frames = append(p.Frames, Frame{Key: key, Payload: payload})
	return nil
}
