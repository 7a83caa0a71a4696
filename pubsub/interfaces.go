package pubsub

import "context"

// Intents is the outbound side of the transport: it receives aggregate
// interest changes from the Coordinator.
type Intents interface {
	Subscribe(ctx context.Context, key ChannelKey) error
	Unsubscribe(ctx context.Context, key ChannelKey) error
}

// Sink is what a transport feeds. OnMessage must not block on handler work;
// ActiveKeys is consulted to resubscribe after a reconnect.
type Sink interface {
	OnMessage(key ChannelKey, payload any) error
	ActiveKeys() []ChannelKey
}

// Transport owns a streaming connection. Connect starts reading and returns
// once the first connection attempt has completed; reading continues on the
// transport's own goroutine until Close.
type Transport interface {
	Intents
	ID() string
	Connect(ctx context.Context, sink Sink) error
	Close() error
}

// Publisher emits a message on a key.
type Publisher interface {
	ID() string
	Emit(key ChannelKey, payload any) error
}
