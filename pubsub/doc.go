// Package pubsub routes decoded stream messages to typed handlers.
//
// Handlers register against a ChannelKey (an API identifier plus optional
// sub-key) in a Registry. A Dispatcher looks the key up and invokes each
// handler in registration order, recording faults instead of propagating
// them. A Coordinator watches the registry and tells the transport when a
// key gains its first handler or loses its last, and Ingest moves dispatch
// off the connection's read loop onto key-sharded workers.
package pubsub
