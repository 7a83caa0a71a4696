// feedmux routes streaming market data to application handlers.
//
// Handlers register interest in a channel key, an API such as quotes or
// trades plus an optional sub-key like a symbol. The first handler for a key
// makes the client subscribe upstream and the last one to leave
// unsubscribes. Each message received on a key is delivered to its handlers
// in registration order. Messages for one key are delivered in arrival order.
// A handler that fails, panics or expects a different payload type is
// reported and skipped without affecting the others.
//
// Transports
//
// - MQTT (pubsub/mqtt), one topic per key under a configurable prefix
//
// - Websocket (pubsub/websocket), JSON subscribe/unsubscribe control frames
//
// - In-memory (pubsub/dummy), for tests
//
// Command line
//
//	feedmux listen quotes/AAPL trades/AAPL
//	feedmux publish quotes/AAPL symbol=AAPL price=101.5
//	feedmux apis
//
// Configuration is read from $XDG_CONFIG_HOME/feedmux/feedmux.yml.
package feedmux
