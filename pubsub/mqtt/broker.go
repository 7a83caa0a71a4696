// Package mqtt carries channel subscriptions over an MQTT broker.
//
// Each ChannelKey maps to a topic under a prefix: "<prefix>/<api>" or
// "<prefix>/<api>/<sub>". Message bodies are JSON and decoded with a
// pubsub.Decoder before they reach the sink.
package mqtt

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/barnybug/feedmux/pubsub"
)

// client is the part of MQTT.Client the broker uses.
type client interface {
	Connect() MQTT.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Subscribe(topic string, qos byte, callback MQTT.MessageHandler) MQTT.Token
	SubscribeMultiple(filters map[string]byte, callback MQTT.MessageHandler) MQTT.Token
	Unsubscribe(topics ...string) MQTT.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
}

// Broker is a pubsub.Transport backed by an MQTT connection.
type Broker struct {
	broker   string
	prefix   string
	clientID string
	qos      byte
	wildcard bool
	timeout  time.Duration
	decoder  *pubsub.Decoder
	logger   *zap.Logger

	newClient func(opts *MQTT.ClientOptions) client

	mu     sync.Mutex
	client client
	sink   pubsub.Sink

	received     atomic.Uint64
	decodeErrors atomic.Uint64
}

// Option configures a Broker.
type Option func(*Broker)

// WithPrefix sets the topic prefix. The default is "feedmux".
func WithPrefix(prefix string) Option {
	return func(b *Broker) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithClientID sets the MQTT client id. By default one is generated from
// the host name, pid and a random number.
func WithClientID(id string) Option {
	return func(b *Broker) {
		b.clientID = id
	}
}

// WithQoS sets the quality of service for subscriptions and publishes.
func WithQoS(qos byte) Option {
	return func(b *Broker) {
		b.qos = qos
	}
}

// WithWildcard maps keys without a sub-key to "<prefix>/<api>/#" so the
// broker forwards every sub-keyed stream of the API.
func WithWildcard(on bool) Option {
	return func(b *Broker) {
		b.wildcard = on
	}
}

// WithTimeout bounds each broker round trip.
func WithTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithDecoder sets the payload decoder.
func WithDecoder(d *pubsub.Decoder) Option {
	return func(b *Broker) {
		b.decoder = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

func NewBroker(broker string, opts ...Option) *Broker {
	b := &Broker{
		broker:  broker,
		prefix:  "feedmux",
		qos:     1,
		timeout: 10 * time.Second,
		logger:  zap.NewNop(),
		newClient: func(opts *MQTT.ClientOptions) client {
			return MQTT.NewClient(opts)
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.decoder == nil {
		b.decoder = pubsub.NewDecoder()
	}
	if b.clientID == "" {
		hostname, _ := os.Hostname()
		b.clientID = fmt.Sprintf("feedmux/%s-%d-%d", hostname, os.Getpid(), rand.Int())
	}
	return b
}

func (b *Broker) ID() string {
	return "mqtt: " + b.broker
}

// Connect dials the broker. Subscriptions for sink.ActiveKeys() are
// restored on every (re)connect. sink may be nil for a publish-only
// connection.
func (b *Broker) Connect(ctx context.Context, sink pubsub.Sink) error {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(b.broker)
	opts.SetClientID(b.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(b.connectHandler)
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		b.logger.Warn("mqtt connection lost", zap.String("broker", b.broker), zap.Error(err))
	})
	opts.SetDefaultPublishHandler(b.publishHandler)

	b.mu.Lock()
	if b.client != nil {
		b.mu.Unlock()
		return pubsub.ErrAlreadyRunning
	}
	b.sink = sink
	c := b.newClient(opts)
	b.client = c
	b.mu.Unlock()

	if err := b.wait(ctx, c.Connect()); err != nil {
		b.mu.Lock()
		b.client = nil
		b.mu.Unlock()
		return errors.Wrapf(err, "connect %s", b.broker)
	}
	b.logger.Info("mqtt connected", zap.String("broker", b.broker), zap.String("client_id", b.clientID))
	return nil
}

// Close disconnects, allowing in-flight work a short grace period.
func (b *Broker) Close() error {
	b.mu.Lock()
	c := b.client
	b.client = nil
	b.sink = nil
	b.mu.Unlock()
	if c != nil {
		c.Disconnect(250)
	}
	return nil
}

func (b *Broker) current() (client, pubsub.Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client, b.sink
}

func (b *Broker) wait(ctx context.Context, token MQTT.Token) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports how many messages arrived and how many failed to decode.
func (b *Broker) Stats() (received, decodeErrors uint64) {
	return b.received.Load(), b.decodeErrors.Load()
}
