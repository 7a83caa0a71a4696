// Package websocket carries channel subscriptions over a websocket feed.
//
// Control frames sent to the server:
//
//	{"op":"subscribe","channel":"quotes","key":"AAPL"}
//	{"op":"unsubscribe","channel":"quotes","key":"AAPL"}
//
// Data frames received from the server:
//
//	{"channel":"quotes","key":"AAPL","data":{...}}
//
// Frames with an "op" are acknowledgements or errors and are only logged.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/barnybug/feedmux/pubsub"
)

var _ pubsub.Transport = (*Transport)(nil)

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opError       = "error"

	maxBackoff = 30 * time.Second
)

type frame struct {
	Op      string          `json:"op,omitempty"`
	Channel string          `json:"channel"`
	Key     string          `json:"key,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Transport is a pubsub.Transport over a single websocket connection.
type Transport struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	decoder      *pubsub.Decoder
	logger       *zap.Logger
	backoff      time.Duration
	writeTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	sink   pubsub.Sink
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	connects     atomic.Uint64
	received     atomic.Uint64
	decodeErrors atomic.Uint64
}

type Option func(*Transport)

// WithReconnect sets the first retry delay after the connection drops. It
// doubles on each failure up to 30s. Zero disables reconnecting.
func WithReconnect(d time.Duration) Option {
	return func(t *Transport) {
		t.backoff = d
	}
}

func WithHeader(h http.Header) Option {
	return func(t *Transport) {
		t.header = h
	}
}

func WithDecoder(d *pubsub.Decoder) Option {
	return func(t *Transport) {
		t.decoder = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

func New(url string, opts ...Option) *Transport {
	t := &Transport{
		url:          url,
		dialer:       websocket.DefaultDialer,
		logger:       zap.NewNop(),
		backoff:      time.Second,
		writeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.decoder == nil {
		t.decoder = pubsub.NewDecoder()
	}
	return t
}

func (t *Transport) ID() string {
	return "websocket: " + t.url
}

// Connect dials the server, subscribes sink.ActiveKeys() and starts the
// read loop.
func (t *Transport) Connect(ctx context.Context, sink pubsub.Sink) error {
	t.mu.Lock()
	if t.done != nil {
		t.mu.Unlock()
		return pubsub.ErrAlreadyRunning
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx, sink)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.sink = sink
	t.cancel = cancel
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go t.run(runCtx, conn, done)
	return nil
}

// dial publishes the connection before reading the active keys, so an
// intent delivered while resubscribing is written to it rather than dropped.
// Keys that went inactive during the resubscribe are unsubscribed again.
func (t *Transport) dial(ctx context.Context, sink pubsub.Sink) (*websocket.Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", t.url)
	}
	t.connects.Add(1)
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	keys := sink.ActiveKeys()
	for _, key := range keys {
		if err := t.write(conn, control(opSubscribe, key)); err != nil {
			t.drop(conn)
			return nil, errors.Wrapf(err, "resubscribe %s", key)
		}
	}
	active := map[pubsub.ChannelKey]bool{}
	for _, key := range sink.ActiveKeys() {
		active[key] = true
	}
	for _, key := range keys {
		if active[key] {
			continue
		}
		if err := t.write(conn, control(opUnsubscribe, key)); err != nil {
			t.drop(conn)
			return nil, errors.Wrapf(err, "unsubscribe %s", key)
		}
	}
	t.logger.Info("websocket connected", zap.String("url", t.url), zap.Int("keys", len(keys)))
	return conn, nil
}

func (t *Transport) drop(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	conn.Close()
}

// run reads until the connection fails, then redials with backoff.
func (t *Transport) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		err := t.readLoop(conn)
		stop()
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		sink := t.sink
		t.mu.Unlock()
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("websocket connection lost", zap.String("url", t.url), zap.Error(err))
		if t.backoff <= 0 {
			return
		}
		conn = t.redial(ctx, sink)
		if conn == nil {
			return
		}
	}
}

func (t *Transport) redial(ctx context.Context, sink pubsub.Sink) *websocket.Conn {
	delay := t.backoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		conn, err := t.dial(ctx, sink)
		if err == nil {
			return conn
		}
		t.logger.Warn("websocket reconnect failed", zap.Duration("retry", delay), zap.Error(err))
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		t.received.Add(1)
		t.handle(data)
	}
}

func (t *Transport) handle(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.decodeErrors.Add(1)
		t.logger.Warn("websocket bad frame", zap.Error(err))
		return
	}
	switch f.Op {
	case "":
	case opError:
		t.logger.Error("websocket server error", zap.String("channel", f.Channel), zap.String("key", f.Key), zap.String("error", f.Error))
		return
	default:
		t.logger.Debug("websocket ack", zap.String("op", f.Op), zap.String("channel", f.Channel), zap.String("key", f.Key))
		return
	}
	api, err := pubsub.ParseAPI(f.Channel)
	if err != nil {
		t.decodeErrors.Add(1)
		t.logger.Debug("websocket unknown channel", zap.String("channel", f.Channel))
		return
	}
	key := pubsub.Key(api, f.Key)
	payload, err := t.decoder.Decode(key, f.Data)
	if err != nil {
		t.decodeErrors.Add(1)
		t.logger.Warn("websocket decode failed", zap.Stringer("key", key), zap.Error(err))
		return
	}
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.OnMessage(key, payload); err != nil {
		t.logger.Warn("websocket message not accepted", zap.Stringer("key", key), zap.Error(err))
	}
}

func control(op string, key pubsub.ChannelKey) frame {
	return frame{Op: op, Channel: key.API.String(), Key: key.Sub}
}

func (t *Transport) write(conn *websocket.Conn, f frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return conn.WriteJSON(f)
}

func (t *Transport) send(op string, key pubsub.ChannelKey) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		// the key is active, so the next dial sends it
		t.logger.Debug("websocket "+op+" while disconnected", zap.Stringer("key", key))
		return nil
	}
	if err := t.write(conn, control(op, key)); err != nil {
		return errors.Wrapf(err, "%s %s", op, key)
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, key pubsub.ChannelKey) error {
	return t.send(opSubscribe, key)
}

func (t *Transport) Unsubscribe(ctx context.Context, key pubsub.ChannelKey) error {
	return t.send(opUnsubscribe, key)
}

// Close stops reconnecting, closes the connection and waits for the read
// loop to exit.
func (t *Transport) Close() error {
	t.mu.Lock()
	cancel, done, conn := t.cancel, t.done, t.conn
	t.cancel, t.done, t.conn, t.sink = nil, nil, nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		t.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		conn.Close()
	}
	<-done
	return nil
}

// Stats reports connection attempts that succeeded, frames read and frames
// that could not be decoded.
func (t *Transport) Stats() (connects, received, decodeErrors uint64) {
	return t.connects.Load(), t.received.Load(), t.decodeErrors.Load()
}
