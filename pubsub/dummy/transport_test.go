package dummy

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnybug/feedmux/pubsub"
)

var aapl = pubsub.Key(pubsub.Quotes, "AAPL")

type sink struct {
	active []pubsub.ChannelKey
	got    []Frame
	err    error
}

func (s *sink) OnMessage(key pubsub.ChannelKey, payload any) error {
	s.got = append(s.got, Frame{key, payload})
	return s.err
}

func (s *sink) ActiveKeys() []pubsub.ChannelKey { return s.active }

func TestReplayOnlySubscribed(t *testing.T) {
	tr := New()
	s := &sink{active: []pubsub.ChannelKey{pubsub.Key(pubsub.News, pubsub.NoSubKey)}}
	require.NoError(t, tr.Connect(context.Background(), s))
	require.NoError(t, tr.Subscribe(context.Background(), aapl))

	frames := []Frame{
		{aapl, 1},
		{pubsub.Key(pubsub.Quotes, "MSFT"), 2},
		{pubsub.Key(pubsub.News, "tech"), 3},
	}
	require.NoError(t, tr.Replay(frames...))
	assert.Equal(t, []Frame{frames[0], frames[2]}, s.got)

	require.NoError(t, tr.Unsubscribe(context.Background(), aapl))
	assert.False(t, tr.Subscribed(aapl))
	assert.Equal(t, []pubsub.Intent{
		{Op: pubsub.OpSubscribe, Key: aapl},
		{Op: pubsub.OpUnsubscribe, Key: aapl},
	}, tr.Intents())
}

func TestReplaySinkError(t *testing.T) {
	tr := New()
	s := &sink{active: []pubsub.ChannelKey{aapl}, err: pubsub.ErrQueueFull}
	require.NoError(t, tr.Connect(context.Background(), s))
	assert.Equal(t, pubsub.ErrQueueFull, tr.Replay(Frame{aapl, 1}, Frame{aapl, 2}))
	assert.Len(t, s.got, 1)
}

func TestReconnect(t *testing.T) {
	tr := New()
	s := &sink{}
	require.NoError(t, tr.Connect(context.Background(), s))
	require.NoError(t, tr.Subscribe(context.Background(), aapl))

	// only keys the sink still reports come back
	require.NoError(t, tr.Reconnect(context.Background()))
	assert.False(t, tr.Subscribed(aapl))
	s.active = []pubsub.ChannelKey{aapl}
	require.NoError(t, tr.Reconnect(context.Background()))
	assert.True(t, tr.Subscribed(aapl))
	assert.Equal(t, 3, tr.Connects())

	require.NoError(t, tr.Close())
	assert.True(t, tr.Closed())
	assert.NoError(t, tr.Replay(Frame{aapl, 1}))
}

func TestIntentError(t *testing.T) {
	tr := New()
	tr.Err = errors.New("offline")
	assert.Error(t, tr.Subscribe(context.Background(), aapl))
	assert.False(t, tr.Subscribed(aapl))
}

func TestPublisher(t *testing.T) {
	p := &Publisher{}
	require.NoError(t, p.Emit(aapl, &pubsub.Quote{Price: 1}))
	assert.Equal(t, []Frame{{aapl, &pubsub.Quote{Price: 1}}}, p.Frames)
}
