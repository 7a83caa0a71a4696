package pubsub

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExampleDecoder() {
	d := NewDecoder()
	v, _ := d.Decode(Key(Quotes, "AAPL"), []byte(`{"symbol":"AAPL","bid":101.4,"ask":101.6}`))
	q := v.(*Quote)
	fmt.Println(q.Symbol, q.Bid, q.Ask)
	// Output:
	// AAPL 101.4 101.6
}

func TestDecoderDefaults(t *testing.T) {
	d := NewDecoder()
	v, err := d.Decode(Key(Trades, "MSFT"), []byte(`{"symbol":"MSFT","price":410,"size":5,"side":"buy"}`))
	require.NoError(t, err)
	assert.Equal(t, &Trade{Symbol: "MSFT", Price: 410, Size: 5, Side: "buy"}, v)

	v, err = d.Decode(Key(OrderBook, "MSFT"), []byte(`{"symbol":"MSFT","bids":[{"price":1,"size":2}],"snapshot":true}`))
	require.NoError(t, err)
	book := v.(*Book)
	assert.Equal(t, []Level{{Price: 1, Size: 2}}, book.Bids)
	assert.True(t, book.Snapshot)

	v, err = d.Decode(Key(Status, NoSubKey), []byte(`{"state":"open"}`))
	require.NoError(t, err)
	assert.Equal(t, "open", v.(*Event).StringField("state"))
}

func TestDecoderErrors(t *testing.T) {
	d := NewDecoder()
	_, err := d.Decode(Key(API(99), ""), []byte(`{}`))
	assert.True(t, errors.Is(err, ErrInvalidKey))
	_, err = d.Decode(Key(Bars, "X"), []byte(`[`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode bars/X")
}

func TestDecoderRegister(t *testing.T) {
	d := NewDecoder()
	require.NoError(t, d.Register(News, func(key ChannelKey, data []byte) (any, error) {
		return string(data), nil
	}))
	v, err := d.Decode(Key(News, NoSubKey), []byte("headline"))
	require.NoError(t, err)
	assert.Equal(t, "headline", v)
	assert.Error(t, d.Register(API(0), JSON[Quote]()))
}

func TestEvent(t *testing.T) {
	ev := NewEvent(Key(News, "tech"), Fields{"headline": "x", "count": 3.0, "timestamp": "2024-01-02 03:04:05.000000"})
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, "x", ev.StringField("headline"))
	assert.Equal(t, int64(3), ev.IntField("count"))
	assert.Equal(t, "", ev.StringField("missing"))
	ev.SetField("count", 4.5)
	assert.Equal(t, 4.5, ev.FloatField("count"))
	assert.Equal(t, `news/tech {"count":4.5,"headline":"x","timestamp":"2024-01-02 03:04:05.000000"}`, ev.String())

	parsed, err := ParseEvent(Key(News, "tech"), ev.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ev, parsed)

	_, err = ParseEvent(Key(News, "tech"), []byte(`[1]`))
	assert.Error(t, err)
}

func TestEventRFC3339(t *testing.T) {
	ev := NewEvent(Key(Status, NoSubKey), Fields{"timestamp": "2024-01-02T03:04:05Z"})
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ev.Timestamp)
	assert.Empty(t, ev.Fields)
}

func TestChanHandler(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r)
	h := NewChanHandler[*Quote](1)
	_, err := Subscribe[*Quote](r, aapl, h)
	require.NoError(t, err)

	d.Dispatch(context.Background(), aapl, &Quote{Price: 1})
	d.Dispatch(context.Background(), aapl, &Quote{Price: 2})
	assert.Equal(t, 1.0, (<-h.C).Price)
	assert.Equal(t, uint64(1), h.Dropped())

	h.Close()
	h.Close()
	res := d.Dispatch(context.Background(), aapl, &Quote{Price: 3})
	require.Len(t, res.Faults, 1)
	assert.True(t, errors.Is(res.Faults[0], ErrClosed))
	_, open := <-h.C
	assert.False(t, open)
}
