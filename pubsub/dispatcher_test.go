package pubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func recordQuote(log *callLog, name string) func(context.Context, *Quote) error {
	return func(ctx context.Context, q *Quote) error {
		log.add(name)
		return nil
	}
}

func TestDispatchOrder(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r)
	log := &callLog{}
	SubscribeFunc(r, aapl, recordQuote(log, "h1"))
	SubscribeFunc(r, aapl, recordQuote(log, "h2"))
	SubscribeFunc(r, Key(Quotes, "MSFT"), recordQuote(log, "other"))

	res := d.Dispatch(context.Background(), aapl, &Quote{Symbol: "AAPL", Price: 101.5})
	assert.Equal(t, []string{"h1", "h2"}, log.get())
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Invoked())
	assert.True(t, res.OK())
}

func TestDispatchNoHandlers(t *testing.T) {
	d := NewDispatcher(NewRegistry())
	res := d.Dispatch(context.Background(), aapl, &Quote{})
	assert.Equal(t, 0, res.Matched)
	assert.True(t, res.OK())
	assert.Equal(t, uint64(1), d.Stats().Unrouted)
}

func TestDispatchHandlerErrorIsolated(t *testing.T) {
	r := NewRegistry()
	var observed []Fault
	d := NewDispatcher(r, WithFaultObserver(func(f Fault) { observed = append(observed, f) }))
	log := &callLog{}
	boom := errors.New("boom")
	t1, _ := SubscribeFunc(r, aapl, func(ctx context.Context, q *Quote) error {
		log.add("h1")
		return boom
	})
	SubscribeFunc(r, aapl, recordQuote(log, "h2"))

	res := d.Dispatch(context.Background(), aapl, &Quote{})
	assert.Equal(t, []string{"h1", "h2"}, log.get())
	require.Len(t, res.Faults, 1)
	f := res.Faults[0]
	assert.Equal(t, FaultHandlerError, f.Kind)
	assert.Equal(t, aapl, f.Key)
	assert.Equal(t, t1, f.Token)
	assert.True(t, errors.Is(f, boom))
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Invoked())
	assert.Equal(t, res.Faults, observed)
}

func TestDispatchPanicIsolated(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r)
	log := &callLog{}
	SubscribeFunc(r, aapl, func(ctx context.Context, q *Quote) error {
		panic("handler exploded")
	})
	SubscribeFunc(r, aapl, recordQuote(log, "h2"))

	var res Result
	assert.NotPanics(t, func() {
		res = d.Dispatch(context.Background(), aapl, &Quote{})
	})
	assert.Equal(t, []string{"h2"}, log.get())
	require.Len(t, res.Faults, 1)
	assert.Equal(t, FaultHandlerPanic, res.Faults[0].Kind)
	assert.Contains(t, res.Faults[0].Error(), "handler exploded")
	assert.NotEmpty(t, res.Faults[0].Stack)
	assert.Equal(t, uint64(1), d.Stats().Panics)
}

func TestDispatchTypeMismatch(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r)
	log := &callLog{}
	SubscribeFunc(r, aapl, func(ctx context.Context, tr *Trade) error {
		log.add("trade")
		return nil
	})
	SubscribeFunc(r, aapl, recordQuote(log, "quote"))

	res := d.Dispatch(context.Background(), aapl, &Quote{Price: 1})
	assert.Equal(t, []string{"quote"}, log.get())
	require.Len(t, res.Faults, 1)
	f := res.Faults[0]
	assert.Equal(t, FaultTypeMismatch, f.Kind)
	assert.Equal(t, TypeOf[*Trade](), f.Expected)
	assert.Equal(t, TypeOf[*Quote](), f.Actual)
	assert.Equal(t, 1, res.Invoked())
	assert.Equal(t, uint64(1), d.Stats().TypeMismatch)
}

type stringer interface{ String() string }

func TestDispatchInterfaceHandler(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r)
	var got []string
	SubscribeFunc(r, Key(News, NoSubKey), func(ctx context.Context, s stringer) error {
		if s == nil {
			got = append(got, "nil")
			return nil
		}
		got = append(got, s.String())
		return nil
	})
	SubscribeFunc(r, Key(News, NoSubKey), func(ctx context.Context, v any) error {
		got = append(got, "any")
		return nil
	})

	ev := NewEvent(Key(News, NoSubKey), Fields{"headline": "x"})
	res := d.Dispatch(context.Background(), Key(News, NoSubKey), ev)
	assert.True(t, res.OK())
	assert.Equal(t, []string{ev.String(), "any"}, got)

	// nil only suits the interface handlers
	res = d.Dispatch(context.Background(), Key(News, NoSubKey), nil)
	assert.True(t, res.OK())
	assert.Equal(t, []string{ev.String(), "any", "nil", "any"}, got)
}

type prices []float64

func TestDispatchNamedTypeMismatch(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r)
	called := false
	SubscribeFunc(r, aapl, func(ctx context.Context, p []float64) error {
		called = true
		return nil
	})
	var got prices
	SubscribeFunc(r, aapl, func(ctx context.Context, p prices) error {
		got = p
		return nil
	})

	res := d.Dispatch(context.Background(), aapl, prices{101.5})
	assert.False(t, called)
	assert.Equal(t, prices{101.5}, got)
	require.Len(t, res.Faults, 1)
	assert.Equal(t, FaultTypeMismatch, res.Faults[0].Kind)
	assert.Equal(t, TypeOf[[]float64](), res.Faults[0].Expected)
	assert.Equal(t, 1, res.Succeeded)
}

func TestInvokeRefusesWrongType(t *testing.T) {
	r := NewRegistry()
	called := false
	tok, err := SubscribeFunc(r, aapl, func(ctx context.Context, p []float64) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	entry := r.Lookup(aapl)[0]
	require.Equal(t, tok, entry.Token)

	f, ok := execute(context.Background(), aapl, entry, prices{1})
	assert.False(t, ok)
	assert.False(t, called)
	assert.Equal(t, FaultTypeMismatch, f.Kind)
	assert.True(t, errors.Is(f, ErrTypeMismatch))
}

func TestDispatchNilPayloadMismatch(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r)
	SubscribeFunc(r, aapl, nopHandler)
	res := d.Dispatch(context.Background(), aapl, nil)
	require.Len(t, res.Faults, 1)
	assert.Equal(t, FaultTypeMismatch, res.Faults[0].Kind)
}

func TestDispatchCancelledSkipsRemaining(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r)
	ctx, cancel := context.WithCancel(context.Background())
	log := &callLog{}
	SubscribeFunc(r, aapl, func(ctx context.Context, q *Quote) error {
		log.add("h1")
		cancel()
		return nil
	})
	SubscribeFunc(r, aapl, recordQuote(log, "h2"))
	SubscribeFunc(r, aapl, recordQuote(log, "h3"))

	res := d.Dispatch(ctx, aapl, &Quote{})
	assert.Equal(t, []string{"h1"}, log.get())
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Skipped)
	assert.False(t, res.OK())
}

func TestDispatchCancelledFinishesCurrentHandler(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, WithHandlerTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Bool
	SubscribeFunc(r, aapl, func(hctx context.Context, q *Quote) error {
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	log := &callLog{}
	SubscribeFunc(r, aapl, recordQuote(log, "h2"))

	time.AfterFunc(10*time.Millisecond, cancel)
	res := d.Dispatch(ctx, aapl, &Quote{})
	assert.True(t, finished.Load(), "dispatch returned before the running handler")
	assert.Empty(t, res.Faults)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, log.get())
	assert.Equal(t, uint64(0), d.Stats().Timeouts)
}

func TestDispatchTimeout(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, WithHandlerTimeout(20*time.Millisecond))
	log := &callLog{}
	release := make(chan struct{})
	defer close(release)
	SubscribeFunc(r, aapl, func(ctx context.Context, q *Quote) error {
		<-release
		return nil
	})
	SubscribeFunc(r, aapl, recordQuote(log, "h2"))

	start := time.Now()
	res := d.Dispatch(context.Background(), aapl, &Quote{})
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"h2"}, log.get())
	require.Len(t, res.Faults, 1)
	assert.Equal(t, FaultTimeout, res.Faults[0].Kind)
	assert.True(t, errors.Is(res.Faults[0], ErrHandlerTimeout))
}

func TestDispatchTimeoutCancelsAbandonedHandler(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, WithHandlerTimeout(10*time.Millisecond))
	cancelled := make(chan error, 1)
	release := make(chan struct{})
	defer close(release)
	SubscribeFunc(r, aapl, func(ctx context.Context, q *Quote) error {
		<-ctx.Done()
		cancelled <- ctx.Err()
		<-release
		return nil
	})

	res := d.Dispatch(context.Background(), aapl, &Quote{})
	require.Len(t, res.Faults, 1)
	assert.Equal(t, FaultTimeout, res.Faults[0].Kind)
	select {
	case err := <-cancelled:
		assert.Equal(t, context.DeadlineExceeded, err)
	case <-time.After(time.Second):
		t.Fatal("abandoned handler never saw its context end")
	}
}

func TestDispatchTimeoutFastHandler(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, WithHandlerTimeout(time.Second))
	SubscribeFunc(r, aapl, func(ctx context.Context, q *Quote) error {
		return errors.New("fast failure")
	})
	res := d.Dispatch(context.Background(), aapl, &Quote{})
	require.Len(t, res.Faults, 1)
	assert.Equal(t, FaultHandlerError, res.Faults[0].Kind)
}

func TestDispatchObserverPanic(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, WithFaultObserver(func(Fault) { panic("observer") }))
	SubscribeFunc(r, aapl, func(ctx context.Context, q *Quote) error { return errors.New("x") })
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), aapl, &Quote{})
	})
}

// Two handlers on AAPL, remove them one by one.
func TestQuoteScenario(t *testing.T) {
	rec := &intentRecorder{}
	c := NewCoordinator(rec)
	r := NewRegistry(WithWatcher(c))
	d := NewDispatcher(r)
	var got []string
	ta, err := SubscribeFunc(r, aapl, func(ctx context.Context, q *Quote) error {
		got = append(got, fmt.Sprintf("A %v", q.Price))
		return nil
	})
	require.NoError(t, err)
	tb, err := SubscribeFunc(r, aapl, func(ctx context.Context, q *Quote) error {
		got = append(got, fmt.Sprintf("B %v", q.Price))
		return nil
	})
	require.NoError(t, err)

	d.Dispatch(context.Background(), aapl, &Quote{Price: 101.5})
	assert.Equal(t, []string{"A 101.5", "B 101.5"}, got)

	require.True(t, r.Unregister(ta))
	d.Dispatch(context.Background(), aapl, &Quote{Price: 102})
	assert.Equal(t, []string{"A 101.5", "B 101.5", "B 102"}, got)
	c.Flush(context.Background())
	assert.Equal(t, []Intent{{OpSubscribe, aapl}}, rec.get())

	require.True(t, r.Unregister(tb))
	c.Flush(context.Background())
	assert.Equal(t, []Intent{{OpSubscribe, aapl}, {OpUnsubscribe, aapl}}, rec.get())
}
