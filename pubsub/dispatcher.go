package pubsub

import (
	"context"
	"reflect"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Result describes one Dispatch call.
type Result struct {
	Key ChannelKey

	// Matched is the number of entries the registry returned.
	Matched int

	// Succeeded is the number of handlers that returned nil.
	Succeeded int

	// Skipped is the number of handlers not invoked because the dispatch
	// context was cancelled first.
	Skipped int

	Faults []Fault
}

// Invoked is the number of handlers actually called.
func (r Result) Invoked() int {
	n := r.Matched - r.Skipped
	for _, f := range r.Faults {
		if f.Kind == FaultTypeMismatch {
			n--
		}
	}
	return n
}

// OK reports whether every matched handler succeeded.
func (r Result) OK() bool {
	return len(r.Faults) == 0 && r.Skipped == 0
}

// Dispatcher routes a decoded payload to the handlers registered for its
// key. Handlers run synchronously in registration order on the calling
// goroutine; a fault in one is recorded and the rest still run.
type Dispatcher struct {
	registry *Registry
	observer FaultObserver
	timeout  time.Duration
	logger   *zap.Logger

	dispatched atomic.Uint64
	unrouted   atomic.Uint64
	succeeded  atomic.Uint64
	skipped    atomic.Uint64
	faults     [FaultTimeout + 1]atomic.Uint64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFaultObserver sets the callback receiving each fault.
func WithFaultObserver(f FaultObserver) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = f
	}
}

// WithHandlerTimeout bounds each handler invocation. Zero, the default,
// runs handlers inline with no bound. With a positive timeout a handler
// still running at the deadline is recorded as FaultTimeout and abandoned:
// its context is cancelled and dispatch continues with the next handler.
//
// An abandoned handler keeps running until it returns. If it ignores its
// context, the next message for the same key can reach it while the earlier
// call is still in progress, so per-key ordering only holds for handlers
// that finish within the timeout.
func WithHandlerTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers payload to every handler matching key. It never panics
// and never returns an error for a single handler's failure. Once ctx is
// done, handlers not yet started are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, key ChannelKey, payload any) Result {
	d.dispatched.Add(1)
	entries := d.registry.Lookup(key)
	res := Result{Key: key, Matched: len(entries)}
	if len(entries) == 0 {
		d.unrouted.Add(1)
		return res
	}

	for i, entry := range entries {
		if ctx.Err() != nil {
			res.Skipped = len(entries) - i
			d.skipped.Add(uint64(res.Skipped))
			break
		}
		if !entry.Accepts(payload) {
			d.fault(&res, Fault{
				Kind:     FaultTypeMismatch,
				Key:      key,
				Token:    entry.Token,
				Handler:  entry.Name,
				Expected: entry.Type,
				Actual:   reflect.TypeOf(payload),
			})
			continue
		}
		if f, ok := d.invoke(ctx, key, entry, payload); !ok {
			d.fault(&res, f)
			continue
		}
		res.Succeeded++
		d.succeeded.Add(1)
	}
	return res
}

// invoke runs one handler. With a timeout the handler runs on its own
// goroutine and is abandoned at the deadline. Cancelling ctx is passed on to
// the handler but does not abandon it: shutdown lets the current invocation
// finish, bounded only by the timeout.
func (d *Dispatcher) invoke(ctx context.Context, key ChannelKey, entry HandlerEntry, payload any) (Fault, bool) {
	if d.timeout <= 0 {
		return execute(ctx, key, entry, payload)
	}

	hctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	type outcome struct {
		fault Fault
		ok    bool
	}
	done := make(chan outcome, 1)
	go func() {
		f, ok := execute(hctx, key, entry, payload)
		done <- outcome{f, ok}
	}()

	select {
	case o := <-done:
		return o.fault, o.ok
	case <-timer.C:
		// the handler may have finished at the same instant
		select {
		case o := <-done:
			return o.fault, o.ok
		default:
		}
		return Fault{
			Kind:    FaultTimeout,
			Key:     key,
			Token:   entry.Token,
			Handler: entry.Name,
			Err:     errors.Wrapf(ErrHandlerTimeout, "after %s", d.timeout),
		}, false
	}
}

// execute calls the handler, converting an error or panic into a Fault.
func execute(ctx context.Context, key ChannelKey, entry HandlerEntry, payload any) (f Fault, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f = Fault{
				Kind:    FaultHandlerPanic,
				Key:     key,
				Token:   entry.Token,
				Handler: entry.Name,
				Err:     errors.Errorf("panic: %v", r),
				Stack:   debug.Stack(),
			}
			ok = false
		}
	}()

	if err := entry.invoke(ctx, payload); err != nil {
		if errors.Is(err, ErrTypeMismatch) {
			return Fault{
				Kind:     FaultTypeMismatch,
				Key:      key,
				Token:    entry.Token,
				Handler:  entry.Name,
				Expected: entry.Type,
				Actual:   reflect.TypeOf(payload),
				Err:      err,
			}, false
		}
		return Fault{
			Kind:    FaultHandlerError,
			Key:     key,
			Token:   entry.Token,
			Handler: entry.Name,
			Err:     err,
		}, false
	}
	return Fault{}, true
}

func (d *Dispatcher) fault(res *Result, f Fault) {
	res.Faults = append(res.Faults, f)
	d.faults[f.Kind].Add(1)
	d.logger.Warn("dispatch fault",
		zap.Stringer("kind", f.Kind),
		zap.Stringer("key", f.Key),
		zap.String("handler", f.Handler),
		zap.Error(f))
	if d.observer == nil {
		return
	}
	// a panicking observer must not take down the ingestion path
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("fault observer panicked", zap.Any("panic", r))
		}
	}()
	d.observer(f)
}

// DispatcherStats is a point-in-time copy of the dispatcher counters.
type DispatcherStats struct {
	Dispatched    uint64
	Unrouted      uint64
	Succeeded     uint64
	Skipped       uint64
	TypeMismatch  uint64
	HandlerErrors uint64
	Panics        uint64
	Timeouts      uint64
}

// Faults returns the total number of faults of every kind.
func (s DispatcherStats) Faults() uint64 {
	return s.TypeMismatch + s.HandlerErrors + s.Panics + s.Timeouts
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched:    d.dispatched.Load(),
		Unrouted:      d.unrouted.Load(),
		Succeeded:     d.succeeded.Load(),
		Skipped:       d.skipped.Load(),
		TypeMismatch:  d.faults[FaultTypeMismatch].Load(),
		HandlerErrors: d.faults[FaultHandlerError].Load(),
		Panics:        d.faults[FaultHandlerPanic].Load(),
		Timeouts:      d.faults[FaultTimeout].Load(),
	}
}
