package pubsub

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidKey is matched by every *InvalidKeyError.
	ErrInvalidKey = errors.New("invalid channel key")

	// ErrNilHandler is returned when registering a nil handler or type.
	ErrNilHandler = errors.New("nil handler")

	// ErrClosed is returned once the registry or ingest pool has shut down.
	ErrClosed = errors.New("closed")

	// ErrRegistryCorrupt is returned after the registry detected an
	// inconsistency in its own state. All further registrations are refused.
	ErrRegistryCorrupt = errors.New("registry corrupt")

	// ErrQueueFull is returned by Ingest.Submit when the shard for a key has
	// no room and the overflow policy is OverflowDrop.
	ErrQueueFull = errors.New("ingest queue full")

	// ErrAlreadyRunning is returned by Start on a running component.
	ErrAlreadyRunning = errors.New("already running")

	// ErrTypeMismatch is the cause recorded for a FaultTypeMismatch raised
	// by a handler's own type assertion.
	ErrTypeMismatch = errors.New("payload type mismatch")

	// ErrHandlerTimeout is the cause recorded for a FaultTimeout.
	ErrHandlerTimeout = errors.New("handler timed out")
)

// InvalidKeyError reports an API identifier outside the recognised set.
type InvalidKeyError struct {
	API  API
	Name string
}

func (e *InvalidKeyError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("invalid channel key: unknown api %q", e.Name)
	}
	return fmt.Sprintf("invalid channel key: unknown api %d", uint8(e.API))
}

func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

// FaultKind classifies a per-handler dispatch failure.
type FaultKind int

const (
	FaultTypeMismatch FaultKind = iota
	FaultHandlerError
	FaultHandlerPanic
	FaultTimeout
)

func (k FaultKind) String() string {
	switch k {
	case FaultTypeMismatch:
		return "type_mismatch"
	case FaultHandlerError:
		return "handler_error"
	case FaultHandlerPanic:
		return "handler_panic"
	case FaultTimeout:
		return "timeout"
	}
	return "unknown"
}

// Fault records one handler that did not consume a payload. It never
// escapes Dispatch as a returned error; it is collected in the Result and
// passed to the FaultObserver.
type Fault struct {
	Kind    FaultKind
	Key     ChannelKey
	Token   Token
	Handler string

	// Expected and Actual are set for FaultTypeMismatch.
	Expected reflect.Type
	Actual   reflect.Type

	// Err is the handler error, the recovered panic value wrapped as an
	// error, or ErrHandlerTimeout.
	Err error

	// Stack is captured for FaultHandlerPanic.
	Stack []byte
}

func (f Fault) Error() string {
	switch f.Kind {
	case FaultTypeMismatch:
		return fmt.Sprintf("%s: handler %s on %s expects %v, got %v", f.Kind, f.Handler, f.Key, f.Expected, f.Actual)
	default:
		return fmt.Sprintf("%s: handler %s on %s: %v", f.Kind, f.Handler, f.Key, f.Err)
	}
}

func (f Fault) Unwrap() error {
	return f.Err
}

// FaultObserver receives every fault recorded during dispatch. It is called
// on the dispatching goroutine and must not block.
type FaultObserver func(Fault)
