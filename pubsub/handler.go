package pubsub

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MessageHandler consumes decoded messages of type T.
type MessageHandler[T any] interface {
	HandleMessage(ctx context.Context, msg T) error
}

// HandlerFunc adapts a function to a MessageHandler.
type HandlerFunc[T any] func(ctx context.Context, msg T) error

func (f HandlerFunc[T]) HandleMessage(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// Token identifies exactly one registration.
type Token string

func newToken() Token {
	return Token(uuid.NewString())
}

// InvokeFunc is the type-erased form of a handler stored in the registry.
// The dispatcher only calls it with payloads the entry Accepts; anything
// else returns an error wrapping ErrTypeMismatch without calling the handler.
type InvokeFunc func(ctx context.Context, payload any) error

// HandlerEntry is one registration. Entries are immutable once created.
type HandlerEntry struct {
	Token Token
	Key   ChannelKey
	Type  reflect.Type
	Name  string

	seq    uint64
	invoke InvokeFunc
}

// Accepts reports whether payload may be passed to the handler. It follows
// the rules of a type assertion: a concrete Type needs the identical dynamic
// type, an interface Type needs it implemented. A nil payload is only
// accepted by handlers of interface type.
func (e HandlerEntry) Accepts(payload any) bool {
	if payload == nil {
		return e.Type.Kind() == reflect.Interface
	}
	pt := reflect.TypeOf(payload)
	if e.Type.Kind() == reflect.Interface {
		return pt.Implements(e.Type)
	}
	return pt == e.Type
}

// TypeOf returns the type descriptor for T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Subscribe registers h for key with T as the expected payload type.
func Subscribe[T any](r *Registry, key ChannelKey, h MessageHandler[T]) (Token, error) {
	if h == nil {
		return "", ErrNilHandler
	}
	invoke := func(ctx context.Context, payload any) error {
		var msg T
		if payload != nil {
			m, ok := payload.(T)
			if !ok {
				return errors.Wrapf(ErrTypeMismatch, "%T is not %s", payload, TypeOf[T]())
			}
			msg = m
		}
		return h.HandleMessage(ctx, msg)
	}
	return r.Register(key, TypeOf[T](), handlerName(h), invoke)
}

// SubscribeFunc is Subscribe for a plain function.
func SubscribeFunc[T any](r *Registry, key ChannelKey, f func(ctx context.Context, msg T) error) (Token, error) {
	if f == nil {
		return "", ErrNilHandler
	}
	return Subscribe[T](r, key, HandlerFunc[T](f))
}

func handlerName(h any) string {
	if s, ok := h.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", h)
}
