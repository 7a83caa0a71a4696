package pubsub

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// DecodeFunc turns a raw message body into a typed payload.
type DecodeFunc func(key ChannelKey, data []byte) (any, error)

// JSON decodes the body into a *T.
func JSON[T any]() DecodeFunc {
	return func(key ChannelKey, data []byte) (any, error) {
		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func decodeEvent(key ChannelKey, data []byte) (any, error) {
	return ParseEvent(key, data)
}

// Decoder maps each API to the function that decodes its bodies. Transports
// use it so handlers receive typed payloads.
type Decoder struct {
	mu    sync.RWMutex
	funcs map[API]DecodeFunc
}

// NewDecoder returns a decoder with the default models: *Quote, *Trade,
// *Bar, *Book and *Event for news and status.
func NewDecoder() *Decoder {
	return &Decoder{funcs: map[API]DecodeFunc{
		Quotes:    JSON[Quote](),
		Trades:    JSON[Trade](),
		Bars:      JSON[Bar](),
		OrderBook: JSON[Book](),
		News:      decodeEvent,
		Status:    decodeEvent,
	}}
}

// Register replaces the decode function for api.
func (d *Decoder) Register(api API, fn DecodeFunc) error {
	if !api.Valid() {
		return &InvalidKeyError{API: api}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.funcs[api] = fn
	return nil
}

// Decode decodes data received on key.
func (d *Decoder) Decode(key ChannelKey, data []byte) (any, error) {
	if !key.Valid() {
		return nil, &InvalidKeyError{API: key.API}
	}
	d.mu.RLock()
	fn := d.funcs[key.API]
	d.mu.RUnlock()
	if fn == nil {
		return nil, errors.Errorf("no decoder for %s", key.API)
	}
	v, err := fn(key, data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", key)
	}
	return v, nil
}
