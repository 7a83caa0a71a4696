package pubsub

import (
	"strings"

	"github.com/pkg/errors"
)

// NoSubKey is the sub-key of a ChannelKey that addresses all traffic for
// its API rather than a single stream.
const NoSubKey = ""

// ChannelKey addresses one stream: an API plus an optional sub-key such as a
// symbol or topic. It is comparable and safe to use as a map key.
type ChannelKey struct {
	API API
	Sub string
}

// Key builds a ChannelKey. Pass NoSubKey for the whole API.
func Key(api API, sub string) ChannelKey {
	return ChannelKey{API: api, Sub: sub}
}

// HasSub reports whether the key names a specific stream.
func (k ChannelKey) HasSub() bool {
	return k.Sub != NoSubKey
}

// Root returns the key with the sub-key removed.
func (k ChannelKey) Root() ChannelKey {
	return ChannelKey{API: k.API}
}

// Valid reports whether the API identifier is recognised.
func (k ChannelKey) Valid() bool {
	return k.API.Valid()
}

// String renders the key as "api" or "api/sub".
func (k ChannelKey) String() string {
	if !k.HasSub() {
		return k.API.String()
	}
	return k.API.String() + "/" + k.Sub
}

// ParseKey is the inverse of String. The sub-key may itself contain slashes.
func ParseKey(s string) (ChannelKey, error) {
	parts := strings.SplitN(s, "/", 2)
	api, err := ParseAPI(parts[0])
	if err != nil {
		return ChannelKey{}, errors.Wrapf(err, "parse key %q", s)
	}
	key := ChannelKey{API: api}
	if len(parts) == 2 {
		key.Sub = parts[1]
	}
	return key, nil
}

func (k ChannelKey) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, &InvalidKeyError{API: k.API}
	}
	return []byte(k.String()), nil
}

func (k *ChannelKey) UnmarshalText(text []byte) error {
	v, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
