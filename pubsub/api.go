package pubsub

import (
	"strings"

	"github.com/pkg/errors"
)

// API identifies a remote channel category. The set is closed: only the
// constants below are recognised.
type API uint8

const (
	apiInvalid API = iota
	Quotes
	Trades
	Bars
	OrderBook
	News
	Status
	apiEnd
)

var apiNames = [...]string{
	apiInvalid: "invalid",
	Quotes:     "quotes",
	Trades:     "trades",
	Bars:       "bars",
	OrderBook:  "orderbook",
	News:       "news",
	Status:     "status",
}

// APIs returns every recognised API identifier in declaration order.
func APIs() []API {
	ret := make([]API, 0, apiEnd-1)
	for a := Quotes; a < apiEnd; a++ {
		ret = append(ret, a)
	}
	return ret
}

// Valid reports whether a is one of the recognised identifiers.
func (a API) Valid() bool {
	return a > apiInvalid && a < apiEnd
}

func (a API) String() string {
	if !a.Valid() {
		return apiNames[apiInvalid]
	}
	return apiNames[a]
}

// ParseAPI looks up an identifier by name, case-insensitively.
func ParseAPI(name string) (API, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a := Quotes; a < apiEnd; a++ {
		if apiNames[a] == name {
			return a, nil
		}
	}
	return apiInvalid, &InvalidKeyError{Name: name}
}

func (a API) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, &InvalidKeyError{API: a}
	}
	return []byte(a.String()), nil
}

func (a *API) UnmarshalText(text []byte) error {
	v, err := ParseAPI(string(text))
	if err != nil {
		return errors.Wrap(err, "unmarshal api")
	}
	*a = v
	return nil
}
