package pubsub

import "github.com/pkg/errors"

// MatchPolicy decides which registrations a lookup for a key returns.
type MatchPolicy int

const (
	// MatchExact returns only entries registered for the identical key.
	MatchExact MatchPolicy = iota

	// MatchWildcard also returns entries registered with NoSubKey for the
	// key's API, so a root registration receives every sub-keyed stream.
	MatchWildcard
)

func (p MatchPolicy) String() string {
	if p == MatchWildcard {
		return "wildcard"
	}
	return "exact"
}

// ParseMatchPolicy accepts "exact" or "wildcard". Empty means exact.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch s {
	case "", "exact":
		return MatchExact, nil
	case "wildcard":
		return MatchWildcard, nil
	}
	return MatchExact, errors.Errorf("unknown match policy %q", s)
}

// Matches reports whether traffic on key is delivered to a registration on
// pattern under policy p.
func (p MatchPolicy) Matches(pattern, key ChannelKey) bool {
	if pattern == key {
		return true
	}
	return p == MatchWildcard && !pattern.HasSub() && pattern.API == key.API
}

// mergeBySeq merges two slices already ordered by registration sequence.
func mergeBySeq(a, b []HandlerEntry) []HandlerEntry {
	ret := make([]HandlerEntry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].seq < b[j].seq {
			ret = append(ret, a[i])
			i++
		} else {
			ret = append(ret, b[j])
			j++
		}
	}
	ret = append(ret, a[i:]...)
	return append(ret, b[j:]...)
}
