package pubsub

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Watcher is told when a key gains its first registration or loses its last
// one. Calls are made while the registry's writer lock is held, in the order
// the transitions happened, so implementations must be quick and must not
// call back into the registry.
type Watcher interface {
	KeyActivated(key ChannelKey)
	KeyDeactivated(key ChannelKey)
}

// snapshot is never modified after it is published.
type snapshot struct {
	entries map[ChannelKey][]HandlerEntry
	byToken map[Token]ChannelKey
}

var emptySnapshot = &snapshot{
	entries: map[ChannelKey][]HandlerEntry{},
	byToken: map[Token]ChannelKey{},
}

// Registry maps channel keys to ordered handler registrations.
//
// Readers load an immutable snapshot without locking. Writers are serialised
// by a mutex, build a new snapshot that shares every untouched slice with
// the old one, and publish it atomically. Lookups therefore never observe a
// half-applied change and never wait on registration churn.
type Registry struct {
	mu       sync.Mutex
	snap     atomic.Pointer[snapshot]
	seq      uint64
	policy   MatchPolicy
	watchers []Watcher
	err      error
	logger   *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMatchPolicy sets how lookups treat registrations without a sub-key.
func WithMatchPolicy(p MatchPolicy) RegistryOption {
	return func(r *Registry) {
		r.policy = p
	}
}

// WithWatcher adds a transition watcher.
func WithWatcher(w Watcher) RegistryOption {
	return func(r *Registry) {
		r.watchers = append(r.watchers, w)
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		policy: MatchExact,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.snap.Store(emptySnapshot)
	return r
}

// Policy returns the registry's match policy.
func (r *Registry) Policy() MatchPolicy {
	return r.policy
}

// Register appends a handler for key expecting payloads assignable to typ.
// The returned token is unique per call, even for the same handler.
func (r *Registry) Register(key ChannelKey, typ reflect.Type, name string, invoke InvokeFunc) (Token, error) {
	if !key.Valid() {
		return "", &InvalidKeyError{API: key.API}
	}
	if typ == nil || invoke == nil {
		return "", ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}

	old := r.snap.Load()
	r.seq++
	entry := HandlerEntry{
		Token:  newToken(),
		Key:    key,
		Type:   typ,
		Name:   name,
		seq:    r.seq,
		invoke: invoke,
	}

	prev := old.entries[key]
	list := make([]HandlerEntry, len(prev), len(prev)+1)
	copy(list, prev)
	list = append(list, entry)

	next := old.clone()
	next.entries[key] = list
	next.byToken[entry.Token] = key
	r.snap.Store(next)

	r.logger.Debug("handler registered",
		zap.Stringer("key", key),
		zap.String("token", string(entry.Token)),
		zap.Stringer("type", typ))

	if len(prev) == 0 {
		for _, w := range r.watchers {
			w.KeyActivated(key)
		}
	}
	return entry.Token, nil
}

// Unregister removes exactly the registration identified by token. It
// returns false if the token is unknown, which includes tokens that were
// already removed.
func (r *Registry) Unregister(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false
	}

	old := r.snap.Load()
	key, ok := old.byToken[token]
	if !ok {
		return false
	}
	prev := old.entries[key]
	idx := -1
	for i, e := range prev {
		if e.Token == token {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.err = errors.Wrapf(ErrRegistryCorrupt, "token %s indexed under %s but not listed", token, key)
		r.logger.Error("registry refusing further operations", zap.Error(r.err))
		return false
	}

	next := old.clone()
	delete(next.byToken, token)
	if len(prev) == 1 {
		delete(next.entries, key)
	} else {
		list := make([]HandlerEntry, 0, len(prev)-1)
		list = append(list, prev[:idx]...)
		list = append(list, prev[idx+1:]...)
		next.entries[key] = list
	}
	r.snap.Store(next)

	r.logger.Debug("handler unregistered", zap.Stringer("key", key), zap.String("token", string(token)))

	if len(prev) == 1 {
		for _, w := range r.watchers {
			w.KeyDeactivated(key)
		}
	}
	return true
}

// Lookup returns the entries that receive traffic for key, in registration
// order. The slice is a private copy.
func (r *Registry) Lookup(key ChannelKey) []HandlerEntry {
	snap := r.snap.Load()
	exact := snap.entries[key]
	if r.policy == MatchWildcard && key.HasSub() {
		if root := snap.entries[key.Root()]; len(root) > 0 {
			return mergeBySeq(exact, root)
		}
	}
	if len(exact) == 0 {
		return nil
	}
	ret := make([]HandlerEntry, len(exact))
	copy(ret, exact)
	return ret
}

// Keys returns every key with at least one registration, sorted.
func (r *Registry) Keys() []ChannelKey {
	snap := r.snap.Load()
	keys := make([]ChannelKey, 0, len(snap.entries))
	for k := range snap.entries {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Len returns the total number of registrations.
func (r *Registry) Len() int {
	return len(r.snap.Load().byToken)
}

// Err returns ErrClosed after Close, a wrapped ErrRegistryCorrupt if an
// inconsistency was detected, and nil otherwise.
func (r *Registry) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Clear removes every registration. Watchers see a deactivation for each
// key that had entries, in key order.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

// Close clears the registry and refuses all further registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
	if r.err == nil {
		r.err = ErrClosed
	}
}

func (r *Registry) clearLocked() {
	old := r.snap.Swap(emptySnapshot)
	keys := make([]ChannelKey, 0, len(old.entries))
	for k := range old.entries {
		keys = append(keys, k)
	}
	SortKeys(keys)
	for _, k := range keys {
		for _, w := range r.watchers {
			w.KeyDeactivated(k)
		}
	}
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		entries: make(map[ChannelKey][]HandlerEntry, len(s.entries)+1),
		byToken: make(map[Token]ChannelKey, len(s.byToken)+1),
	}
	for k, v := range s.entries {
		next.entries[k] = v
	}
	for t, k := range s.byToken {
		next.byToken[t] = k
	}
	return next
}

// SortKeys orders keys by API then sub-key.
func SortKeys(keys []ChannelKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].API != keys[j].API {
			return keys[i].API < keys[j].API
		}
		return keys[i].Sub < keys[j].Sub
	})
}
