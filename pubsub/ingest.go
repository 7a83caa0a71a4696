package pubsub

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Overflow decides what Submit does when a shard queue is full.
type Overflow int

const (
	// OverflowDrop rejects the message with ErrQueueFull.
	OverflowDrop Overflow = iota

	// OverflowBlock waits for room until the submit context is done.
	OverflowBlock
)

// ParseOverflow accepts "drop" or "block". Empty means drop.
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "drop":
		return OverflowDrop, nil
	case "block":
		return OverflowBlock, nil
	}
	return OverflowDrop, errors.Errorf("unknown overflow policy %q", s)
}

type delivery struct {
	key     ChannelKey
	payload any
}

// Ingest decouples a connection's read loop from handler latency. Messages
// are queued on one of a fixed number of shards chosen by hashing the key,
// and each shard is drained by a single worker, so messages for one key are
// dispatched in arrival order while different keys proceed in parallel.
type Ingest struct {
	dispatcher *Dispatcher
	workers    int
	queueSize  int
	overflow   Overflow
	logger     *zap.Logger

	mu      sync.RWMutex
	shards  []chan delivery
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	closed  bool

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	discarded atomic.Uint64
}

// IngestOption configures an Ingest.
type IngestOption func(*Ingest)

// WithWorkers sets the number of shards and workers.
func WithWorkers(n int) IngestOption {
	return func(p *Ingest) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the capacity of each shard.
func WithQueueSize(n int) IngestOption {
	return func(p *Ingest) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithOverflow sets the full-queue policy.
func WithOverflow(o Overflow) IngestOption {
	return func(p *Ingest) {
		p.overflow = o
	}
}

// WithIngestLogger sets the logger.
func WithIngestLogger(l *zap.Logger) IngestOption {
	return func(p *Ingest) {
		p.logger = l
	}
}

func NewIngest(d *Dispatcher, opts ...IngestOption) *Ingest {
	p := &Ingest{
		dispatcher: d,
		workers:    4,
		queueSize:  1024,
		overflow:   OverflowDrop,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers.
func (p *Ingest) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.running {
		return ErrAlreadyRunning
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.shards = make([]chan delivery, p.workers)
	for i := range p.shards {
		ch := make(chan delivery, p.queueSize)
		p.shards[i] = ch
		p.wg.Add(1)
		go p.worker(p.ctx, ch)
	}
	p.running = true
	return nil
}

// Submit queues payload for dispatch. It never runs handlers itself.
func (p *Ingest) Submit(ctx context.Context, key ChannelKey, payload any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if !p.running {
		return errors.New("ingest not started")
	}

	ch := p.shards[p.shard(key)]
	d := delivery{key: key, payload: payload}
	select {
	case ch <- d:
		p.enqueued.Add(1)
		return nil
	default:
	}
	if p.overflow == OverflowDrop {
		p.dropped.Add(1)
		p.logger.Warn("ingest queue full, dropping message", zap.Stringer("key", key))
		return errors.Wrapf(ErrQueueFull, "key %s", key)
	}

	select {
	case ch <- d:
		p.enqueued.Add(1)
		return nil
	case <-p.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		p.dropped.Add(1)
		return ctx.Err()
	}
}

func (p *Ingest) shard(key ChannelKey) int {
	h := fnv.New32a()
	h.Write([]byte{byte(key.API)})
	h.Write([]byte(key.Sub))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Ingest) worker(ctx context.Context, ch <-chan delivery) {
	defer p.wg.Done()
	for d := range ch {
		if ctx.Err() != nil {
			p.discarded.Add(1)
			continue
		}
		p.dispatcher.Dispatch(ctx, d.key, d.payload)
		p.processed.Add(1)
	}
}

// Stop refuses new submissions, lets each worker finish the handler it is
// running, discards whatever is still queued and waits for the workers to
// exit or for ctx to be done. A stopped pool cannot be started again.
func (p *Ingest) Stop(ctx context.Context) error {
	return p.shutdown(ctx, true)
}

// Halt stops the workers the same way as Stop but leaves the pool able to
// Start again. Submissions fail until then.
func (p *Ingest) Halt(ctx context.Context) error {
	return p.shutdown(ctx, false)
}

func (p *Ingest) shutdown(ctx context.Context, final bool) error {
	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()
	if cancel != nil {
		// wakes blocked submitters before we take the write lock
		cancel()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = final
	wasRunning := p.running
	p.running = false
	for _, ch := range p.shards {
		close(ch)
	}
	p.shards = nil
	p.mu.Unlock()
	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IngestStats is a point-in-time copy of the ingest counters.
type IngestStats struct {
	Enqueued   uint64
	Dropped    uint64
	Processed  uint64
	Discarded  uint64
	QueueDepth int
}

func (p *Ingest) Stats() IngestStats {
	p.mu.RLock()
	depth := 0
	for _, ch := range p.shards {
		depth += len(ch)
	}
	p.mu.RUnlock()
	return IngestStats{
		Enqueued:   p.enqueued.Load(),
		Dropped:    p.dropped.Load(),
		Processed:  p.processed.Load(),
		Discarded:  p.discarded.Load(),
		QueueDepth: depth,
	}
}
