package shmipc

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	libsem "github.com/nabbar/golib/semaphore/sem"
)

// Pool is the process-local bounded queue of idle Segments on the proxy
// side (spec.md §4.1). It is created at startup and destroyed at
// shutdown; n bounds concurrent proxy-to-cache transfers regardless of
// how many proxy worker goroutines exist.
//
// Per spec.md §9 ("Global mutable state in source: Three globals (pool
// queue, its mutex, its condvar) should be encapsulated in a single Pool
// value passed explicitly to workers"), Pool carries all of its state as
// fields, with no package-level globals.
type Pool struct {
	mu   sync.Mutex
	idle []*Segment
	all  map[string]*Segment

	// gate is the bounded-resource semaphore: github.com/nabbar/golib's
	// weighted-semaphore wrapper, the same primitive the corpus uses for
	// every other "blocking acquire, bounded capacity" resource. It is
	// the "single counting semaphore plus a mutex-protected queue" that
	// spec.md §4.1's Algorithm section recommends; the mutex+slice above
	// is the queue, gate is the semaphore. Declared as the local
	// gateSemaphore interface (rather than libsem's own return type) so
	// the field type doesn't depend on the exact exported name of that
	// return value.
	gate gateSemaphore

	n       int
	segsize int
}

// gateSemaphore is the subset of github.com/nabbar/golib/semaphore/sem's
// weighted-semaphore interface that Pool relies on.
type gateSemaphore interface {
	NewWorker() error
	DeferWorker()
	DeferMain()
}

// CreatePool creates n segments of segsize payload bytes each, maps them
// into the proxy's address space, and enqueues them all idle. Any
// previously-created segments matching this pool's naming scheme
// ("/shm_<pid>_<i>") are unlinked first (spec.md §6, stale-object
// cleanup), then on failure everything already created this call is torn
// down (spec.md §4.1, "failure during init tears down whatever was
// created").
func CreatePool(ctx context.Context, n, segsize int) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("shmipc: pool size must be positive, got %d", n)
	}
	if segsize <= 0 {
		return nil, fmt.Errorf("shmipc: segsize must be positive, got %d", segsize)
	}

	pid := os.Getpid()
	p := &Pool{
		idle:    make([]*Segment, 0, n),
		all:     make(map[string]*Segment, n),
		gate:    libsem.New(ctx, int64(n)),
		n:       n,
		segsize: segsize,
	}

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("/shm_%d_%d", pid, i)
		_ = shmUnlink(name)

		seg, err := createSegment(name, segsize)
		if err != nil {
			p.teardownPartial()
			return nil, fmt.Errorf("shmipc: create segment %d/%d: %w", i+1, n, err)
		}
		p.idle = append(p.idle, seg)
		p.all[name] = seg
	}
	return p, nil
}

func (p *Pool) teardownPartial() {
	for _, seg := range p.idle {
		_ = seg.destroy()
	}
	p.idle = nil
	p.all = nil
}

// Size returns the pool's fixed capacity n.
func (p *Pool) Size() int { return p.n }

// Segsize returns the configured payload capacity shared by every segment.
func (p *Pool) Segsize() int { return p.segsize }

// Idle returns the current number of segments sitting in the pool (not
// owned by any in-flight transfer). Used by tests and metrics to verify
// the "segment conservation" invariant from spec.md §8.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Acquire blocks until a segment is available, then dequeues and returns
// it. Every successful Acquire must be paired with exactly one Release.
func (p *Pool) Acquire(ctx context.Context) (*Segment, error) {
	if err := p.gate.NewWorker(); err != nil {
		return nil, fmt.Errorf("shmipc: acquire: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) == 0 {
		// The gate guarantees this cannot happen under correct pairing;
		// it would mean a Release ran without a matching prior Acquire.
		p.gate.DeferWorker()
		return nil, fmt.Errorf("shmipc: acquire: pool inconsistency, gate open but queue empty")
	}

	seg := p.idle[0]
	p.idle = p.idle[1:]
	return seg, nil
}

// Release resets a segment to its idle state and returns it to the pool,
// waking one waiter. Per the "Idempotent release" law (spec.md §8), the
// next Acquire of this segment must observe status=0, file_size=0,
// bytes_written=0, sem_w=0, sem_r=1 — so Release resets the semaphore
// words directly (the segment is process-private at this point; no peer
// can legally be touching it) in addition to the scalar fields.
func (p *Pool) Release(seg *Segment) {
	seg.resetLocked()
	atomic.StoreInt32(&seg.hdr.SemW, 0)
	atomic.StoreInt32(&seg.hdr.SemR, 1)

	p.mu.Lock()
	p.idle = append(p.idle, seg)
	p.mu.Unlock()

	p.gate.DeferWorker()
}

// DestroyPool drains the pool, unmaps, and unlinks every segment. Callers
// must ensure no transfer is in flight.
func (p *Pool) DestroyPool() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, seg := range p.all {
		if err := seg.destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.idle = nil
	p.all = nil
	p.gate.DeferMain()
	return firstErr
}

// Lookup returns the segment with the given name, for a proxy-side test
// harness or introspection tool; it does not remove it from the pool.
func (p *Pool) Lookup(name string) (*Segment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seg, ok := p.all[name]
	return seg, ok
}
