// Package pool runs chunk proof computation on a fixed set of worker
// slots shared by every task in the process.
//
// The pool is an admission-controlled queue: when all slots and the
// configured queue depth are occupied, Submit blocks instead of failing.
// Proof computation is long-running and CPU-bound, so queueing absorbs
// bursts up to the configured depth rather than rejecting work.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zkforge/zkforge/internal/partition"
	"github.com/zkforge/zkforge/internal/prover"
)

var ErrPoolClosed = errors.New("pool: closed")

// Result is the outcome of proving one chunk. Index re-associates the
// result with its position; completions may arrive out of order.
type Result struct {
	Index    int
	Proof    prover.ChunkProof
	Duration time.Duration
	Err      error
}

// Config sizes the pool.
type Config struct {
	// Workers is the number of concurrent prover slots.
	Workers int

	// Depth is the number of queued submissions beyond the busy slots
	// before Submit blocks.
	Depth int
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, Depth: 64}
}

type job struct {
	ctx     context.Context
	backend prover.Backend
	chunk   partition.Chunk
	result  chan Result
}

// Pool is the process-wide chunk prover pool. Capacity is fixed at
// construction; the pool is never resized at runtime.
type Pool struct {
	jobs    chan job
	wg      sync.WaitGroup
	workers int

	// mu orders admission against Close: jobs is only closed once no
	// Submit holds the read side, so a send on a closed channel is
	// impossible.
	mu     sync.RWMutex
	closed bool

	proved atomic.Int64
	failed atomic.Int64
}

// New creates and starts a pool.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Depth < 0 {
		cfg.Depth = 0
	}

	p := &Pool{
		jobs:    make(chan job, cfg.Depth),
		workers: cfg.Workers,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker(i)
	}
	return p
}

// Workers returns the fixed slot count.
func (p *Pool) Workers() int { return p.workers }

// Submit enqueues one chunk for proving with the given backend and
// returns a buffered channel that will receive exactly one Result.
// Blocks while the queue is full; returns early only if ctx is cancelled
// or the pool is closed.
func (p *Pool) Submit(ctx context.Context, backend prover.Backend, chunk partition.Chunk) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	resultCh := make(chan Result, 1)
	j := job{ctx: ctx, backend: backend, chunk: chunk, result: resultCh}

	select {
	case p.jobs <- j:
		return resultCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops admission and waits for in-flight work to drain. A
// Submit racing with Close either lands in the queue and gets its
// result, or returns ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
}

// Stats returns the number of proofs completed and failed since start.
func (p *Pool) Stats() (proved, failed int64) {
	return p.proved.Load(), p.failed.Load()
}

// worker is the main loop for one prover slot. A single chunk's failure
// is reported on its own result channel and never affects other jobs.
func (p *Pool) worker(slot int) {
	defer p.wg.Done()

	for j := range p.jobs {
		start := time.Now()
		proof, err := j.backend.Prove(j.ctx, j.chunk)
		elapsed := time.Since(start)

		if err != nil {
			p.failed.Add(1)
			slog.Debug("chunk proof failed",
				"slot", slot,
				"chunk", j.chunk.Index,
				"elapsed", elapsed,
				"error", err,
			)
		} else {
			p.proved.Add(1)
		}

		j.result <- Result{
			Index:    j.chunk.Index,
			Proof:    proof,
			Duration: elapsed,
			Err:      err,
		}
	}
}
