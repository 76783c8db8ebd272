// Package scheduler implements the dynamic-batching Scheduler (SCH)
// collaborator: it accumulates requests into batches and drives them
// through a Model's ModelInstances. The core (request/backend/model/
// instance packages) never imports this package — it only defines the
// interface this package satisfies — so a caller is free to swap in a
// different scheduling policy without touching the core at all.
package scheduler

import (
	"context"
	"sync"
	"time"

	"inferd/internal/ierr"
	"inferd/internal/instance"
	"inferd/internal/model"
	"inferd/internal/request"
)

// Config tunes one DynamicBatcher.
type Config struct {
	// MaxQueueDepth bounds how many requests may be waiting for a batch
	// slot at once; Enqueue blocks (up to MaxWait) once it is full.
	MaxQueueDepth int
	// MaxQueueDelay bounds how long a partially-filled batch waits for
	// more requests before it is dispatched anyway.
	MaxQueueDelay time.Duration
	// MaxWait bounds how long Enqueue itself blocks waiting for a queue
	// slot before returning UNAVAILABLE.
	MaxWait time.Duration
	// PadToMaxBatch pads every dispatched batch up to the model's
	// max_batch_size with request.CopyAsNull-derived filler requests, for
	// backends that require a uniform batch shape.
	PadToMaxBatch bool
}

const (
	defaultQueueDepth = 64
	defaultQueueDelay = 10 * time.Millisecond
	defaultMaxWait    = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultQueueDepth
	}
	if c.MaxQueueDelay <= 0 {
		c.MaxQueueDelay = defaultQueueDelay
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
	return c
}

// DynamicBatcher implements model.Scheduler: a reference batching
// policy. One instance is owned per Model.
type DynamicBatcher struct {
	m       *model.Model
	cfg     Config
	pending chan *request.Request
	stop    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	rrIndex int // round-robin pointer into model.ReadyInstances()
}

// New constructs and starts a DynamicBatcher's dispatch loop for m.
func New(m *model.Model, cfg Config) *DynamicBatcher {
	cfg = cfg.withDefaults()
	b := &DynamicBatcher{
		m:       m,
		cfg:     cfg,
		pending: make(chan *request.Request, cfg.MaxQueueDepth),
		stop:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Enqueue admits req into the pending queue, blocking up to cfg.MaxWait
// (admission-control idiom: a pooled timer raced against ctx.Done and the
// channel send itself, mirroring the queue-slot reservation pattern used
// elsewhere in this codebase for bounding how long a caller waits for a
// busy resource).
func (b *DynamicBatcher) Enqueue(ctx context.Context, req *request.Request) error {
	select {
	case <-b.stop:
		return ierr.Unavailable("scheduler", "model "+b.m.Name()+" scheduler stopped", nil)
	default:
	}
	if len(b.m.ReadyInstances()) == 0 {
		return ierr.Unavailable("scheduler", "model "+b.m.Name()+" has no ready instances", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(b.cfg.MaxWait)
	defer timer.Stop()
	select {
	case b.pending <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ierr.Unavailable("scheduler", "model "+b.m.Name()+" queue full", nil)
	case <-b.stop:
		return ierr.Unavailable("scheduler", "model "+b.m.Name()+" scheduler stopped", nil)
	}
}

// Close stops the dispatch loop; any request already queued is still
// dispatched, but Enqueue refuses new work immediately afterward.
func (b *DynamicBatcher) Close() {
	close(b.stop)
	b.wg.Wait()
}

func (b *DynamicBatcher) dispatchLoop() {
	defer b.wg.Done()
	maxBatch := b.m.MaxBatchSize()
	for {
		var first *request.Request
		select {
		case first = <-b.pending:
		case <-b.stop:
			select {
			case first = <-b.pending:
			default:
				return
			}
		}

		batch := []*request.Request{first}
		if maxBatch > 1 {
			timer := time.NewTimer(b.cfg.MaxQueueDelay)
		fill:
			for len(batch) < maxBatch {
				select {
				case r := <-b.pending:
					batch = append(batch, r)
				case <-timer.C:
					break fill
				case <-b.stop:
					break fill
				}
			}
			timer.Stop()
		}
		b.dispatchBatch(batch)
	}
}

func (b *DynamicBatcher) dispatchBatch(batch []*request.Request) {
	maxBatch := b.m.MaxBatchSize()
	if b.cfg.PadToMaxBatch && maxBatch > len(batch) {
		filler := batch[0]
		for len(batch) < maxBatch {
			batch = append(batch, request.CopyAsNull(filler))
		}
	}

	inst := b.nextReadyInstance()
	if inst == nil {
		for _, r := range batch {
			request.RespondIfError(r, ierr.Unavailable("scheduler", "model "+b.m.Name()+" has no ready instances", nil))
		}
		return
	}
	inst.Schedule(batch)
}

// nextReadyInstance round-robins across the model's current ready pool —
// a minimal least-recently-used-ish policy; package instance's
// BackendThread is what actually serializes work per device, so this
// need not be more sophisticated than "spread batches across replicas".
func (b *DynamicBatcher) nextReadyInstance() *instance.ModelInstance {
	ready := b.m.ReadyInstances()
	if len(ready) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rrIndex = (b.rrIndex + 1) % len(ready)
	return ready[b.rrIndex]
}
