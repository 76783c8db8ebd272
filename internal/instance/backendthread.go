package instance

import (
	"context"
	"time"

	"inferd/internal/request"
)

// PayloadTag classifies the work item a BackendThread's run loop
// dequeues: init, warm-up, one inference run, or shutdown.
type PayloadTag int

const (
	PayloadInit PayloadTag = iota
	PayloadWarmUp
	PayloadInferRun
	PayloadExit
)

// payload is one unit of work queued onto a BackendThread. done is non-nil
// for INIT/WARM_UP (blocking, promise/future rendezvous: the submitter
// waits on done); it is nil for INFER_RUN, which is fire-and-forget —
// completion is signaled to the caller via each request's own response
// callback instead, never via done. An INFER_RUN error cannot escape
// except as a per-request error response, and that is intentional.
type payload struct {
	tag        PayloadTag
	inst       *ModelInstance
	reqs       []*request.Request
	enqueuedAt time.Time
	fn         func(ctx context.Context) error // INIT/WARM_UP body
	done       chan error
}

// BackendThread is a single goroutine that serializes every payload
// destined for the ModelInstances sharing its device. A ModelInstance
// with UseThreads=false never touches a BackendThread at all — it runs
// its payload inline on the caller's goroutine instead.
type BackendThread struct {
	deviceID int
	queue    chan *payload
	done     chan struct{}
}

// NewBackendThread starts a BackendThread's run loop and returns it
// already running; Close stops it.
func NewBackendThread(deviceID int) *BackendThread {
	bt := &BackendThread{
		deviceID: deviceID,
		queue:    make(chan *payload, 64),
		done:     make(chan struct{}),
	}
	go bt.run()
	return bt
}

func (bt *BackendThread) run() {
	defer close(bt.done)
	for p := range bt.queue {
		switch p.tag {
		case PayloadExit:
			return
		case PayloadInit, PayloadWarmUp:
			err := p.fn(context.Background())
			p.done <- err
		case PayloadInferRun:
			p.inst.execute(context.Background(), p.reqs, p.enqueuedAt)
		}
	}
}

// submitBlocking enqueues an INIT or WARM_UP payload and blocks for its
// result — a promise/future gate around Initialize/WarmUp.
func (bt *BackendThread) submitBlocking(tag PayloadTag, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	bt.queue <- &payload{tag: tag, fn: fn, done: done}
	return <-done
}

// submitInferRun enqueues a fire-and-forget INFER_RUN payload; it never
// blocks the submitter and never surfaces an error to it — only the
// batch's own requests, via their response callbacks, learn the outcome.
func (bt *BackendThread) submitInferRun(inst *ModelInstance, reqs []*request.Request) {
	bt.queue <- &payload{tag: PayloadInferRun, inst: inst, reqs: reqs, enqueuedAt: time.Now()}
}

// Close submits an EXIT payload and waits for the run loop to stop.
func (bt *BackendThread) Close() {
	bt.queue <- &payload{tag: PayloadExit}
	<-bt.done
}
