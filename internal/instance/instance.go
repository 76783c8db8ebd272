package instance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"inferd/internal/backend"
	"inferd/internal/ierr"
	"inferd/internal/request"
	"inferd/pkg/types"
)

// StatsRecorder is the optional collaborator a ModelInstance reports
// execution statistics to. Kept as a narrow interface local to this
// package (rather than importing package metrics directly) so the core
// never depends on Prometheus — metrics.Prometheus satisfies this
// interface structurally.
type StatsRecorder interface {
	ReportBatchStatistics(model, instanceName string, n int, queued, compute float64, success bool)
	ReportStatistics(model, instanceName string, success bool)
}

// State is the ModelInstance lifecycle state machine: Uninit -> Inited ->
// WarmedUp -> Ready, with Passive instances diverted after
// Inited/WarmedUp instead of ever reaching Ready.
type State int32

const (
	StateUninit State = iota
	StateInited
	StateWarmedUp
	StateReady
	StatePassive
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateInited:
		return "inited"
	case StateWarmedUp:
		return "warmed_up"
	case StateReady:
		return "ready"
	case StatePassive:
		return "passive"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Params configures one ModelInstance at construction time.
type Params struct {
	Name          string
	Handle        *ModelHandle
	Backend       backend.InstanceBackend
	DeviceID      int
	Passive       bool
	UseThreads    bool // policy decision computed by Model.CreateInstances
	DeviceThreads *DeviceThreadMap
	Stats         StatsRecorder
}

// ModelInstance is one executable replica of a Model. It holds a
// non-owning *ModelHandle (never a back-pointer to the owning Model
// struct itself) and, when UseThreads is set, a shared *BackendThread
// looked up via the device-blocking policy in devicemap.go.
type ModelInstance struct {
	name     string
	handle   *ModelHandle
	be       backend.InstanceBackend
	deviceID int
	passive  bool

	thread     *BackendThread // nil when this instance runs inline
	ownsThread bool           // true if this instance created the shared thread

	state        atomic.Int32
	mu           sync.Mutex
	allocator    backend.ResponseAllocator
	stats        StatsRecorder
}

// New constructs a ModelInstance and applies SetBackendThread's policy:
// when p.UseThreads is true, it looks up (or creates) the BackendThread
// shared by every instance on p.DeviceID; when false, it leaves thread
// nil and every call below runs inline on the caller's goroutine.
func New(p Params) (*ModelInstance, error) {
	if p.Backend == nil {
		return nil, ierr.InvalidArgument("instance", "instance "+p.Name+" has no backend", nil)
	}
	mi := &ModelInstance{
		name:      p.Name,
		handle:    p.Handle,
		be:        p.Backend,
		deviceID:  p.DeviceID,
		passive:   p.Passive,
		allocator: backend.DefaultAllocator{},
		stats:     p.Stats,
	}
	if p.UseThreads {
		if p.DeviceThreads == nil {
			return nil, ierr.Internal("instance", "UseThreads set without a DeviceThreadMap", nil)
		}
		created := false
		mi.thread = p.DeviceThreads.LookupOrCreate(p.DeviceID, func() *BackendThread {
			created = true
			return NewBackendThread(p.DeviceID)
		})
		mi.ownsThread = created
	}
	return mi, nil
}

func (mi *ModelInstance) Name() string     { return mi.name }
func (mi *ModelInstance) DeviceID() int    { return mi.deviceID }
func (mi *ModelInstance) Passive() bool    { return mi.passive }
func (mi *ModelInstance) State() State     { return State(mi.state.Load()) }
func (mi *ModelInstance) HasThread() bool  { return mi.thread != nil }

func (mi *ModelInstance) setState(s State) { mi.state.Store(int32(s)) }

// Initialize runs ModelInstanceInit, routed through this instance's
// BackendThread (blocking) if it has one, or run inline otherwise.
func (mi *ModelInstance) Initialize(ctx context.Context) error {
	if mi.State() != StateUninit {
		return ierr.Internal("instance", mi.name+": Initialize called outside Uninit state", nil)
	}
	body := func(ctx context.Context) error { return mi.be.ModelInstanceInit(ctx, mi.deviceID) }
	var err error
	if mi.thread != nil {
		err = mi.thread.submitBlocking(PayloadInit, body)
	} else {
		err = body(ctx)
	}
	if err != nil {
		mi.setState(StateError)
		return ierr.Internal("instance", mi.name+": ModelInstanceInit failed", err)
	}
	mi.setState(StateInited)
	return nil
}

// WarmUp runs every configured model_warmup sequence against this
// instance. See warmup.go for sample generation and the
// release-completion strategy for generated warmup requests.
func (mi *ModelInstance) WarmUp(ctx context.Context, warmups []types.ModelWarmup) error {
	if mi.State() != StateInited {
		return ierr.Internal("instance", mi.name+": WarmUp called outside Inited state", nil)
	}
	body := func(ctx context.Context) error { return mi.runWarmups(ctx, warmups) }
	var err error
	if mi.thread != nil {
		err = mi.thread.submitBlocking(PayloadWarmUp, body)
	} else {
		err = body(ctx)
	}
	if err != nil {
		mi.setState(StateError)
		return err
	}
	mi.setState(StateWarmedUp)
	if mi.passive {
		mi.setState(StatePassive)
	} else {
		mi.setState(StateReady)
	}
	return nil
}

// Schedule hands a batch to this instance for execution. When the
// instance shares a BackendThread, Schedule is fire-and-forget: it never
// blocks on the batch finishing and never returns an execution error;
// only per-request responses (sent by the backend, or by RespondIfError
// when Exec fails) communicate outcomes. When it has no BackendThread, there is nothing serializing
// backend access on its behalf, so Schedule runs execute synchronously
// on the caller's own goroutine instead — exactly like Initialize and
// WarmUp already do in that case — so a caller can never observe
// ModelInstanceExec still in flight after Schedule returns.
func (mi *ModelInstance) Schedule(reqs []*request.Request) {
	if mi.thread != nil {
		mi.thread.submitInferRun(mi, reqs)
		return
	}
	mi.execute(context.Background(), reqs, time.Now())
}

// execute is the INFER_RUN body, run either inline (Schedule with no
// thread) or from the owning BackendThread's run loop. enqueuedAt is used
// only to report queueing latency to StatsRecorder; it never gates
// execution.
func (mi *ModelInstance) execute(ctx context.Context, reqs []*request.Request, enqueuedAt time.Time) {
	for _, r := range reqs {
		alloc := mi.allocator
		if r.IsNull() {
			// CopyAsNull already carries final, normalized shapes; it must
			// not go through PrepareForInference a second time.
			alloc = backend.NullAllocator{}
			r.SetResponseFactory(backend.NewResponseFactory(r, alloc))
			continue
		}
		r.SetResponseFactory(backend.NewResponseFactory(r, alloc))
		// A well-formed client request was already normalized before it was
		// enqueued, so this is a no-op; it only does real work for requests
		// scheduled without being prepared first (e.g. in tests).
		if err := mi.handle.PrepareForInference(r); err != nil {
			mi.reportOne(false)
			request.RespondIfError(r, err)
		}
	}
	live := requestsNotReleased(reqs)
	if len(live) == 0 {
		return
	}
	queued := time.Since(enqueuedAt).Seconds()
	computeStart := time.Now()
	err := mi.be.ModelInstanceExec(ctx, live)
	compute := time.Since(computeStart).Seconds()
	mi.reportBatch(len(live), queued, compute, err == nil)
	if err != nil {
		// Exec failed: per the BI ownership contract, the caller (this
		// instance) retains ownership and must respond every request that
		// Exec did not already release itself.
		for _, r := range live {
			if !r.Released() {
				mi.reportOne(false)
				request.RespondIfError(r, err)
			}
		}
		return
	}
	for range live {
		mi.reportOne(true)
	}
}

func (mi *ModelInstance) reportOne(success bool) {
	if mi.stats != nil {
		mi.stats.ReportStatistics(mi.handle.Name(), mi.name, success)
	}
}

func (mi *ModelInstance) reportBatch(n int, queued, compute float64, success bool) {
	if mi.stats != nil {
		mi.stats.ReportBatchStatistics(mi.handle.Name(), mi.name, n, queued, compute, success)
	}
}

func requestsNotReleased(reqs []*request.Request) []*request.Request {
	var out []*request.Request
	for _, r := range reqs {
		if !r.Released() {
			out = append(out, r)
		}
	}
	return out
}

// Close finalizes this instance. If it owns the shared BackendThread (it
// was the first instance to request it for this device), Close first
// stops that thread, which runs every payload already queued on it, and
// then calls ModelInstanceFini. The thread is stopped whether or not
// other instances still share it; an instance that does not own its
// thread leaves it running.
func (mi *ModelInstance) Close(ctx context.Context) error {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.State() == StateClosed {
		return nil
	}
	if mi.ownsThread && mi.thread != nil {
		mi.thread.Close()
	}
	err := mi.be.ModelInstanceFini(ctx)
	mi.setState(StateClosed)
	if err != nil {
		return ierr.Internal("instance", mi.name+": ModelInstanceFini failed", err)
	}
	return nil
}
