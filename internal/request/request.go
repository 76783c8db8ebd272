// Package request implements the Request/Response model (RR): the
// normalized, backend-agnostic shape an InferenceRequest takes once it
// has crossed the scheduler boundary and is about to be handed to a
// Backend Interface Exec call. Modeled on the InferenceRequest/Input
// classes of a C++ inference-server core, adapted to Go's
// explicit-error, no-back-pointer idiom.
package request

import (
	"sync"
	"sync/atomic"

	"inferd/internal/ierr"
	"inferd/pkg/types"
)

// ResponseFactory is the minimal collaborator a backend needs to produce a
// response for a request; concrete allocators live in package backend.
type ResponseFactory interface {
	// NewResponse begins a response tied to this request's id/correlation.
	NewResponse() Response
}

// Response is the write side of one InferenceResponse. Backends call
// AddOutput for every requested output tensor, then Send to deliver it
// (or an error) to the original caller.
type Response interface {
	AddOutput(name string, dt types.DataType, shape []int64, data []byte) error
	Send(err error)
}

// ReleaseFlags mirror a typical REQUEST_RELEASE_* bitmask convention;
// ALL is the only flag BackendThread/Execute ever sets in this codebase.
type ReleaseFlags uint32

const ReleaseAll ReleaseFlags = 1

// ReleaseFunc is called exactly once when a Request's lifetime ends,
// regardless of whether inference succeeded, failed, or the request was
// null-copied for warmup. userdata round-trips whatever SetReleaseCallback
// was given.
type ReleaseFunc func(req *Request, flags ReleaseFlags, userdata any)

// ResponseFunc is called when a response (successful or error) is ready
// to be delivered upstream of the backend.
type ResponseFunc func(resp Response, err error, userdata any)

// Request is one normalized inference request flowing through a Model's
// ModelInstances. It is built via the AddOriginalInput/AppendData/
// AddOriginalRequestedOutput builder methods, finalized once with
// PrepareForInference, and released exactly once with Release.
type Request struct {
	ModelName    string
	ModelVersion int64
	CorrelationID string

	inputs           map[string]*Input
	inputOrder       []string

	// originalRequestedOutputs holds exactly what the caller asked for via
	// AddOriginalRequestedOutput; requestedOutputs is the resolved set
	// Normalize computes from it (defaulted to every model output when the
	// caller asked for none) and is what RequestedOutputs returns.
	originalRequestedOutputs []string
	requestedOutputs         []string

	// batchSize is 0 until PrepareForInference computes it from the
	// caller-visible leading dimension of non-shape-tensor inputs; 0 means
	// "no batch dimension" (the model does not batch, or every input is a
	// shape tensor).
	batchSize int

	respFn     ResponseFunc
	respUser   any
	releaseFn  ReleaseFunc
	releaseUser any
	factory    ResponseFactory

	// internalReleaseCBs run in reverse-registration order before releaseFn.
	internalReleaseCBs []func()

	// needsNormalization is true from construction, and again after any
	// mutation of inputs or requested outputs, until PrepareForInference
	// next runs Normalize to completion; a call while it is false is a
	// no-op, which is what makes PrepareForInference safe to call more
	// than once.
	needsNormalization bool
	released           int32 // atomic bool: Release has run; enforces at-most-once
	isNull             bool  // true for CopyAsNull-derived batch-padding requests
	mu                 sync.Mutex
}

// IsNull reports whether this request was built by CopyAsNull and exists
// only to pad a batch to a uniform size; schedulers use this to route it
// through a NullAllocator-backed response factory instead of the
// ordinary one.
func (r *Request) IsNull() bool { return r.isNull }

// New constructs an empty, unprepared Request.
func New(modelName string, modelVersion int64) *Request {
	return &Request{
		ModelName:          modelName,
		ModelVersion:       modelVersion,
		inputs:             make(map[string]*Input),
		needsNormalization: true,
	}
}

// AddOriginalInput attaches an input that came from the original caller.
// Returns ALREADY_EXISTS if the name was already added.
func (r *Request) AddOriginalInput(in *Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inputs[in.Name()]; exists {
		return ierr.AlreadyExists("request", "input already exists: "+in.Name(), nil)
	}
	r.inputs[in.Name()] = in
	r.inputOrder = append(r.inputOrder, in.Name())
	r.needsNormalization = true
	return nil
}

// RemoveOriginalInput removes a previously added input by name. Returns
// INVALID_ARG if no input with that name exists.
func (r *Request) RemoveOriginalInput(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inputs[name]; !exists {
		return ierr.InvalidArgument("request", "input '"+name+"' does not exist in request", nil)
	}
	delete(r.inputs, name)
	for i, n := range r.inputOrder {
		if n == name {
			r.inputOrder = append(r.inputOrder[:i], r.inputOrder[i+1:]...)
			break
		}
	}
	r.needsNormalization = true
	return nil
}

// RemoveAllOriginalInputs drops every input the request currently carries.
func (r *Request) RemoveAllOriginalInputs() {
	r.mu.Lock()
	r.inputs = make(map[string]*Input)
	r.inputOrder = nil
	r.needsNormalization = true
	r.mu.Unlock()
}

// AddOverrideInput replaces (or adds) an input with a backend- or
// warmup-synthesized one, bypassing the duplicate check — overrides are
// allowed to shadow an original input (used by warmup-generated samples).
func (r *Request) AddOverrideInput(in *Input) {
	in.overridden = true
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inputs[in.Name()]; !exists {
		r.inputOrder = append(r.inputOrder, in.Name())
	}
	r.inputs[in.Name()] = in
	r.needsNormalization = true
}

// AddOriginalRequestedOutput records an output name the caller wants in
// the response. Order is preserved but is not semantically significant.
func (r *Request) AddOriginalRequestedOutput(name string) {
	r.mu.Lock()
	r.originalRequestedOutputs = append(r.originalRequestedOutputs, name)
	r.needsNormalization = true
	r.mu.Unlock()
}

// RemoveOriginalRequestedOutput drops name from the set of requested
// outputs, if present; removing a name that was never added is a no-op.
func (r *Request) RemoveOriginalRequestedOutput(name string) {
	r.mu.Lock()
	for i, n := range r.originalRequestedOutputs {
		if n == name {
			r.originalRequestedOutputs = append(r.originalRequestedOutputs[:i], r.originalRequestedOutputs[i+1:]...)
			break
		}
	}
	r.needsNormalization = true
	r.mu.Unlock()
}

// RemoveAllOriginalRequestedOutputs clears every requested output the
// caller named; a subsequent PrepareForInference will then default to
// every output the model produces.
func (r *Request) RemoveAllOriginalRequestedOutputs() {
	r.mu.Lock()
	r.originalRequestedOutputs = nil
	r.needsNormalization = true
	r.mu.Unlock()
}

// Inputs returns the request's inputs in insertion order.
func (r *Request) Inputs() []*Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Input, 0, len(r.inputOrder))
	for _, name := range r.inputOrder {
		out = append(out, r.inputs[name])
	}
	return out
}

// Input looks up one input by name.
func (r *Request) Input(name string) (*Input, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.inputs[name]
	return in, ok
}

// RequestedOutputs returns the resolved set of output names Normalize
// computed: every original requested output the caller named, or, when
// the caller named none, every output the model produces.
func (r *Request) RequestedOutputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requestedOutputs...)
}

// originalRequestedOutputsSnapshot returns a copy of the caller-named
// requested outputs, for Normalize to resolve against the model's
// configured outputs.
func (r *Request) originalRequestedOutputsSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.originalRequestedOutputs...)
}

// setResolvedRequestedOutputs installs Normalize's resolved output set;
// unlike AddOriginalRequestedOutput this does not mark the request dirty,
// since it is itself the output of normalization.
func (r *Request) setResolvedRequestedOutputs(names []string) {
	r.mu.Lock()
	r.requestedOutputs = names
	r.mu.Unlock()
}

// BatchSize returns the batch dimension computed by PrepareForInference,
// or 0 if the request has not been prepared yet or does not batch.
func (r *Request) BatchSize() int { return r.batchSize }

func (r *Request) setBatchSize(n int) { r.batchSize = n }

func (r *Request) pendingNormalization() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.needsNormalization
}

func (r *Request) clearNeedsNormalization() {
	r.mu.Lock()
	r.needsNormalization = false
	r.mu.Unlock()
}

// SetResponseCallback installs the function invoked once per response
// (a batch may produce more than one response in a streaming backend,
// but this codebase's BI contract is request/response 1:1).
func (r *Request) SetResponseCallback(fn ResponseFunc, userdata any) {
	r.respFn = fn
	r.respUser = userdata
}

// SetReleaseCallback installs the user-level release callback, called
// after every internal release callback has run.
func (r *Request) SetReleaseCallback(fn ReleaseFunc, userdata any) {
	r.releaseFn = fn
	r.releaseUser = userdata
}

// SetResponseFactory installs the ResponseFactory a backend should use to
// build this request's response. Set by the ModelInstance just before
// handing the request to a backend's Exec call, so the backend never
// needs to know which allocator (ordinary, warmup, null) applies.
func (r *Request) SetResponseFactory(f ResponseFactory) { r.factory = f }

// Factory returns the ResponseFactory a backend should use to build this
// request's response.
func (r *Request) Factory() ResponseFactory { return r.factory }

// addInternalReleaseCallback registers internal cleanup to run before the
// user release callback, in reverse registration order.
func (r *Request) addInternalReleaseCallback(fn func()) {
	r.internalReleaseCBs = append(r.internalReleaseCBs, fn)
}

// RespondIfError delivers err to the request's response callback and then
// releases the request; it is the single channel by which a failure
// discovered mid-batch becomes a response instead of a panic or a
// swallowed error — an INFER_RUN error must never escape any other way.
func RespondIfError(r *Request, err error) {
	if err == nil {
		return
	}
	if r.respFn != nil {
		r.respFn(nil, err, r.respUser)
	}
	r.Release(ReleaseAll)
}

// RespondIfErrorBatch applies RespondIfError to every request in a batch
// whose corresponding err is non-nil, returning the requests that were
// *not* errored out (and therefore still need executing).
func RespondIfErrorBatch(reqs []*Request, errs []error) []*Request {
	var ok []*Request
	for i, req := range reqs {
		if i < len(errs) && errs[i] != nil {
			RespondIfError(req, errs[i])
			continue
		}
		ok = append(ok, req)
	}
	return ok
}

// Release runs every internal release callback (most-recently-registered
// first) followed by the user release callback, exactly once. A second
// call is a silent no-op, enforced with an atomic flag.
func (r *Request) Release(flags ReleaseFlags) {
	if !atomic.CompareAndSwapInt32(&r.released, 0, 1) {
		return
	}
	for i := len(r.internalReleaseCBs) - 1; i >= 0; i-- {
		r.internalReleaseCBs[i]()
	}
	if r.releaseFn != nil {
		r.releaseFn(r, flags, r.releaseUser)
	}
}

// Released reports whether Release has already run.
func (r *Request) Released() bool { return atomic.LoadInt32(&r.released) == 1 }

// ResponseCallbackOf and ResponseUserdataOf expose a request's response
// callback to package backend's response implementation without making
// the fields themselves exported — backends build responses through
// request.ResponseFactory, never by reaching into Request directly.
func ResponseCallbackOf(r *Request) ResponseFunc { return r.respFn }
func ResponseUserdataOf(r *Request) any          { return r.respUser }
