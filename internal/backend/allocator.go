package backend

import (
	"inferd/internal/ierr"
	"inferd/internal/request"
	"inferd/pkg/types"
)

// ResponseAllocator is the collaborator a backend uses to obtain a
// destination buffer for one output tensor before writing into it.
// Modeled on an alloc/release function-pointer pair, expressed as an
// interface instead of two separately-registered callbacks.
type ResponseAllocator interface {
	Alloc(outputName string, byteSize int64, shape []int64, dt types.DataType) ([]byte, error)
	Release(outputName string, buf []byte)
}

// DefaultAllocator allocates a fresh Go slice per call and releases
// nothing (the garbage collector reclaims it) — the normal path for
// CPU-resident outputs with no pinned-memory or pooling requirement
// (pinned CUDA memory management is explicitly out of scope).
type DefaultAllocator struct{}

func (DefaultAllocator) Alloc(_ string, byteSize int64, _ []int64, _ types.DataType) ([]byte, error) {
	if byteSize < 0 {
		return nil, ierr.InvalidArgument("backend", "negative byte size requested", nil)
	}
	return make([]byte, byteSize), nil
}

func (DefaultAllocator) Release(string, []byte) {}

// WarmupAllocator is used while executing a ModelWarmup sequence; it is
// functionally identical to DefaultAllocator but is a distinct type so
// logs and metrics can tell ordinary inference output allocation apart
// from the allocations a warmup run makes.
type WarmupAllocator struct{ DefaultAllocator }

// NullAllocator is used by CopyAsNull-derived requests: the whole point of
// a null-copy request is that nothing should ever try to materialize a
// real output for it, so any allocation attempt is itself a bug and is
// reported as INTERNAL rather than silently satisfied.
type NullAllocator struct{}

func (NullAllocator) Alloc(outputName string, _ int64, _ []int64, _ types.DataType) ([]byte, error) {
	return nil, ierr.Internal("backend", "unexpected output allocation on a null request: "+outputName, nil)
}

func (NullAllocator) Release(string, []byte) {}

// responseImpl is the concrete request.Response a ModelInstance hands to
// a backend's Exec call; it captures outputs in memory and forwards them
// (or an error) to the request's response callback on Send.
type responseImpl struct {
	req   *request.Request
	alloc ResponseAllocator
	outs  []Output
}

// Output is one captured output tensor, exposed to response consumers
// (e.g. the HTTP front-end) once Send has delivered the response.
type Output struct {
	Name  string
	DType types.DataType
	Shape []int64
	Data  []byte
}

// NewResponseFactory returns a request.ResponseFactory for a given allocator.
func NewResponseFactory(req *request.Request, alloc ResponseAllocator) request.ResponseFactory {
	return responseFactory{req: req, alloc: alloc}
}

type responseFactory struct {
	req   *request.Request
	alloc ResponseAllocator
}

func (f responseFactory) NewResponse() request.Response {
	return &responseImpl{req: f.req, alloc: f.alloc}
}

func (r *responseImpl) AddOutput(name string, dt types.DataType, shape []int64, data []byte) error {
	want := int64(len(data))
	buf, err := r.alloc.Alloc(name, want, shape, dt)
	if err != nil {
		return err
	}
	copy(buf, data)
	r.outs = append(r.outs, Output{Name: name, DType: dt, Shape: shape, Data: buf})
	return nil
}

func (r *responseImpl) Send(err error) {
	fn := r.respFn()
	if fn == nil {
		return
	}
	fn(r, err, r.respUser())
}

// Outputs exposes the captured outputs to a response consumer (e.g. the
// HTTP front-end) after Send has delivered this response.
func (r *responseImpl) Outputs() []Output { return r.outs }

// respFn/respUser reach into the request's private response callback via
// small accessor shims kept in package request (request.go) so
// that responseImpl does not need package request to export its internals
// broadly.
func (r *responseImpl) respFn() request.ResponseFunc   { return request.ResponseCallbackOf(r.req) }
func (r *responseImpl) respUser() any                  { return request.ResponseUserdataOf(r.req) }
