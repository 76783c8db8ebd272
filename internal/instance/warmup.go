package instance

import (
	"context"
	"crypto/rand"
	"os"
	"sync"

	"inferd/internal/backend"
	"inferd/internal/ierr"
	"inferd/internal/request"
	"inferd/pkg/types"
)

// runWarmups executes every configured ModelWarmup sequence in order
// against this instance, synchronously.
//
// Release-completion strategy: a first-request-only release signal is
// fragile, since it relies on backends releasing requests in a
// particular order. This uses a counting completion instead — see
// DESIGN.md: every request generated from a warmup sample carries a
// release callback that decrements a WaitGroup, and WarmUp
// does not return until every one of them has released.
func (mi *ModelInstance) runWarmups(ctx context.Context, warmups []types.ModelWarmup) error {
	for _, w := range warmups {
		if err := mi.runOneWarmup(ctx, w); err != nil {
			return ierr.Internal("instance", mi.name+": warmup "+w.Name+" failed", err)
		}
	}
	return nil
}

func (mi *ModelInstance) runOneWarmup(ctx context.Context, w types.ModelWarmup) error {
	reqs, err := generateWarmupRequests(mi.handle, w)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(reqs))
	var mu sync.Mutex
	var firstErr error

	for _, r := range reqs {
		r.SetResponseCallback(func(resp request.Response, err error, _ any) {
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}, nil)
		r.SetReleaseCallback(func(*request.Request, request.ReleaseFlags, any) {
			wg.Done()
		}, nil)
	}

	live := reqs
	for _, r := range live {
		r.SetResponseFactory(backend.NewResponseFactory(r, backend.WarmupAllocator{}))
		if err := mi.handle.PrepareForInference(r); err != nil {
			request.RespondIfError(r, err)
		}
	}
	live = requestsNotReleased(live)
	if len(live) > 0 {
		if err := mi.be.ModelInstanceExec(ctx, live); err != nil {
			for _, r := range live {
				if !r.Released() {
					request.RespondIfError(r, err)
				}
			}
		}
	}
	wg.Wait()
	return firstErr
}

// generateWarmupRequests builds w.BatchSize independent requests from the
// warmup sample's synthetic input data, each produced by the
// zero/random/file-provided generation in buildWarmupBuffer. A sample
// declared with batch_size <= 0 is skipped entirely: it generates no
// requests and contributes no completion wait. Every generated request's
// inputs are marked as overrides: their dims are exactly
// w.Inputs[...].Dims, with no batch dimension added or stripped (see
// normalize.go).
func generateWarmupRequests(handle *ModelHandle, w types.ModelWarmup) ([]*request.Request, error) {
	if w.BatchSize <= 0 {
		return nil, nil
	}
	n := w.BatchSize

	samples := make(map[string][]byte, len(w.Inputs))
	for name, wi := range w.Inputs {
		buf, err := buildWarmupBuffer(wi)
		if err != nil {
			return nil, ierr.InvalidArgument("instance", "warmup input "+name, err)
		}
		samples[name] = buf
	}

	reqs := make([]*request.Request, 0, n)
	for i := 0; i < n; i++ {
		r := request.New(handle.Name(), 0)
		for name, wi := range w.Inputs {
			in := request.NewInput(name, wi.DataType, wi.Dims)
			in.AppendData(samples[name])
			r.AddOverrideInput(in)
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// buildWarmupBuffer materializes the byte buffer for one WarmupInput
// according to its configured source.
func buildWarmupBuffer(wi types.WarmupInput) ([]byte, error) {
	size := elementCount(wi.Dims) * int64(wi.DataType.ByteSize())
	switch {
	case wi.Source.InputDataFile != "":
		b, err := os.ReadFile(wi.Source.InputDataFile)
		if err != nil {
			return nil, err
		}
		if int64(len(b)) < size {
			return nil, ierr.InvalidArgument("instance", "warmup input_data_file shorter than declared dims", nil)
		}
		return b[:size], nil
	case wi.Source.RandomData:
		buf := make([]byte, size)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		return buf, nil
	default: // zero_data, or unset defaults to zero
		return make([]byte, size), nil
	}
}

func elementCount(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		if d <= 0 {
			continue
		}
		n *= d
	}
	return n
}
