//go:build llama

// Package llama adapts go-skynet/go-llama.cpp into the Backend Interface
// (backend.Backend / backend.InstanceBackend), gated behind the llama
// build tag so a plain `go build ./...` never needs a CGO toolchain or
// the vendored llama.cpp static library.
//
// The BI this repository specifies is a batch-tensor contract: Exec
// receives a batch of requests, each with named input tensors, and must
// produce named output tensors. go-llama.cpp's own API is a single
// prompt in, token-stream out, chat-completion call. This package
// bridges the two by treating a model's first declared input as the
// prompt (a TYPE_STRING tensor holding exactly one element) and its
// first declared output as the completion (also TYPE_STRING), streaming
// tokens into an in-memory buffer before handing the assembled string
// back through AddOutput/Send. Requests in a batch are executed one at a
// time against the underlying llama.cpp context, since go-llama.cpp
// itself has no batched-decode entry point in the version this adapter
// targets.
package llama

import (
	"context"
	"strings"
	"sync"

	llamacpp "github.com/go-skynet/go-llama.cpp"

	"inferd/internal/backend"
	"inferd/internal/ierr"
	"inferd/internal/request"
	"inferd/pkg/types"
)

// Backend is the model-level BI surface: it resolves the model_path
// parameter and hands out one InstanceBackend per ModelInstance.
type Backend struct {
	modelPath string
	opts      Options
}

// New builds a Backend from a model's declared parameters. model_path is
// required; every other key falls back to a conservative default.
func New(params map[string]string) (*Backend, error) {
	path := params["model_path"]
	if path == "" {
		return nil, ierr.InvalidArgument("backend/llama", "model_path parameter is required", nil)
	}
	return &Backend{
		modelPath: path,
		opts:      optionsFromParams(params),
	}, nil
}

func (b *Backend) ModelInit(context.Context, string, map[string]string) error { return nil }
func (b *Backend) ModelFini(context.Context) error                            { return nil }

// NewInstance constructs the per-instance backend a model's
// instance.BackendFactory should return for every instance of this
// model.
func (b *Backend) NewInstance() backend.InstanceBackend {
	return &instanceBackend{modelPath: b.modelPath, opts: b.opts}
}

type instanceBackend struct {
	modelPath string
	opts      Options

	mu  sync.Mutex
	llm *llamacpp.LLama
}

// ModelInstanceInit loads one llama.cpp context per instance rather
// than sharing a single *llama.LLama across instances.
func (ib *instanceBackend) ModelInstanceInit(ctx context.Context, deviceID int) error {
	mo := []llamacpp.ModelOption{llamacpp.SetContext(ib.opts.ContextSize)}
	l, err := llamacpp.New(ib.modelPath, mo...)
	if err != nil {
		return ierr.Unavailable("backend/llama", "failed to load model: "+err.Error(), err)
	}
	ib.mu.Lock()
	ib.llm = l
	ib.mu.Unlock()
	return nil
}

func (ib *instanceBackend) ModelInstanceFini(ctx context.Context) error {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.llm != nil {
		ib.llm.Free()
		ib.llm = nil
	}
	return nil
}

// ModelInstanceExec runs each request's prompt through the loaded
// context in turn. Per the Backend Interface's ownership contract, every
// request in reqs is released by this call (via Send, or directly on a
// decode error) before Exec returns, and a non-nil return is reserved
// for failures that precede any per-request attempt.
func (ib *instanceBackend) ModelInstanceExec(ctx context.Context, reqs []*request.Request) error {
	ib.mu.Lock()
	l := ib.llm
	ib.mu.Unlock()
	if l == nil {
		return ierr.Internal("backend/llama", "exec called before instance init", nil)
	}
	for _, req := range reqs {
		ib.execOne(ctx, l, req)
	}
	return nil
}

func (ib *instanceBackend) execOne(ctx context.Context, l *llamacpp.LLama, req *request.Request) {
	resp := req.Factory().NewResponse()

	prompt, err := firstStringInput(req)
	if err != nil {
		resp.Send(err)
		req.Release(request.ReleaseAll)
		return
	}

	var out strings.Builder
	l.SetTokenCallback(func(token string) bool {
		out.WriteString(token)
		return ctx.Err() == nil
	})

	po := predictOptionsFrom(ib.opts)
	if _, err := l.Predict(prompt, po...); err != nil {
		resp.Send(ierr.Internal("backend/llama", "predict failed: "+err.Error(), err))
		req.Release(request.ReleaseAll)
		return
	}

	outputName := firstOutputName(req)
	if outputName == "" {
		outputName = "OUTPUT"
	}
	strBuf, encErr := encodeSingleString(out.String())
	if encErr != nil {
		resp.Send(encErr)
		req.Release(request.ReleaseAll)
		return
	}
	if err := resp.AddOutput(outputName, types.TypeString, []int64{1}, strBuf); err != nil {
		resp.Send(err)
		req.Release(request.ReleaseAll)
		return
	}
	resp.Send(nil)
	req.Release(request.ReleaseAll)
}

func firstStringInput(req *request.Request) (string, error) {
	ins := req.Inputs()
	if len(ins) == 0 {
		return "", ierr.InvalidArgument("backend/llama", "request has no inputs", nil)
	}
	in := ins[0]
	var buf []byte
	for _, b := range in.Buffers() {
		buf = append(buf, b...)
	}
	s, err := decodeSingleString(buf)
	if err != nil {
		return "", ierr.InvalidArgument("backend/llama", "failed to decode prompt input: "+err.Error(), err)
	}
	return s, nil
}

func firstOutputName(req *request.Request) string {
	outs := req.RequestedOutputs()
	if len(outs) == 0 {
		return ""
	}
	return outs[0]
}

func predictOptionsFrom(o Options) []llamacpp.PredictOption {
	po := []llamacpp.PredictOption{
		llamacpp.SetThreads(o.Threads),
		llamacpp.SetTopK(o.TopK),
		llamacpp.SetTopP(o.TopP),
		llamacpp.SetTemperature(o.Temperature),
		llamacpp.SetPenalty(o.Penalty),
		llamacpp.SetSeed(o.Seed),
	}
	if o.MaxTokens > 0 {
		po = append(po, llamacpp.SetTokens(o.MaxTokens))
	}
	if len(o.StopWords) > 0 {
		po = append(po, llamacpp.SetStopWords(o.StopWords...))
	}
	return po
}
