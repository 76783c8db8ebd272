package instance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"inferd/internal/request"
	"inferd/pkg/types"
)

func TestBuildWarmupBufferZeroData(t *testing.T) {
	wi := types.WarmupInput{DataType: types.TypeFP32, Dims: []int64{2, 2}}
	buf, err := buildWarmupBuffer(wi)
	if err != nil {
		t.Fatalf("buildWarmupBuffer: %v", err)
	}
	if len(buf) != 4*4 {
		t.Fatalf("len(buf) = %d, want %d", len(buf), 4*4)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatal("expected zero_data to produce an all-zero buffer")
		}
	}
}

func TestBuildWarmupBufferRandomData(t *testing.T) {
	wi := types.WarmupInput{DataType: types.TypeFP32, Dims: []int64{4}, Source: types.WarmupSource{RandomData: true}}
	buf, err := buildWarmupBuffer(wi)
	if err != nil {
		t.Fatalf("buildWarmupBuffer: %v", err)
	}
	if len(buf) != 16 {
		t.Fatalf("len(buf) = %d, want 16", len(buf))
	}
}

func TestBuildWarmupBufferInputDataFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	wi := types.WarmupInput{
		DataType: types.TypeFP32,
		Dims:     []int64{2},
		Source:   types.WarmupSource{InputDataFile: path},
	}
	buf, err := buildWarmupBuffer(wi)
	if err != nil {
		t.Fatalf("buildWarmupBuffer: %v", err)
	}
	if len(buf) != 8 {
		t.Fatalf("len(buf) = %d, want 8", len(buf))
	}
	for i, b := range buf {
		if b != data[i] {
			t.Fatalf("buf[%d] = %d, want %d", i, b, data[i])
		}
	}
}

func TestBuildWarmupBufferInputDataFileTooShortIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")
	if err := os.WriteFile(path, []byte{1, 2}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	wi := types.WarmupInput{
		DataType: types.TypeFP32,
		Dims:     []int64{4},
		Source:   types.WarmupSource{InputDataFile: path},
	}
	if _, err := buildWarmupBuffer(wi); err == nil {
		t.Fatal("expected an error when the data file is shorter than the declared dims")
	}
}

func TestGenerateWarmupRequestsSkipsUnsetBatchSize(t *testing.T) {
	handle := NewModelHandle("m", nil, nil, 0)
	w := types.ModelWarmup{
		Name: "warm1",
		Inputs: map[string]types.WarmupInput{
			"INPUT0": {DataType: types.TypeFP32, Dims: []int64{4}},
		},
	}
	reqs, err := generateWarmupRequests(handle, w)
	if err != nil {
		t.Fatalf("generateWarmupRequests: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("expected 0 requests when BatchSize is unset, got %d", len(reqs))
	}
}

func TestGenerateWarmupRequestsSkipsExplicitZeroBatchSize(t *testing.T) {
	handle := NewModelHandle("m", nil, nil, 0)
	w := types.ModelWarmup{
		Name:      "warm1",
		BatchSize: 0,
		Inputs: map[string]types.WarmupInput{
			"INPUT0": {DataType: types.TypeFP32, Dims: []int64{4}},
		},
	}
	reqs, err := generateWarmupRequests(handle, w)
	if err != nil {
		t.Fatalf("generateWarmupRequests: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("expected 0 requests for batch_size == 0, got %d", len(reqs))
	}
}

func TestGenerateWarmupRequestsRespectsBatchSize(t *testing.T) {
	handle := NewModelHandle("m", nil, nil, 0)
	w := types.ModelWarmup{
		Name:      "warm1",
		BatchSize: 3,
		Inputs: map[string]types.WarmupInput{
			"INPUT0": {DataType: types.TypeFP32, Dims: []int64{2}},
		},
	}
	reqs, err := generateWarmupRequests(handle, w)
	if err != nil {
		t.Fatalf("generateWarmupRequests: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("expected 3 independent requests, got %d", len(reqs))
	}
	for _, r := range reqs {
		if r.ModelName != "m" {
			t.Fatalf("ModelName = %q, want m", r.ModelName)
		}
	}
}

func TestRunOneWarmupWaitsForEveryGeneratedRequestToRelease(t *testing.T) {
	be := &recordingBackend{}
	handle := NewModelHandle("m", map[string]request.ModelInputSpec{
		"INPUT0": {Name: "INPUT0", DataType: types.TypeFP32, Dims: []int64{4}},
	}, []string{"OUTPUT0"}, 0)
	mi, err := New(Params{Name: "i0", Handle: handle, Backend: be})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w := types.ModelWarmup{
		Name:      "warm1",
		BatchSize: 2,
		Inputs: map[string]types.WarmupInput{
			"INPUT0": {DataType: types.TypeFP32, Dims: []int64{4}},
		},
	}
	if err := mi.runOneWarmup(context.Background(), w); err != nil {
		t.Fatalf("runOneWarmup: %v", err)
	}
}

func TestRunOneWarmupSkipsBatchSizeZeroEntry(t *testing.T) {
	execCalls := 0
	be := &recordingBackend{execFn: func([]*request.Request) { execCalls++ }}
	handle := NewModelHandle("m", map[string]request.ModelInputSpec{
		"INPUT0": {Name: "INPUT0", DataType: types.TypeFP32, Dims: []int64{4}},
	}, []string{"OUTPUT0"}, 0)
	mi, err := New(Params{Name: "i0", Handle: handle, Backend: be})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w := types.ModelWarmup{
		Name:      "warm1",
		BatchSize: 0,
		Inputs: map[string]types.WarmupInput{
			"INPUT0": {DataType: types.TypeFP32, Dims: []int64{4}},
		},
	}
	if err := mi.runOneWarmup(context.Background(), w); err != nil {
		t.Fatalf("runOneWarmup: %v", err)
	}
	if be.initCalls != 0 || execCalls != 0 {
		t.Fatalf("expected no backend calls for a batch_size == 0 warmup entry, got %d init and %d exec", be.initCalls, execCalls)
	}
}

func TestRunOneWarmupWithNoInputsDoesNotInitialize(t *testing.T) {
	be := &recordingBackend{}
	handle := NewModelHandle("m", nil, nil, 0)
	mi, err := New(Params{Name: "i0", Handle: handle, Backend: be})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w := types.ModelWarmup{Name: "empty", BatchSize: 1}
	if err := mi.runOneWarmup(context.Background(), w); err != nil {
		t.Fatalf("runOneWarmup: %v", err)
	}
	if be.initCalls != 0 {
		t.Fatalf("expected no ModelInstanceInit call from a warmup with no input samples")
	}
}
