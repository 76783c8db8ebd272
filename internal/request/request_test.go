package request

import (
	"errors"
	"testing"

	"inferd/internal/ierr"
	"inferd/pkg/types"
)

func TestAddOriginalInputRejectsDuplicateName(t *testing.T) {
	r := New("m", 1)
	if err := r.AddOriginalInput(NewInput("INPUT0", types.TypeFP32, []int64{1, 4})); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := r.AddOriginalInput(NewInput("INPUT0", types.TypeFP32, []int64{1, 4}))
	if !ierr.IsAlreadyExists(err) {
		t.Fatalf("expected ALREADY_EXISTS, got %v", err)
	}
}

func TestAddOverrideInputShadowsOriginal(t *testing.T) {
	r := New("m", 1)
	orig := NewInput("INPUT0", types.TypeFP32, []int64{1, 4})
	orig.AppendData([]byte{1, 2, 3, 4})
	if err := r.AddOriginalInput(orig); err != nil {
		t.Fatalf("add: %v", err)
	}
	override := NewInput("INPUT0", types.TypeFP32, []int64{1, 4})
	override.AppendData([]byte{9, 9, 9, 9})
	r.AddOverrideInput(override)

	in, ok := r.Input("INPUT0")
	if !ok {
		t.Fatal("expected INPUT0 to still be present")
	}
	if len(in.Buffers()) != 1 || in.Buffers()[0][0] != 9 {
		t.Fatalf("expected override data to have replaced the original, got %v", in.Buffers())
	}
	if len(r.Inputs()) != 1 {
		t.Fatalf("override of an existing name must not duplicate input order, got %v", r.Inputs())
	}
}

func TestInputsPreservesInsertionOrder(t *testing.T) {
	r := New("m", 1)
	names := []string{"C", "A", "B"}
	for _, n := range names {
		if err := r.AddOriginalInput(NewInput(n, types.TypeFP32, []int64{1})); err != nil {
			t.Fatalf("add %s: %v", n, err)
		}
	}
	got := make([]string, 0, 3)
	for _, in := range r.Inputs() {
		got = append(got, in.Name())
	}
	for i, n := range names {
		if got[i] != n {
			t.Fatalf("Inputs() order = %v, want %v", got, names)
		}
	}
}

func TestReleaseRunsExactlyOnceAndInReverseOrder(t *testing.T) {
	r := New("m", 1)
	var order []int
	r.addInternalReleaseCallback(func() { order = append(order, 1) })
	r.addInternalReleaseCallback(func() { order = append(order, 2) })
	userReleased := false
	r.SetReleaseCallback(func(*Request, ReleaseFlags, any) { userReleased = true }, nil)

	r.Release(ReleaseAll)
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected reverse-registration order [2 1], got %v", order)
	}
	if !userReleased {
		t.Fatal("expected user release callback to run")
	}
	if !r.Released() {
		t.Fatal("expected Released() to report true")
	}

	order = nil
	userReleased = false
	r.Release(ReleaseAll)
	if len(order) != 0 || userReleased {
		t.Fatal("second Release call must be a no-op")
	}
}

func TestRespondIfErrorDeliversErrorAndReleases(t *testing.T) {
	r := New("m", 1)
	var gotErr error
	var gotResp Response
	r.SetResponseCallback(func(resp Response, err error, _ any) {
		gotResp = resp
		gotErr = err
	}, nil)

	sentinel := errors.New("boom")
	RespondIfError(r, sentinel)

	if !errors.Is(gotErr, sentinel) {
		t.Fatalf("expected response callback to receive the error, got %v", gotErr)
	}
	if gotResp != nil {
		t.Fatalf("expected a nil Response on error, got %v", gotResp)
	}
	if !r.Released() {
		t.Fatal("expected RespondIfError to release the request")
	}
}

func TestRespondIfErrorNilIsNoOp(t *testing.T) {
	r := New("m", 1)
	called := false
	r.SetResponseCallback(func(Response, error, any) { called = true }, nil)
	RespondIfError(r, nil)
	if called {
		t.Fatal("RespondIfError(nil) must not invoke the response callback")
	}
	if r.Released() {
		t.Fatal("RespondIfError(nil) must not release the request")
	}
}

func TestRespondIfErrorBatchSplitsOkFromErrored(t *testing.T) {
	ok1 := New("m", 1)
	bad := New("m", 1)
	ok2 := New("m", 1)
	reqs := []*Request{ok1, bad, ok2}
	errs := []error{nil, errors.New("bad"), nil}

	remaining := RespondIfErrorBatch(reqs, errs)

	if len(remaining) != 2 || remaining[0] != ok1 || remaining[1] != ok2 {
		t.Fatalf("expected [ok1 ok2] to remain, got %v", remaining)
	}
	if !bad.Released() {
		t.Fatal("expected the errored request to be released")
	}
	if ok1.Released() || ok2.Released() {
		t.Fatal("the non-errored requests must not be released by RespondIfErrorBatch")
	}
}

func TestPrepareForInferenceComputesBatchSize(t *testing.T) {
	r := New("m", 1)
	in := NewInput("INPUT0", types.TypeFP32, []int64{2, 4})
	in.AppendData(make([]byte, 8*4))
	if err := r.AddOriginalInput(in); err != nil {
		t.Fatalf("add: %v", err)
	}
	specs := map[string]ModelInputSpec{
		"INPUT0": {Name: "INPUT0", DataType: types.TypeFP32, Dims: []int64{4}},
	}
	if err := PrepareForInference(r, specs, nil, 8); err != nil {
		t.Fatalf("PrepareForInference: %v", err)
	}
	if r.BatchSize() != 2 {
		t.Fatalf("BatchSize() = %d, want 2", r.BatchSize())
	}
	got, _ := r.Input("INPUT0")
	if len(got.Shape()) != 1 || got.Shape()[0] != 4 {
		t.Fatalf("expected batch dim stripped from shape, got %v", got.Shape())
	}
}

func TestPrepareForInferenceRejectsUnknownInput(t *testing.T) {
	r := New("m", 1)
	if err := r.AddOriginalInput(NewInput("BOGUS", types.TypeFP32, []int64{4})); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := PrepareForInference(r, map[string]ModelInputSpec{}, nil, 0)
	if !ierr.IsInvalidArgument(err) {
		t.Fatalf("expected INVALID_ARG, got %v", err)
	}
}

func TestPrepareForInferenceRejectsBatchDimensionOverMax(t *testing.T) {
	r := New("m", 1)
	in := NewInput("INPUT0", types.TypeFP32, []int64{16, 4})
	if err := r.AddOriginalInput(in); err != nil {
		t.Fatalf("add: %v", err)
	}
	specs := map[string]ModelInputSpec{"INPUT0": {Dims: []int64{4}}}
	err := PrepareForInference(r, specs, nil, 8)
	if !ierr.IsInvalidArgument(err) {
		t.Fatalf("expected INVALID_ARG for batch dim over max, got %v", err)
	}
}

func TestPrepareForInferenceRejectsIncompatibleDims(t *testing.T) {
	r := New("m", 1)
	in := NewInput("INPUT0", types.TypeFP32, []int64{4})
	if err := r.AddOriginalInput(in); err != nil {
		t.Fatalf("add: %v", err)
	}
	specs := map[string]ModelInputSpec{"INPUT0": {Dims: []int64{8}}}
	err := PrepareForInference(r, specs, nil, 0)
	if !ierr.IsInvalidArgument(err) {
		t.Fatalf("expected INVALID_ARG for incompatible dims, got %v", err)
	}
}

func TestPrepareForInferenceRejectsInputCountMismatch(t *testing.T) {
	r := New("m", 1)
	if err := r.AddOriginalInput(NewInput("INPUT0", types.TypeFP32, []int64{4})); err != nil {
		t.Fatalf("add: %v", err)
	}
	specs := map[string]ModelInputSpec{
		"INPUT0": {Dims: []int64{4}},
		"INPUT1": {Dims: []int64{4}},
	}
	err := PrepareForInference(r, specs, nil, 0)
	if !ierr.IsInvalidArgument(err) {
		t.Fatalf("expected INVALID_ARG when the request supplies fewer inputs than the model expects, got %v", err)
	}
}

func TestPrepareForInferenceDefaultsEmptyRequestedOutputsToEveryModelOutput(t *testing.T) {
	r := New("m", 1)
	if err := r.AddOriginalInput(NewInput("INPUT0", types.TypeFP32, []int64{4})); err != nil {
		t.Fatalf("add: %v", err)
	}
	specs := map[string]ModelInputSpec{"INPUT0": {Dims: []int64{4}}}
	if err := PrepareForInference(r, specs, []string{"OUTPUT0", "OUTPUT1"}, 0); err != nil {
		t.Fatalf("PrepareForInference: %v", err)
	}
	got := r.RequestedOutputs()
	if len(got) != 2 || got[0] != "OUTPUT0" || got[1] != "OUTPUT1" {
		t.Fatalf("RequestedOutputs() = %v, want every model output", got)
	}
}

func TestPrepareForInferenceRejectsUnknownRequestedOutput(t *testing.T) {
	r := New("m", 1)
	if err := r.AddOriginalInput(NewInput("INPUT0", types.TypeFP32, []int64{4})); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.AddOriginalRequestedOutput("BOGUS_OUTPUT")
	specs := map[string]ModelInputSpec{"INPUT0": {Dims: []int64{4}}}
	err := PrepareForInference(r, specs, []string{"OUTPUT0"}, 0)
	if !ierr.IsInvalidArgument(err) {
		t.Fatalf("expected INVALID_ARG for a requested output the model does not produce, got %v", err)
	}
}

func TestPrepareForInferenceAppliesReshapeWildcards(t *testing.T) {
	r := New("m", 1)
	in := NewInput("INPUT0", types.TypeFP32, []int64{4, 5, 2})
	if err := r.AddOriginalInput(in); err != nil {
		t.Fatalf("add: %v", err)
	}
	// The model's wildcard sits at index 1 of its configured dims, not at
	// index 0 of the request's shape: the reshape's -1 must be filled from
	// the value standing at that same index (5), never from whichever
	// position a naive left-to-right scan over the request's own dims
	// happens to reach first (which would wrongly produce 4).
	specs := map[string]ModelInputSpec{
		"INPUT0": {Dims: []int64{4, -1, 2}, Reshape: []int64{-1, 8}},
	}
	if err := PrepareForInference(r, specs, nil, 0); err != nil {
		t.Fatalf("PrepareForInference: %v", err)
	}
	got, _ := r.Input("INPUT0")
	want := []int64{5, 8}
	if len(got.Shape()) != len(want) {
		t.Fatalf("Shape() = %v, want %v", got.Shape(), want)
	}
	for i := range want {
		if got.Shape()[i] != want[i] {
			t.Fatalf("Shape() = %v, want %v", got.Shape(), want)
		}
	}
}

func TestPrepareForInferenceReshapeStillValidatesDimsAgainstModelConfig(t *testing.T) {
	r := New("m", 1)
	in := NewInput("INPUT0", types.TypeFP32, []int64{3, 5, 2})
	if err := r.AddOriginalInput(in); err != nil {
		t.Fatalf("add: %v", err)
	}
	specs := map[string]ModelInputSpec{
		"INPUT0": {Dims: []int64{4, -1, 2}, Reshape: []int64{-1, 8}},
	}
	err := PrepareForInference(r, specs, nil, 0)
	if !ierr.IsInvalidArgument(err) {
		t.Fatalf("expected INVALID_ARG when dims disagree with the model config even though a reshape is set, got %v", err)
	}
}

func TestPrepareForInferenceIsIdempotentWithoutInterveningMutation(t *testing.T) {
	r := New("m", 1)
	in := NewInput("INPUT0", types.TypeFP32, []int64{2, 4})
	in.AppendData(make([]byte, 8*4))
	if err := r.AddOriginalInput(in); err != nil {
		t.Fatalf("add: %v", err)
	}
	specs := map[string]ModelInputSpec{
		"INPUT0": {Name: "INPUT0", DataType: types.TypeFP32, Dims: []int64{4}},
	}
	outputNames := []string{"OUTPUT0"}

	if err := PrepareForInference(r, specs, outputNames, 8); err != nil {
		t.Fatalf("first call: %v", err)
	}
	firstBatch := r.BatchSize()
	firstShape := append([]int64(nil), in.Shape()...)
	firstOutputs := r.RequestedOutputs()

	if err := PrepareForInference(r, specs, outputNames, 8); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if r.BatchSize() != firstBatch {
		t.Fatalf("BatchSize() changed across idempotent calls: %d != %d", r.BatchSize(), firstBatch)
	}
	if len(in.Shape()) != len(firstShape) {
		t.Fatalf("Shape() changed across idempotent calls: %v != %v", in.Shape(), firstShape)
	}
	for i := range firstShape {
		if in.Shape()[i] != firstShape[i] {
			t.Fatalf("Shape() changed across idempotent calls: %v != %v", in.Shape(), firstShape)
		}
	}
	gotOutputs := r.RequestedOutputs()
	if len(gotOutputs) != len(firstOutputs) || gotOutputs[0] != firstOutputs[0] {
		t.Fatalf("RequestedOutputs() changed across idempotent calls: %v != %v", gotOutputs, firstOutputs)
	}
}

func TestPrepareForInferenceRenormalizesAfterMutation(t *testing.T) {
	r := New("m", 1)
	in := NewInput("INPUT0", types.TypeFP32, []int64{4})
	if err := r.AddOriginalInput(in); err != nil {
		t.Fatalf("add: %v", err)
	}
	specs := map[string]ModelInputSpec{"INPUT0": {Dims: []int64{4}}}
	if err := PrepareForInference(r, specs, nil, 0); err != nil {
		t.Fatalf("first call: %v", err)
	}

	in2 := NewInput("INPUT1", types.TypeFP32, []int64{2})
	if err := r.AddOriginalInput(in2); err != nil {
		t.Fatalf("add second input: %v", err)
	}
	specs["INPUT1"] = ModelInputSpec{Dims: []int64{2}}
	if err := PrepareForInference(r, specs, nil, 0); err != nil {
		t.Fatalf("second call after mutation: %v", err)
	}
	if len(r.Inputs()) != 2 {
		t.Fatalf("expected both inputs present after renormalization, got %v", r.Inputs())
	}
}

func TestRemoveAllOriginalInputsThenPrepareFailsWhenModelExpectsInputs(t *testing.T) {
	r := New("m", 1)
	if err := r.AddOriginalInput(NewInput("INPUT0", types.TypeFP32, []int64{4})); err != nil {
		t.Fatalf("add: %v", err)
	}
	specs := map[string]ModelInputSpec{"INPUT0": {Dims: []int64{4}}}
	if err := PrepareForInference(r, specs, nil, 0); err != nil {
		t.Fatalf("first call: %v", err)
	}

	r.RemoveAllOriginalInputs()
	err := PrepareForInference(r, specs, nil, 0)
	if !ierr.IsInvalidArgument(err) {
		t.Fatalf("expected INVALID_ARG once the model's required inputs are missing, got %v", err)
	}
}

func TestRemoveOriginalInputRejectsUnknownName(t *testing.T) {
	r := New("m", 1)
	if err := r.RemoveOriginalInput("NEVER_ADDED"); !ierr.IsInvalidArgument(err) {
		t.Fatalf("expected INVALID_ARG removing an input that was never added, got %v", err)
	}
}

func TestRemoveOriginalInputDropsOnlyThatInput(t *testing.T) {
	r := New("m", 1)
	if err := r.AddOriginalInput(NewInput("INPUT0", types.TypeFP32, []int64{4})); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.AddOriginalInput(NewInput("INPUT1", types.TypeFP32, []int64{4})); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.RemoveOriginalInput("INPUT0"); err != nil {
		t.Fatalf("RemoveOriginalInput: %v", err)
	}
	if _, ok := r.Input("INPUT0"); ok {
		t.Fatal("expected INPUT0 to be gone")
	}
	if _, ok := r.Input("INPUT1"); !ok {
		t.Fatal("expected INPUT1 to remain")
	}
}

func TestRemoveAllOriginalRequestedOutputsThenPrepareDefaultsToEveryModelOutput(t *testing.T) {
	r := New("m", 1)
	if err := r.AddOriginalInput(NewInput("INPUT0", types.TypeFP32, []int64{4})); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.AddOriginalRequestedOutput("OUTPUT0")
	specs := map[string]ModelInputSpec{"INPUT0": {Dims: []int64{4}}}

	r.RemoveAllOriginalRequestedOutputs()
	if err := PrepareForInference(r, specs, []string{"OUTPUT0", "OUTPUT1"}, 0); err != nil {
		t.Fatalf("PrepareForInference: %v", err)
	}
	got := r.RequestedOutputs()
	if len(got) != 2 {
		t.Fatalf("RequestedOutputs() = %v, want every model output after RemoveAllOriginalRequestedOutputs", got)
	}
}

func TestRemoveOriginalRequestedOutputOfUnrequestedNameIsNoOp(t *testing.T) {
	r := New("m", 1)
	r.AddOriginalRequestedOutput("OUTPUT0")
	r.RemoveOriginalRequestedOutput("NEVER_REQUESTED")
	specs := map[string]ModelInputSpec{}
	if err := PrepareForInference(r, specs, []string{"OUTPUT0"}, 0); err != nil {
		t.Fatalf("PrepareForInference: %v", err)
	}
	got := r.RequestedOutputs()
	if len(got) != 1 || got[0] != "OUTPUT0" {
		t.Fatalf("RequestedOutputs() = %v, want [OUTPUT0] unaffected", got)
	}
}

func TestShapeTensorSkipsBatchDimensionStripping(t *testing.T) {
	r := New("m", 1)
	in := NewInput("SHAPE0", types.TypeInt32, []int64{3})
	if err := r.AddOriginalInput(in); err != nil {
		t.Fatalf("add: %v", err)
	}
	specs := map[string]ModelInputSpec{
		"SHAPE0": {IsShapeTensor: true, Dims: []int64{3}},
	}
	if err := PrepareForInference(r, specs, nil, 4); err != nil {
		t.Fatalf("PrepareForInference: %v", err)
	}
	got, _ := r.Input("SHAPE0")
	if len(got.Shape()) != 1 || got.Shape()[0] != 3 {
		t.Fatalf("expected shape tensor dims untouched, got %v", got.Shape())
	}
	if r.BatchSize() != 0 {
		t.Fatalf("expected BatchSize()=0 when only a shape tensor is present, got %d", r.BatchSize())
	}
}

func TestCopyAsNullSharesOneZeroBufferAcrossRegularInputs(t *testing.T) {
	src := New("m", 1)
	small := NewInput("SMALL", types.TypeFP32, []int64{2})
	small.AppendData([]byte{1, 2})
	big := NewInput("BIG", types.TypeFP32, []int64{4})
	big.AppendData([]byte{1, 2, 3, 4})
	shape := NewInput("SHAPE0", types.TypeInt32, []int64{1})
	shape.SetIsShapeTensor(true)
	shape.AppendData([]byte{7})

	if err := src.AddOriginalInput(small); err != nil {
		t.Fatalf("add small: %v", err)
	}
	if err := src.AddOriginalInput(big); err != nil {
		t.Fatalf("add big: %v", err)
	}
	if err := src.AddOriginalInput(shape); err != nil {
		t.Fatalf("add shape: %v", err)
	}

	dst := CopyAsNull(src)
	if !dst.IsNull() {
		t.Fatal("expected IsNull() to report true")
	}
	if len(dst.RequestedOutputs()) != 0 {
		t.Fatal("a null-copy request must request no outputs")
	}

	dstSmall, _ := dst.Input("SMALL")
	dstBig, _ := dst.Input("BIG")
	if len(dstSmall.Buffers()) != 1 || dstSmall.ByteSize() != 2 {
		t.Fatalf("unexpected SMALL byte size: %d", dstSmall.ByteSize())
	}
	if len(dstBig.Buffers()) != 1 || dstBig.ByteSize() != 4 {
		t.Fatalf("unexpected BIG byte size: %d", dstBig.ByteSize())
	}
	for _, b := range dstSmall.Buffers()[0] {
		if b != 0 {
			t.Fatal("expected zeroed placeholder data in a null-copy input")
		}
	}

	dstShape, _ := dst.Input("SHAPE0")
	if !dstShape.IsShapeTensor() {
		t.Fatal("expected the shape tensor flag to carry over")
	}

	// Release on a null-copy request must be safe even though no release
	// callback was ever set by a caller (CopyAsNull installs a no-op one).
	dst.Release(ReleaseAll)
	if !dst.Released() {
		t.Fatal("expected Released() to report true after Release")
	}
}
