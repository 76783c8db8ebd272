package request

import (
	"fmt"

	"inferd/internal/ierr"
	"inferd/pkg/types"
)

// ModelInputSpec is the subset of a model's configured input the
// normalizer needs; package model supplies the real types.ModelInput,
// this narrow interface keeps package request free of an import cycle on
// package model.
type ModelInputSpec struct {
	Name          string
	DataType      types.DataType
	Dims          []int64
	IsShapeTensor bool
	Reshape       []int64
}

// PrepareForInference normalizes req against the model's configured
// inputs and outputs and computes the request's batch size. It is
// idempotent preparation: call it after every AddOriginalInput/
// AddOverrideInput/requested-output change, as many times as convenient,
// before the request reaches a ModelInstance — a call that finds nothing
// has changed since the last successful run is a no-op that returns the
// previously computed state. outputNames lists every output the model
// produces; maxBatchSize is the model's configured max_batch_size (0
// means the model does not batch).
func PrepareForInference(r *Request, specs map[string]ModelInputSpec, outputNames []string, maxBatchSize int) error {
	if !r.pendingNormalization() {
		return nil
	}

	if err := resolveRequestedOutputs(r, outputNames); err != nil {
		return err
	}

	inputs := r.Inputs()
	if len(inputs) != len(specs) {
		return ierr.InvalidArgument("request", fmt.Sprintf("expected %d inputs but got %d inputs for model %s", len(specs), len(inputs), r.ModelName), nil)
	}

	batchSize := 0
	for _, in := range inputs {
		spec, ok := specs[in.Name()]
		if !ok {
			return ierr.InvalidArgument("request", fmt.Sprintf("unexpected input %q for model %s", in.Name(), r.ModelName), nil)
		}
		in.SetIsShapeTensor(spec.IsShapeTensor)
		b, err := normalizeInput(in, spec, maxBatchSize)
		if err != nil {
			return err
		}
		if b > 0 {
			if batchSize != 0 && b != batchSize {
				return ierr.InvalidArgument("request", "inconsistent batch size across inputs", nil)
			}
			batchSize = b
		}
	}
	r.setBatchSize(batchSize)
	r.clearNeedsNormalization()
	return nil
}

// resolveRequestedOutputs computes the resolved requested-output set: if
// the caller named none, every model output is requested; otherwise each
// caller-named output must be one the model actually produces.
func resolveRequestedOutputs(r *Request, outputNames []string) error {
	original := r.originalRequestedOutputsSnapshot()
	if len(original) == 0 {
		r.setResolvedRequestedOutputs(append([]string(nil), outputNames...))
		return nil
	}
	valid := make(map[string]bool, len(outputNames))
	for _, name := range outputNames {
		valid[name] = true
	}
	for _, name := range original {
		if !valid[name] {
			return ierr.InvalidArgument("request", fmt.Sprintf("unexpected requested output %q for model %s", name, r.ModelName), nil)
		}
	}
	r.setResolvedRequestedOutputs(original)
	return nil
}

// normalizeInput applies the Normalize algorithm to one input and returns
// the batch-dimension size it observed (0 if the input does not carry a
// batch dimension — shape tensors never do).
func normalizeInput(in *Input, spec ModelInputSpec, maxBatchSize int) (int, error) {
	dims := append([]int64(nil), in.originalDims...)

	batchDim := 0
	if maxBatchSize > 0 && !spec.IsShapeTensor && !in.overridden {
		// The caller-visible shape carries the batch dimension as dims[0];
		// strip it before validating against the model's per-instance dims.
		// Override inputs (warmup samples) already carry
		// exactly the dims the backend should see and skip this step.
		if len(dims) < 1 {
			return 0, ierr.InvalidArgument("request", "input "+in.Name()+" missing batch dimension", nil)
		}
		batchDim = int(dims[0])
		if batchDim <= 0 || batchDim > maxBatchSize {
			return 0, ierr.InvalidArgument("request", fmt.Sprintf("input %s batch dimension %d exceeds max_batch_size %d", in.Name(), batchDim, maxBatchSize), nil)
		}
		dims = dims[1:]
	}

	// The request's dims must match the model's configured dims before any
	// reshape is applied, wildcard (-1) positions in spec.Dims matching
	// anything — this check runs regardless of whether a reshape is also
	// configured.
	if len(spec.Dims) > 0 && !dimsCompatible(spec.Dims, dims) {
		return 0, ierr.InvalidArgument("request", fmt.Sprintf("input %s dims %v incompatible with model dims %v", in.Name(), dims, spec.Dims), nil)
	}

	// Reshape override: wildcard (-1) positions in spec.Reshape are filled,
	// in order, from the values dims carries at spec.Dims' own wildcard
	// positions — this is the override the backend actually sees, while
	// in.originalDims keeps the caller's real shape.
	effective := dims
	if len(spec.Reshape) > 0 {
		reshaped, err := applyReshape(spec.Reshape, spec.Dims, dims)
		if err != nil {
			return 0, err
		}
		effective = reshaped
	}

	in.setShape(effective)
	return batchDim, nil
}

// applyReshape fills -1 wildcard positions of reshape, in left-to-right
// order, with the values dims carries at the positions where configDims
// (the model's configured dims) is itself -1.
func applyReshape(reshape, configDims, dims []int64) ([]int64, error) {
	var variableSizeValues []int64
	for i, d := range configDims {
		if d == -1 && i < len(dims) {
			variableSizeValues = append(variableSizeValues, dims[i])
		}
	}

	out := make([]int64, len(reshape))
	vi := 0
	for i, d := range reshape {
		if d != -1 {
			out[i] = d
			continue
		}
		if vi >= len(variableSizeValues) {
			return nil, ierr.InvalidArgument("request", "reshape has more wildcards than the model's variable-size dims", nil)
		}
		out[i] = variableSizeValues[vi]
		vi++
	}
	return out, nil
}

// dimsCompatible reports whether want (the model's configured dims, which
// may contain -1 wildcards meaning "any") matches got dimension-by-dimension.
func dimsCompatible(want, got []int64) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] == -1 {
			continue
		}
		if want[i] != got[i] {
			return false
		}
	}
	return true
}
