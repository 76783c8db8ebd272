package request

import "inferd/pkg/types"

// Input is one named input tensor attached to a Request. It accumulates
// its bytes across one or more AppendData calls before PrepareForInference
// normalizes it (see Normalize in normalize.go).
type Input struct {
	name          string
	dataType      types.DataType
	originalDims  []int64 // dims exactly as the caller supplied them
	shape         []int64 // dims after Normalize (batch-dim stripped, reshape applied)
	isShapeTensor bool
	overridden    bool // true if this is a backend-injected override input (warmup)
	buffers       [][]byte
	byteSize      int64
}

// NewInput constructs an Input; dims are the caller-supplied original
// dims, exactly as they arrived on the wire, batch dimension included
// when the model batches.
func NewInput(name string, dt types.DataType, dims []int64) *Input {
	d := append([]int64(nil), dims...)
	return &Input{name: name, dataType: dt, originalDims: d, shape: d}
}

func (in *Input) Name() string            { return in.name }
func (in *Input) DataType() types.DataType { return in.dataType }
func (in *Input) OriginalDims() []int64   { return in.originalDims }
func (in *Input) Shape() []int64          { return in.shape }
func (in *Input) IsShapeTensor() bool     { return in.isShapeTensor }
func (in *Input) ByteSize() int64         { return in.byteSize }
func (in *Input) Buffers() [][]byte       { return in.buffers }

// SetIsShapeTensor marks this input as a shape tensor; shape tensors skip
// batch-dimension stripping during Normalize.
func (in *Input) SetIsShapeTensor(v bool) { in.isShapeTensor = v }

// AppendData appends one contiguous buffer of bytes to the input: the
// first call is equivalent to a SetData, subsequent calls append
// additional non-contiguous buffers.
func (in *Input) AppendData(buf []byte) {
	in.buffers = append(in.buffers, buf)
	in.byteSize += int64(len(buf))
}

// setShape overwrites the post-normalization shape; used by Normalize and
// by CopyAsNull, never by callers directly.
func (in *Input) setShape(dims []int64) { in.shape = dims }
