package request

// CopyAsNull builds a synthetic request with the same input shapes and
// data types as src but with placeholder (zeroed) data, for padding a
// batch to a uniform size. It uses a three-pass
// null-copy algorithm:
//
//  1. Shape tensors are copied verbatim into their own small buffer each
//     (their contents are semantically load-bearing — they describe
//     another tensor's shape — so they cannot share a generic zero buffer).
//  2. The largest byte size among the remaining (non-shape-tensor) inputs
//     is computed, and one shared zero-filled buffer of that size is
//     allocated once.
//  3. Every non-shape-tensor input is given a byte-length-only slice of
//     that single shared buffer: the input whose own size equals the max
//     owns the buffer (first AppendData call), and every other input's
//     AppendData call is just a shorter prefix view into the same backing
//     array — the "one big buffer, many small views" trick that keeps
//     the null-copy allocation-free.
//
// The new request uses a null release callback: the shared buffer and
// per-shape-tensor buffers are simply dropped by the garbage collector, so
// there is nothing to release explicitly beyond the Release() no-op.
func CopyAsNull(src *Request) *Request {
	dst := New(src.ModelName, src.ModelVersion)
	dst.isNull = true
	// A null request requests no outputs — it exists only to pad a batch
	// to a uniform size, never to be read by a caller.

	var maxSize int64
	var regular []*Input
	for _, in := range src.Inputs() {
		if in.IsShapeTensor() {
			shapeCopy := NewInput(in.Name(), in.DataType(), in.OriginalDims())
			shapeCopy.SetIsShapeTensor(true)
			shapeCopy.setShape(append([]int64(nil), in.Shape()...))
			var shapeData []byte
			for _, buf := range in.Buffers() {
				shapeData = append(shapeData, buf...)
			}
			shapeCopy.AppendData(shapeData)
			_ = dst.AddOriginalInput(shapeCopy)
			continue
		}
		regular = append(regular, in)
		if in.ByteSize() > maxSize {
			maxSize = in.ByteSize()
		}
	}

	shared := make([]byte, maxSize)
	for _, in := range regular {
		cp := NewInput(in.Name(), in.DataType(), in.OriginalDims())
		cp.setShape(append([]int64(nil), in.Shape()...))
		cp.AppendData(shared[:in.ByteSize()])
		_ = dst.AddOriginalInput(cp)
	}

	dst.SetReleaseCallback(func(*Request, ReleaseFlags, any) {}, nil)
	dst.needsNormalization = false
	dst.setBatchSize(src.BatchSize())
	return dst
}

func zeroBuffer(n int64) []byte {
	if n <= 0 {
		return nil
	}
	return make([]byte, n)
}
