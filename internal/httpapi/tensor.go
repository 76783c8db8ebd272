package httpapi

import (
	"encoding/binary"
	"fmt"
	"math"

	"inferd/internal/ierr"
	"inferd/pkg/types"
)

// encodeTensor packs a TensorWire's flat JSON values into the contiguous
// byte layout request.Input expects: fixed-width element packing, and a
// 4-byte-length-prefixed layout for TYPE_STRING. Built directly on
// encoding/binary.
func encodeTensor(dt types.DataType, data []any) ([]byte, error) {
	if dt == types.TypeString {
		return encodeStringTensor(data)
	}
	elemSize := dt.ByteSize()
	if elemSize == 0 {
		return nil, ierr.Unsupported("httpapi", "unsupported datatype for encoding: "+string(dt), nil)
	}
	buf := make([]byte, 0, elemSize*len(data))
	for i, v := range data {
		b, err := encodeElement(dt, v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

func encodeElement(dt types.DataType, v any) ([]byte, error) {
	switch dt {
	case types.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, ierr.InvalidArgument("httpapi", "expected bool", nil)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case types.TypeUint8:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		return []byte{byte(n)}, nil
	case types.TypeInt32:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(int32(n)))
		return out, nil
	case types.TypeInt64:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(n))
		return out, nil
	case types.TypeFP32:
		f, err := asFloat64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(f)))
		return out, nil
	case types.TypeFP64:
		f, err := asFloat64(v)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, math.Float64bits(f))
		return out, nil
	default:
		return nil, ierr.Unsupported("httpapi", "unsupported datatype: "+string(dt), nil)
	}
}

func encodeStringTensor(data []any) ([]byte, error) {
	var buf []byte
	for i, v := range data {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("element %d: expected string", i)
		}
		lenPrefix := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenPrefix, uint32(len(s)))
		buf = append(buf, lenPrefix...)
		buf = append(buf, []byte(s)...)
	}
	return buf, nil
}

// decodeTensor unpacks a response buffer back into flat JSON values for
// the given datatype and element count.
func decodeTensor(dt types.DataType, buf []byte, count int) ([]any, error) {
	if dt == types.TypeString {
		return decodeStringTensor(buf, count)
	}
	elemSize := dt.ByteSize()
	if elemSize == 0 {
		return nil, ierr.Unsupported("httpapi", "unsupported datatype for decoding: "+string(dt), nil)
	}
	if len(buf) < elemSize*count {
		return nil, ierr.Internal("httpapi", "response buffer too short for declared shape", nil)
	}
	out := make([]any, count)
	for i := 0; i < count; i++ {
		chunk := buf[i*elemSize : (i+1)*elemSize]
		switch dt {
		case types.TypeBool:
			out[i] = chunk[0] != 0
		case types.TypeUint8:
			out[i] = int64(chunk[0])
		case types.TypeInt32:
			out[i] = int64(int32(binary.LittleEndian.Uint32(chunk)))
		case types.TypeInt64:
			out[i] = int64(binary.LittleEndian.Uint64(chunk))
		case types.TypeFP32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		case types.TypeFP64:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(chunk))
		}
	}
	return out, nil
}

func decodeStringTensor(buf []byte, count int) ([]any, error) {
	out := make([]any, 0, count)
	off := 0
	for i := 0; i < count; i++ {
		if off+4 > len(buf) {
			return nil, ierr.Internal("httpapi", "truncated string tensor length prefix", nil)
		}
		n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+n > len(buf) {
			return nil, ierr.Internal("httpapi", "truncated string tensor payload", nil)
		}
		out = append(out, string(buf[off:off+n]))
		off += n
	}
	return out, nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, ierr.InvalidArgument("httpapi", "expected a number", nil)
	}
}

func asFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, ierr.InvalidArgument("httpapi", "expected a number", nil)
	}
}

// elementCount multiplies dims, treating an empty dims slice as a single
// scalar element.
func elementCount(dims []int64) int {
	n := 1
	for _, d := range dims {
		if d <= 0 {
			continue
		}
		n *= int(d)
	}
	return n
}
