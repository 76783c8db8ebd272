package llama

import (
	"encoding/binary"
	"strconv"
	"strings"

	"inferd/internal/ierr"
)

// encodeSingleString and decodeSingleString mirror the 4-byte-length-
// prefix element layout internal/httpapi/tensor.go uses for TYPE_STRING
// tensors, so a llama-backed model's output round-trips through the HTTP
// front-end exactly like any other string tensor. Kept as a tiny local
// copy rather than importing internal/httpapi, which is a front-end
// package and must not become a dependency of a backend.
func encodeSingleString(s string) ([]byte, error) {
	buf := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(s)))
	copy(buf[4:], s)
	return buf, nil
}

func decodeSingleString(buf []byte) (string, error) {
	if len(buf) < 4 {
		return "", ierr.InvalidArgument("backend/llama", "string tensor buffer shorter than length prefix", nil)
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	if int(n) > len(buf)-4 {
		return "", ierr.InvalidArgument("backend/llama", "string tensor length prefix exceeds buffer", nil)
	}
	return string(buf[4 : 4+n]), nil
}

// Options holds the predict-time knobs sourced from a model's
// parameters map instead of a per-call struct, since this BI's Exec has
// no per-call parameter channel of its own.
type Options struct {
	ContextSize int
	Threads     int
	TopK        int
	TopP        float64
	Temperature float64
	Penalty     float64
	Seed        int
	MaxTokens   int
	StopWords   []string
}

// optionsFromParams reads predict-time knobs out of a model's parameters
// map instead of a per-request struct, since this BI's Exec has no
// per-call parameter channel.
func optionsFromParams(params map[string]string) Options {
	o := Options{
		ContextSize: 2048,
		Threads:     4,
		TopK:        40,
		TopP:        0.95,
		Temperature: 0.8,
		Penalty:     1.1,
		Seed:        -1,
		MaxTokens:   128,
	}
	if v, err := strconv.Atoi(params["llama_context_size"]); err == nil {
		o.ContextSize = v
	}
	if v, err := strconv.Atoi(params["llama_threads"]); err == nil {
		o.Threads = v
	}
	if v, err := strconv.Atoi(params["llama_top_k"]); err == nil {
		o.TopK = v
	}
	if v, err := strconv.ParseFloat(params["llama_top_p"], 64); err == nil {
		o.TopP = v
	}
	if v, err := strconv.ParseFloat(params["llama_temperature"], 64); err == nil {
		o.Temperature = v
	}
	if v, err := strconv.ParseFloat(params["llama_penalty"], 64); err == nil {
		o.Penalty = v
	}
	if v, err := strconv.Atoi(params["llama_seed"]); err == nil {
		o.Seed = v
	}
	if v, err := strconv.Atoi(params["llama_max_tokens"]); err == nil {
		o.MaxTokens = v
	}
	if sw := params["llama_stop_words"]; sw != "" {
		o.StopWords = splitCSV(sw)
	}
	return o
}

// splitCSV trims whitespace around each comma-separated element and
// drops empty ones.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
