package types

// DataType enumerates the tensor element types the core understands.
// Backends are free to reject types they do not support with UNSUPPORTED.
type DataType string

const (
	TypeInvalid DataType = ""
	TypeBool    DataType = "TYPE_BOOL"
	TypeUint8   DataType = "TYPE_UINT8"
	TypeInt32   DataType = "TYPE_INT32"
	TypeInt64   DataType = "TYPE_INT64"
	TypeFP32    DataType = "TYPE_FP32"
	TypeFP64    DataType = "TYPE_FP64"
	TypeString  DataType = "TYPE_STRING"
)

// ByteSize returns the per-element byte size for fixed-width types, or 0
// for TYPE_STRING (whose elements are variable-length and sized by their
// own length prefix, never by ByteSize).
func (d DataType) ByteSize() int {
	switch d {
	case TypeBool, TypeUint8:
		return 1
	case TypeInt32, TypeFP32:
		return 4
	case TypeInt64, TypeFP64:
		return 8
	default:
		return 0
	}
}

// InstanceGroupKind enumerates the supported instance_group.kind values.
type InstanceGroupKind string

const (
	KindCPU   InstanceGroupKind = "KIND_CPU"
	KindGPU   InstanceGroupKind = "KIND_GPU"
	KindModel InstanceGroupKind = "KIND_MODEL"
)

// ModelInput describes one named input tensor a model accepts.
type ModelInput struct {
	Name          string   `json:"name" yaml:"name" toml:"name"`
	DataType      DataType `json:"data_type" yaml:"data_type" toml:"data_type"`
	Dims          []int64  `json:"dims" yaml:"dims" toml:"dims"`
	IsShapeTensor bool     `json:"is_shape_tensor,omitempty" yaml:"is_shape_tensor,omitempty" toml:"is_shape_tensor,omitempty"`
	// Reshape holds the wildcard-bearing shape the backend actually wants
	// to see, substituted per request from the input's real dims.
	Reshape []int64 `json:"reshape,omitempty" yaml:"reshape,omitempty" toml:"reshape,omitempty"`
}

// ModelOutput describes one named output tensor a model produces.
type ModelOutput struct {
	Name          string   `json:"name" yaml:"name" toml:"name"`
	DataType      DataType `json:"data_type" yaml:"data_type" toml:"data_type"`
	Dims          []int64  `json:"dims" yaml:"dims" toml:"dims"`
	LabelFilename string   `json:"label_filename,omitempty" yaml:"label_filename,omitempty" toml:"label_filename,omitempty"`
}

// InstanceGroup describes one group of ModelInstances to create for a
// model; Model.CreateInstances consumes these.
type InstanceGroup struct {
	Kind    InstanceGroupKind `json:"kind" yaml:"kind" toml:"kind"`
	Count   int               `json:"count" yaml:"count" toml:"count"`
	GPUs    []int             `json:"gpus,omitempty" yaml:"gpus,omitempty" toml:"gpus,omitempty"`
	Passive bool              `json:"passive,omitempty" yaml:"passive,omitempty" toml:"passive,omitempty"`
	Profile []string          `json:"profile,omitempty" yaml:"profile,omitempty" toml:"profile,omitempty"`
	// RateLimiter is carried opaquely; nothing in the core interprets it.
	RateLimiter map[string]any `json:"rate_limiter,omitempty" yaml:"rate_limiter,omitempty" toml:"rate_limiter,omitempty"`
}

// WarmupSource selects how a warmup sample's bytes for one input are
// produced; exactly one field should be set.
type WarmupSource struct {
	ZeroData      bool   `json:"zero_data,omitempty" yaml:"zero_data,omitempty" toml:"zero_data,omitempty"`
	RandomData    bool   `json:"random_data,omitempty" yaml:"random_data,omitempty" toml:"random_data,omitempty"`
	InputDataFile string `json:"input_data_file,omitempty" yaml:"input_data_file,omitempty" toml:"input_data_file,omitempty"`
}

// WarmupInput is one input's synthetic sample spec within a ModelWarmup.
type WarmupInput struct {
	DataType DataType     `json:"data_type" yaml:"data_type" toml:"data_type"`
	Dims     []int64      `json:"dims" yaml:"dims" toml:"dims"`
	Source   WarmupSource `json:"source" yaml:"source" toml:"source"`
}

// ModelWarmup is one named warmup sequence.
type ModelWarmup struct {
	Name      string                 `json:"name" yaml:"name" toml:"name"`
	BatchSize int                    `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	Inputs    map[string]WarmupInput `json:"inputs" yaml:"inputs" toml:"inputs"`
}

// ModelConfig is the full per-model configuration document.
type ModelConfig struct {
	Name          string          `json:"name" yaml:"name" toml:"name"`
	MaxBatchSize  int             `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size"`
	Input         []ModelInput    `json:"input" yaml:"input" toml:"input"`
	Output        []ModelOutput   `json:"output" yaml:"output" toml:"output"`
	InstanceGroup []InstanceGroup `json:"instance_group" yaml:"instance_group" toml:"instance_group"`
	ModelWarmup   []ModelWarmup   `json:"model_warmup,omitempty" yaml:"model_warmup,omitempty" toml:"model_warmup,omitempty"`
	// SequenceBatching is never interpreted by the core; it is stored
	// opaquely so configs written for a sequence-aware scheduler round-trip.
	SequenceBatching map[string]any   `json:"sequence_batching,omitempty" yaml:"sequence_batching,omitempty" toml:"sequence_batching,omitempty"`
	Parameters       map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty" toml:"parameters,omitempty"`
}

// Validate checks the structural invariants required at load time,
// independent of any particular backend.
func (c *ModelConfig) Validate() error {
	if c.Name == "" {
		return errInvalidConfig("model name is required")
	}
	if c.MaxBatchSize < 0 {
		return errInvalidConfig("max_batch_size must be >= 0")
	}
	seen := make(map[string]struct{}, len(c.Input))
	for _, in := range c.Input {
		if in.Name == "" {
			return errInvalidConfig("input name is required")
		}
		if _, dup := seen[in.Name]; dup {
			return errInvalidConfig("duplicate input name: " + in.Name)
		}
		seen[in.Name] = struct{}{}
	}
	for _, g := range c.InstanceGroup {
		switch g.Kind {
		case KindCPU, KindGPU, KindModel:
		default:
			return errInvalidConfig("unsupported instance_group.kind: " + string(g.Kind))
		}
		if g.Count <= 0 {
			return errInvalidConfig("instance_group.count must be > 0")
		}
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errInvalidConfig(msg string) error { return configError(msg) }
