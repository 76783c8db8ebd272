// Package config loads both the service-level Config (address, models
// directory, log level) and per-model types.ModelConfig documents, using
// the same extension-dispatched YAML/JSON/TOML decoding for both.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"inferd/pkg/types"
)

// Config holds runtime parameters for the inferd process itself — the
// ambient concerns (listen address, models directory, log level) that
// are orthogonal to any single model's configuration.
type Config struct {
	Addr        string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir   string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	LogLevel    string `json:"log_level" yaml:"log_level" toml:"log_level"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr" toml:"metrics_addr"`
}

// Load reads a service Config from path, dispatching on its extension.
func Load(path string) (Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadModelConfig reads and validates one types.ModelConfig from path.
func LoadModelConfig(path string) (types.ModelConfig, error) {
	cfg, err := DecodeModelConfig(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// DecodeModelConfig reads path into a types.ModelConfig without
// validating it — used by registry.LoadDir, which still needs to default
// an unset Name from the containing directory before Validate can run.
func DecodeModelConfig(path string) (types.ModelConfig, error) {
	var cfg types.ModelConfig
	err := decodeFile(path, &cfg)
	return cfg, err
}

// decodeFile dispatches to the right unmarshaler based on path's
// extension. Supports: .yaml/.yml, .json, .toml.
func decodeFile(path string, out any) error {
	if path == "" {
		return fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, out)
	case ".json":
		return json.Unmarshal(b, out)
	case ".toml":
		return toml.Unmarshal(b, out)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
}
