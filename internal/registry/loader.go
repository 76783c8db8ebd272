// Package registry discovers model configurations on disk: one
// subdirectory per model, each containing a config.{yaml,yml,json,toml}
// describing that model per pkg/types.ModelConfig, plus whatever warmup
// data files and label files its config references by relative path.
// The unit of discovery is a config file, not a weights file, because a
// Model here owns a config, not a weights blob.
package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"inferd/internal/common/fsutil"
	"inferd/internal/config"
	"inferd/pkg/types"
)

var configBasenames = []string{"config.yaml", "config.yml", "config.json", "config.toml"}

// LoadDir scans dir for one subdirectory per model and decodes each
// subdirectory's config file into a types.ModelConfig. A subdirectory
// without any of configBasenames is skipped, not an error — unrelated
// files in the models directory are ignored rather than aborting the
// whole load.
func LoadDir(dir string) ([]types.ModelConfig, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var out []types.ModelConfig
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		modelDir := filepath.Join(abs, e.Name())
		cfgPath, ok := findConfigFile(modelDir)
		if !ok {
			continue
		}
		cfg, err := config.DecodeModelConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", e.Name(), err)
		}
		if cfg.Name == "" {
			cfg.Name = e.Name()
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("model %s: %w", e.Name(), err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func findConfigFile(modelDir string) (string, bool) {
	for _, name := range configBasenames {
		p := filepath.Join(modelDir, name)
		if fsutil.PathExists(p) {
			return p, true
		}
	}
	return "", false
}
