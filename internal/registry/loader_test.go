package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeModel(t *testing.T, root, name, yamlBody string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadDirFindsEachModelConfig(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "resnet50", "name: resnet50\ninstance_group:\n  - kind: KIND_CPU\n    count: 1\n")
	writeModel(t, root, "bert", "name: bert\ninstance_group:\n  - kind: KIND_CPU\n    count: 1\n")

	cfgs, err := LoadDir(root)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("expected 2 model configs, got %d", len(cfgs))
	}
}

func TestLoadDirSkipsDirsWithoutConfig(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "not-a-model"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgs, err := LoadDir(root)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(cfgs) != 0 {
		t.Fatalf("expected 0 model configs, got %d", len(cfgs))
	}
}

func TestLoadDirDefaultsNameToDirname(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "unnamed", "instance_group:\n  - kind: KIND_CPU\n    count: 1\n")
	cfgs, err := LoadDir(root)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(cfgs) != 1 || cfgs[0].Name != "unnamed" {
		t.Fatalf("expected name defaulted to dirname, got %+v", cfgs)
	}
}
