package model

import (
	"bufio"
	"os"
	"path/filepath"

	"inferd/internal/ierr"
	"inferd/pkg/types"
)

// LabelProvider holds the label file contents for every output that
// declares one, keyed by output name then by class index, read from one
// newline-delimited label file per output.
type LabelProvider struct {
	labels map[string][]string
}

// GetLabel returns the class label for outputName at the given index, or
// "" if the output has no label file or the index is out of range.
func (lp *LabelProvider) GetLabel(outputName string, index int) string {
	if lp == nil {
		return ""
	}
	list := lp.labels[outputName]
	if index < 0 || index >= len(list) {
		return ""
	}
	return list[index]
}

// HasLabels reports whether outputName has an associated label file.
func (lp *LabelProvider) HasLabels(outputName string) bool {
	if lp == nil {
		return false
	}
	_, ok := lp.labels[outputName]
	return ok
}

func loadLabels(cfg types.ModelConfig) (*LabelProvider, error) {
	lp := &LabelProvider{labels: make(map[string][]string)}
	for _, out := range cfg.Output {
		if out.LabelFilename == "" {
			continue
		}
		lines, err := readLabelFile(out.LabelFilename)
		if err != nil {
			return nil, ierr.InvalidArgument("model", "reading label file for output "+out.Name, err)
		}
		lp.labels[out.Name] = lines
	}
	return lp, nil
}

func readLabelFile(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
