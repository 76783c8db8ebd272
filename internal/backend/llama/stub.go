//go:build !llama

package llama

import (
	"context"

	"inferd/internal/backend"
	"inferd/internal/ierr"
)

// Backend is the stub stand-in used when the binary was built without
// the llama tag: New always fails instead of silently no-opping.
type Backend struct{}

func New(params map[string]string) (*Backend, error) {
	return nil, ierr.Unavailable("backend/llama", "llama backend support not built into this binary (build with -tags llama)", nil)
}

func (b *Backend) ModelInit(context.Context, string, map[string]string) error { return nil }
func (b *Backend) ModelFini(context.Context) error                            { return nil }

func (b *Backend) NewInstance() backend.InstanceBackend { return nil }
