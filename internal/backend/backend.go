// Package backend defines the Backend Interface (BI): the ABI contract a
// model backend implements so that ModelInstance can drive it, modeled
// on the opaque-handle-and-accessor-function ABI a C-based inference
// server exposes to its backends. Go has no need for that shape — an
// interface value is already an opaque handle with accessor methods —
// so this package expresses the same ownership-transfer contract as a
// plain interface.
package backend

import (
	"context"

	"inferd/internal/request"
)

// Backend is the per-model ABI surface. ModelInit/ModelFini are optional:
// a backend that leaves them nil is treated as a no-op, via the
// Optional wrapper below.
type Backend interface {
	// ModelInit is called once when the model is loaded, before any
	// instance is created. Returning an error aborts model load.
	ModelInit(ctx context.Context, modelName string, params map[string]string) error
	// ModelFini is called once when the model is unloaded, after every
	// instance has been finalized.
	ModelFini(ctx context.Context) error
}

// InstanceBackend is the per-instance ABI surface a backend implements.
// Exec's contract is the load-bearing one: on success the
// backend has taken ownership of every request in reqs and must Release
// each one (directly or via its response callback's eventual Release);
// on error, the caller retains ownership and must itself call
// request.RespondIfError for every request that was not otherwise
// responded to.
type InstanceBackend interface {
	// ModelInstanceInit is called once per instance, before any Exec or
	// warmup call reaches it.
	ModelInstanceInit(ctx context.Context, deviceID int) error
	// ModelInstanceFini is called once per instance, when it is closed.
	// If the instance created its BackendThread, that thread has already
	// been stopped; an instance sharing a thread created by another
	// instance gets this call while that thread may still be running.
	ModelInstanceFini(ctx context.Context) error
	// ModelInstanceExec executes one batch. See the ownership contract
	// above; reqs is never empty.
	ModelInstanceExec(ctx context.Context, reqs []*request.Request) error
}

// NoopModel is embeddable by backends that have no model-level setup.
type NoopModel struct{}

func (NoopModel) ModelInit(context.Context, string, map[string]string) error { return nil }
func (NoopModel) ModelFini(context.Context) error                            { return nil }

// NoopInstanceLifecycle is embeddable by backends with no per-instance
// init/fini work, leaving only ModelInstanceExec to implement.
type NoopInstanceLifecycle struct{}

func (NoopInstanceLifecycle) ModelInstanceInit(context.Context, int) error { return nil }
func (NoopInstanceLifecycle) ModelInstanceFini(context.Context) error     { return nil }
