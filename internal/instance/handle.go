// Package instance implements the ModelInstance (MI) and BackendThread
// (BT) components: the per-replica execution unit and the optional
// dedicated goroutine that serializes work for every instance sharing a
// device.
package instance

import (
	"context"

	"inferd/internal/backend"
	"inferd/internal/request"
)

// NoGPUDevice is the sentinel device id for CPU-kind instance groups.
const NoGPUDevice = -1

// ModelHandle is the narrow, non-owning view of a Model that a
// ModelInstance is allowed to hold. Model owns its instances outright;
// instances never hold a *model.Model back-pointer, which would make
// Model and ModelInstance a reference cycle — they hold this handle
// instead, built once by Model.CreateInstances and shared read-only by
// every instance it creates.
type ModelHandle struct {
	name         string
	inputSpecs   map[string]request.ModelInputSpec
	outputNames  []string
	maxBatchSize int
}

// NewModelHandle constructs a ModelHandle; called once per model by
// Model.CreateInstances. outputNames lists every output the model
// produces, used to default and validate a request's requested outputs.
func NewModelHandle(name string, inputSpecs map[string]request.ModelInputSpec, outputNames []string, maxBatchSize int) *ModelHandle {
	return &ModelHandle{name: name, inputSpecs: inputSpecs, outputNames: outputNames, maxBatchSize: maxBatchSize}
}

func (h *ModelHandle) Name() string { return h.name }

func (h *ModelHandle) MaxBatchSize() int { return h.maxBatchSize }

// PrepareForInference normalizes req against this model's input specs
// and output names; it is a no-op if req has already been normalized and
// nothing has mutated it since.
func (h *ModelHandle) PrepareForInference(req *request.Request) error {
	return request.PrepareForInference(req, h.inputSpecs, h.outputNames, h.maxBatchSize)
}

// BackendFactory builds one backend.InstanceBackend for a named instance
// on a given device. Model.CreateInstances calls it once per replica.
type BackendFactory func(ctx context.Context, instanceName string, deviceID int) (backend.InstanceBackend, error)
