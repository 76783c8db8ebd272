// Package model implements the Model (M) component: the in-process
// representation of one loaded model, its configuration, its label
// provider, and the set of ModelInstances created for it.
package model

import (
	"context"
	"fmt"
	"sync"

	"inferd/internal/events"
	"inferd/internal/ierr"
	"inferd/internal/instance"
	"inferd/internal/request"
	"inferd/pkg/types"
)

// Scheduler is the external collaborator a Model hands batches to;
// package scheduler supplies one concrete implementation. Model never
// calls into a scheduler itself — it only exposes itself so a scheduler
// can be constructed against it — but it holds the reference so callers
// have one place to reach both.
type Scheduler interface {
	Enqueue(ctx context.Context, req *request.Request) error
}

// Model owns a config, a backend factory, its label provider, and the
// ModelInstances created for it. Instances never import Model back —
// they hold a narrow, non-owning *instance.ModelHandle — so there is no
// cyclic reference to manage.
type Model struct {
	Config types.ModelConfig
	Labels *LabelProvider

	mu        sync.RWMutex
	instances []*instance.ModelInstance
	sched     Scheduler // write-once, set by SetScheduler
	stats     instance.StatsRecorder
	events    events.Publisher

	inputSpecs map[string]request.ModelInputSpec
}

// SetStats installs the StatsRecorder every instance created by a
// subsequent CreateInstances call will report to. Optional; a nil
// recorder (the default) means statistics are simply not collected.
func (m *Model) SetStats(s instance.StatsRecorder) { m.stats = s }

// SetEventPublisher installs the lifecycle-event sink this Model reports
// load/init/warmup/close transitions to. Optional; defaults to events.Noop.
func (m *Model) SetEventPublisher(p events.Publisher) { m.events = p }

func (m *Model) publish(name string, fields map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Publish(events.Event{Name: name, Model: m.Config.Name, Fields: fields})
}

// New validates cfg and constructs an (instance-less) Model. Call
// CreateInstances next to populate it.
func New(cfg types.ModelConfig) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, ierr.InvalidArgument("model", "invalid model config", err)
	}
	specs := make(map[string]request.ModelInputSpec, len(cfg.Input))
	for _, in := range cfg.Input {
		specs[in.Name] = request.ModelInputSpec{
			Name:          in.Name,
			DataType:      in.DataType,
			Dims:          in.Dims,
			IsShapeTensor: in.IsShapeTensor,
			Reshape:       in.Reshape,
		}
	}
	m := &Model{Config: cfg, inputSpecs: specs}
	labels, err := loadLabels(cfg)
	if err != nil {
		return nil, err
	}
	m.Labels = labels
	return m, nil
}

// Name returns the model's configured name.
func (m *Model) Name() string { return m.Config.Name }

// MaxBatchSize returns the model's configured max_batch_size.
func (m *Model) MaxBatchSize() int { return m.Config.MaxBatchSize }

// InputSpecs returns the model's input specs keyed by name, for
// request.PrepareForInference.
func (m *Model) InputSpecs() map[string]request.ModelInputSpec { return m.inputSpecs }

// GetInput looks up one configured input by name.
func (m *Model) GetInput(name string) (types.ModelInput, bool) {
	for _, in := range m.Config.Input {
		if in.Name == name {
			return in, true
		}
	}
	return types.ModelInput{}, false
}

// GetOutput looks up one configured output by name.
func (m *Model) GetOutput(name string) (types.ModelOutput, bool) {
	for _, out := range m.Config.Output {
		if out.Name == name {
			return out, true
		}
	}
	return types.ModelOutput{}, false
}

// SetScheduler installs the model's scheduler exactly once; subsequent
// calls are rejected with INTERNAL — a model is never re-parented to a
// different scheduler after load.
func (m *Model) SetScheduler(s Scheduler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sched != nil {
		return ierr.Internal("model", "scheduler already set for model "+m.Config.Name, nil)
	}
	m.sched = s
	return nil
}

// Scheduler returns the installed scheduler, or nil if SetScheduler has
// not been called yet.
func (m *Model) Scheduler() Scheduler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sched
}

// CreateInstances builds one ModelInstance per (instance_group, replica)
// pair from the model's configuration and applies the use_backend_threads
// policy: a dedicated BackendThread is only created when the number of
// non-passive instances across every group exceeds one; a lone instance
// runs inline with no thread hop. factory builds one
// backend.InstanceBackend per instance (e.g. one loaded weights handle
// per replica); deviceThreads implements the device-blocking policy
// (instances sharing a device_id share one BackendThread).
func (m *Model) CreateInstances(ctx context.Context, factory instance.BackendFactory, deviceThreads *instance.DeviceThreadMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.instances) > 0 {
		return ierr.Internal("model", "CreateInstances called twice for model "+m.Config.Name, nil)
	}

	nonPassive := 0
	for _, g := range m.Config.InstanceGroup {
		if !g.Passive {
			nonPassive += g.Count
		}
	}
	useThreads := nonPassive > 1

	outputNames := make([]string, 0, len(m.Config.Output))
	for _, o := range m.Config.Output {
		outputNames = append(outputNames, o.Name)
	}
	handle := instance.NewModelHandle(m.Config.Name, m.inputSpecs, outputNames, m.Config.MaxBatchSize)

	var built []*instance.ModelInstance
	for gi, g := range m.Config.InstanceGroup {
		for replica := 0; replica < g.Count; replica++ {
			deviceID := deviceIDFor(g, replica)
			name := fmt.Sprintf("%s_group%d_%d", m.Config.Name, gi, replica)
			be, err := factory(ctx, name, deviceID)
			if err != nil {
				return ierr.Internal("model", "backend instance init failed for "+name, err)
			}
			mi, err := instance.New(instance.Params{
				Name:         name,
				Handle:       handle,
				Backend:      be,
				DeviceID:     deviceID,
				Passive:      g.Passive,
				UseThreads:   useThreads,
				DeviceThreads: deviceThreads,
				Stats:        m.stats,
			})
			if err != nil {
				return err
			}
			built = append(built, mi)
		}
	}
	m.instances = built
	m.publish("instances_created", map[string]any{"count": len(built)})
	return nil
}

func deviceIDFor(g types.InstanceGroup, replica int) int {
	if g.Kind == types.KindGPU && len(g.GPUs) > 0 {
		return g.GPUs[replica%len(g.GPUs)]
	}
	return instance.NoGPUDevice
}

// Instances returns every ModelInstance created for this model.
func (m *Model) Instances() []*instance.ModelInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*instance.ModelInstance(nil), m.instances...)
}

// ReadyInstances returns the non-passive instances currently in the
// Ready state — the pool a scheduler is allowed to dispatch to.
func (m *Model) ReadyInstances() []*instance.ModelInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*instance.ModelInstance
	for _, mi := range m.instances {
		if !mi.Passive() && mi.State() == instance.StateReady {
			out = append(out, mi)
		}
	}
	return out
}

// InitializeAll calls Initialize on every instance, in group order, one
// at a time: each call returns before the next starts, so no two
// instances run ModelInstanceInit concurrently.
func (m *Model) InitializeAll(ctx context.Context) error {
	for _, mi := range m.Instances() {
		if err := mi.Initialize(ctx); err != nil {
			m.publish("instance_init_failed", map[string]any{"instance": mi.Name(), "error": err.Error()})
			return err
		}
	}
	m.publish("initialized", nil)
	return nil
}

// WarmUpAll runs every instance's configured model_warmup sequences.
func (m *Model) WarmUpAll(ctx context.Context, warmups []types.ModelWarmup) error {
	for _, mi := range m.Instances() {
		if err := mi.WarmUp(ctx, warmups); err != nil {
			m.publish("instance_warmup_failed", map[string]any{"instance": mi.Name(), "error": err.Error()})
			return err
		}
	}
	m.publish("warmed_up", nil)
	return nil
}

// Close finalizes every instance, stopping each BackendThread that one
// of this model's instances created. The DeviceThreadMap is not
// modified: entries for the stopped threads remain in it.
func (m *Model) Close(ctx context.Context) error {
	var first error
	for _, mi := range m.Instances() {
		if err := mi.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	m.publish("closed", nil)
	return first
}
