package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"inferd/internal/backend"
	"inferd/internal/ierr"
	"inferd/internal/instance"
	"inferd/internal/model"
	"inferd/internal/request"
	"inferd/pkg/types"
)

// batchRecorder captures the size of every batch ModelInstanceExec is
// handed and immediately sends a successful, empty response for each
// request in it, enough for the scheduler tests below without pulling in
// a real backend implementation.
type batchRecorder struct {
	backend.NoopInstanceLifecycle
	mu     sync.Mutex
	sizes  []int
	seenCh chan int
}

func (b *batchRecorder) ModelInstanceExec(ctx context.Context, reqs []*request.Request) error {
	b.mu.Lock()
	b.sizes = append(b.sizes, len(reqs))
	b.mu.Unlock()
	if b.seenCh != nil {
		b.seenCh <- len(reqs)
	}
	for _, r := range reqs {
		r.Factory().NewResponse().Send(nil)
		r.Release(request.ReleaseAll)
	}
	return nil
}

func newReadyModel(t *testing.T, maxBatchSize int, rec *batchRecorder) *model.Model {
	t.Helper()
	cfg := types.ModelConfig{
		Name:         "m",
		MaxBatchSize: maxBatchSize,
		Input: []types.ModelInput{
			{Name: "INPUT0", DataType: types.TypeFP32, Dims: []int64{1}},
		},
		InstanceGroup: []types.InstanceGroup{{Kind: types.KindCPU, Count: 1}},
	}
	m, err := model.New(cfg)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	factory := func(ctx context.Context, name string, deviceID int) (backend.InstanceBackend, error) {
		return rec, nil
	}
	if err := m.CreateInstances(context.Background(), factory, instance.NewDeviceThreadMap()); err != nil {
		t.Fatalf("CreateInstances: %v", err)
	}
	if err := m.InitializeAll(context.Background()); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	if err := m.WarmUpAll(context.Background(), nil); err != nil {
		t.Fatalf("WarmUpAll: %v", err)
	}
	return m
}

func newBatchableRequest(m *model.Model) *request.Request {
	dims := []int64{1}
	if m.MaxBatchSize() > 0 {
		dims = []int64{1, 1} // leading batch dimension of 1, stripped during normalization
	}
	r := request.New(m.Name(), 1)
	in := request.NewInput("INPUT0", types.TypeFP32, dims)
	in.AppendData([]byte{1, 2, 3, 4})
	_ = r.AddOriginalInput(in)
	return r
}

func TestEnqueueRejectsWhenNoReadyInstances(t *testing.T) {
	cfg := types.ModelConfig{
		Name:          "m",
		InstanceGroup: []types.InstanceGroup{{Kind: types.KindCPU, Count: 1}},
	}
	m, err := model.New(cfg)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	b := New(m, Config{})
	defer b.Close()

	err = b.Enqueue(context.Background(), request.New("m", 1))
	if !ierr.IsUnavailable(err) {
		t.Fatalf("expected UNAVAILABLE, got %v", err)
	}
}

func TestBatchFillDispatchesAsSoonAsMaxBatchSizeIsReached(t *testing.T) {
	rec := &batchRecorder{seenCh: make(chan int, 8)}
	m := newReadyModel(t, 4, rec)
	b := New(m, Config{MaxQueueDelay: time.Hour}) // long delay: only batch-fill should trigger dispatch
	defer b.Close()

	for i := 0; i < 4; i++ {
		if err := b.Enqueue(context.Background(), newBatchableRequest(m)); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	select {
	case n := <-rec.seenCh:
		if n != 4 {
			t.Fatalf("expected a batch of 4, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a batch-fill dispatch well before the queue delay timer")
	}
}

func TestTimeoutFillDispatchesAPartialBatchAfterTheDelay(t *testing.T) {
	rec := &batchRecorder{seenCh: make(chan int, 8)}
	m := newReadyModel(t, 4, rec)
	b := New(m, Config{MaxQueueDelay: 30 * time.Millisecond})
	defer b.Close()

	if err := b.Enqueue(context.Background(), newBatchableRequest(m)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := b.Enqueue(context.Background(), newBatchableRequest(m)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case n := <-rec.seenCh:
		if n != 2 {
			t.Fatalf("expected a partial batch of 2, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the queue delay timer to dispatch a partial batch")
	}
}

func TestNoBatchingDispatchesEachRequestImmediately(t *testing.T) {
	rec := &batchRecorder{seenCh: make(chan int, 8)}
	m := newReadyModel(t, 0, rec) // max_batch_size 0: batching disabled
	b := New(m, Config{MaxQueueDelay: time.Hour})
	defer b.Close()

	if err := b.Enqueue(context.Background(), newBatchableRequest(m)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case n := <-rec.seenCh:
		if n != 1 {
			t.Fatalf("expected a batch-of-one, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate dispatch when max_batch_size is 0")
	}
}

func TestPadToMaxBatchFillsWithNullCopies(t *testing.T) {
	rec := &batchRecorder{seenCh: make(chan int, 8)}
	m := newReadyModel(t, 4, rec)
	b := New(m, Config{MaxQueueDelay: 20 * time.Millisecond, PadToMaxBatch: true})
	defer b.Close()

	if err := b.Enqueue(context.Background(), newBatchableRequest(m)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case n := <-rec.seenCh:
		if n != 4 {
			t.Fatalf("expected padding to bring the batch up to 4, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a padded dispatch after the queue delay timer")
	}
}

func TestCloseStopsAcceptingNewWork(t *testing.T) {
	rec := &batchRecorder{}
	m := newReadyModel(t, 1, rec)
	b := New(m, Config{})
	b.Close()

	err := b.Enqueue(context.Background(), newBatchableRequest(m))
	if err == nil {
		t.Fatal("expected Enqueue to fail after Close")
	}
}
