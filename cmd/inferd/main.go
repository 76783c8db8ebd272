package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"inferd/internal/backend"
	"inferd/internal/backend/llama"
	"inferd/internal/config"
	"inferd/internal/events"
	"inferd/internal/httpapi"
	"inferd/internal/instance"
	"inferd/internal/metrics"
	"inferd/internal/model"
	"inferd/internal/registry"
	"inferd/internal/scheduler"
	"inferd/pkg/types"
)

// service implements httpapi.Service over a fixed set of loaded models,
// built once at startup; inferd has no hot-reload, so no locking is
// needed once main has finished populating it.
type service struct {
	models map[string]*model.Model
}

func (s *service) Models() []*model.Model {
	out := make([]*model.Model, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	return out
}

func (s *service) Model(name string) (*model.Model, bool) {
	m, ok := s.models[name]
	return m, ok
}

func main() {
	defaultAddr := ":8080"
	if v := os.Getenv("INFERD_ADDR"); v != "" {
		defaultAddr = v
	}
	defaultModelsDir := "./models"
	if v := os.Getenv("INFERD_MODELS_DIR"); v != "" {
		defaultModelsDir = v
	}

	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8080")
	modelsDir := flag.String("models-dir", defaultModelsDir, "Directory to scan for model config subdirectories")
	configPath := flag.String("config", "", "Optional service config file (yaml/json/toml); flags override its values")
	maxBodyBytes := flag.Int64("max-body-bytes", 0, "Maximum /infer request body size in bytes (0=default 1MiB)")
	inferTimeoutSec := flag.Int64("infer-timeout-seconds", 0, "Per-request /infer timeout in seconds (0=none)")
	corsOrigins := flag.String("cors-allowed-origins", "", "Comma-separated list of allowed CORS origins (empty=CORS disabled)")
	flag.Parse()

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		setFlags := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
		if cfg.Addr != "" && !setFlags["addr"] {
			*addr = cfg.Addr
		}
		if cfg.ModelsDir != "" && !setFlags["models-dir"] {
			*modelsDir = cfg.ModelsDir
		}
	}

	if *corsOrigins != "" {
		origins := splitCSV(*corsOrigins)
		httpapi.SetCORSOptions(true, origins, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type"})
	}
	httpapi.SetMaxBodyBytes(*maxBodyBytes)
	httpapi.SetInferTimeoutSeconds(*inferTimeoutSec)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	httpapi.SetBaseContext(rootCtx)

	configs, err := registry.LoadDir(*modelsDir)
	if err != nil {
		log.Fatalf("failed to load model registry from %s: %v", *modelsDir, err)
	}
	if len(configs) == 0 {
		log.Printf("no model configs found under %s", *modelsDir)
	}

	svc := &service{models: make(map[string]*model.Model, len(configs))}
	deviceThreads := instance.NewDeviceThreadMap()
	for _, cfg := range configs {
		m, err := loadModel(rootCtx, cfg, deviceThreads)
		if err != nil {
			log.Printf("model %q: failed to load, skipping: %v", cfg.Name, err)
			continue
		}
		svc.models[cfg.Name] = m
		log.Printf("model %q ready (%d instance(s))", cfg.Name, len(m.ReadyInstances()))
	}

	mux := httpapi.NewMux(svc)
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Printf("inferd listening on %s (models dir: %s, %d model(s) loaded)", *addr, *modelsDir, len(svc.models))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
	for name, m := range svc.models {
		if err := m.Close(shutdownCtx); err != nil {
			log.Printf("model %q: close error: %v", name, err)
		}
	}
}

// loadModel drives one model through its full lifecycle: construct,
// create instances against the llama backend, initialize, warm up, and
// attach a DynamicBatcher.
func loadModel(ctx context.Context, cfg types.ModelConfig, deviceThreads *instance.DeviceThreadMap) (*model.Model, error) {
	m, err := model.New(cfg)
	if err != nil {
		return nil, err
	}
	m.SetStats(metrics.Prometheus{})
	m.SetEventPublisher(events.Noop{})

	factory, err := backendFactory(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.CreateInstances(ctx, factory, deviceThreads); err != nil {
		return nil, err
	}
	if err := m.InitializeAll(ctx); err != nil {
		return nil, err
	}
	if err := m.WarmUpAll(ctx, cfg.ModelWarmup); err != nil {
		return nil, err
	}
	sched := scheduler.New(m, scheduler.Config{})
	if err := m.SetScheduler(sched); err != nil {
		return nil, err
	}
	return m, nil
}

// backendFactory resolves one instance.BackendFactory for a model
// config. inferd ships a single backend implementation, the llama.cpp
// adapter in internal/backend/llama; a model config selects it by
// setting the model_path parameter.
func backendFactory(cfg types.ModelConfig) (instance.BackendFactory, error) {
	lb, err := llama.New(cfg.Parameters)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, instanceName string, deviceID int) (backend.InstanceBackend, error) {
		return lb.NewInstance(), nil
	}, nil
}

// splitCSV trims whitespace around each comma-separated element and
// drops empty ones.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
