// Package httpapi implements the HTTP front-end: a thin chi-routed
// surface over the Model registry a scheduler's Enqueue call ultimately
// serves. It never touches a backend.InstanceBackend directly — every
// inference goes through whatever model.Scheduler the model was wired to
// at startup.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/backend"
	"inferd/internal/ierr"
	"inferd/internal/instance"
	"inferd/internal/model"
	"inferd/internal/request"
	"inferd/pkg/types"
)

// Service is the model registry the HTTP front-end serves: every model
// cmd/inferd loaded and wired to a scheduler, keyed by name.
type Service interface {
	Models() []*model.Model
	Model(name string) (*model.Model, bool)
}

// outputLister is satisfied by the concrete request.Response a
// ModelInstance hands a backend (package backend's responseImpl); the
// HTTP layer type-asserts to it rather than widening request.Response's
// own interface just to serve this one consumer.
type outputLister interface {
	Outputs() []backend.Output
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/v1/models", listModelsHandler(svc))
	r.Get("/v1/models/{name}", getModelHandler(svc))
	r.Get("/v1/models/{name}/ready", modelReadyHandler(svc))
	r.Post("/v1/models/{name}/infer", inferHandler(svc))
	r.Post("/v1/models/{name}/warmup", warmupHandler(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, m := range svc.Models() {
			if len(m.ReadyInstances()) == 0 {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("loading"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

func summarize(m *model.Model) types.ModelSummary {
	ready := m.ReadyInstances()
	return types.ModelSummary{
		Name:           m.Name(),
		Ready:          len(ready) > 0,
		ReadyInstances: len(ready),
		MaxBatchSize:   m.MaxBatchSize(),
	}
}

func listModelsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := svc.Models()
		out := types.ModelsResponse{Models: make([]types.ModelSummary, 0, len(models))}
		for _, m := range models {
			out.Models = append(out.Models, summarize(m))
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

func getModelHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		m, ok := svc.Model(name)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "model not found: "+name)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(summarize(m)); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

func modelReadyHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		m, ok := svc.Model(name)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "model not found: "+name)
			return
		}
		if len(m.ReadyInstances()) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("loading"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	}
}

// warmupHandler retries WarmUp for every instance of a model that is
// still sitting in StateInited (failed or never-attempted warmup),
// letting an operator (via inferdctl's warmup subcommand) push a model
// towards readiness without restarting inferd. Instances already past
// StateInited are left untouched — ModelInstance.WarmUp only accepts
// StateInited, so this handler never re-warms an already-ready instance.
func warmupHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		m, ok := svc.Model(name)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "model not found: "+name)
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		for _, mi := range m.Instances() {
			if mi.State() != instance.StateInited {
				continue
			}
			if err := mi.WarmUp(ctx, m.Config.ModelWarmup); err != nil {
				writeInferError(w, err)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(summarize(m)); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// inferHandler decodes a types.InferHTTPRequest, builds a request.Request
// from it, and enqueues it on the model's scheduler. The handler blocks
// on the request's own response callback — the scheduler/instance layer
// is asynchronous, so this is the one place in the system that turns
// that asynchrony back into a synchronous HTTP call.
func inferHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		name := chi.URLParam(r, "name")
		m, ok := svc.Model(name)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "model not found: "+name)
			return
		}
		sched := m.Scheduler()
		if sched == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "model "+name+" has no scheduler installed")
			return
		}

		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var body types.InferHTTPRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		req, err := buildRequest(m, body)
		if err != nil {
			writeInferError(w, err)
			return
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if inferTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(inferTimeout)*time.Second)
			defer tcancel()
		}

		type outcome struct {
			resp request.Response
			err  error
		}
		done := make(chan outcome, 1)
		req.SetResponseCallback(func(resp request.Response, err error, _ any) {
			done <- outcome{resp: resp, err: err}
		}, nil)
		req.SetReleaseCallback(func(*request.Request, request.ReleaseFlags, any) {}, nil)

		if err := sched.Enqueue(ctx, req); err != nil {
			writeInferError(w, err)
			logInfer(r, name, start, err)
			return
		}

		select {
		case out := <-done:
			if out.err != nil {
				writeInferError(w, out.err)
				logInfer(r, name, start, out.err)
				return
			}
			writeInferResponse(w, m, out.resp)
			logInfer(r, name, start, nil)
		case <-ctx.Done():
			writeJSONError(w, http.StatusGatewayTimeout, "inference timed out")
			logInfer(r, name, start, ctx.Err())
		}
	}
}

// buildRequest translates one InferHTTPRequest into a request.Request,
// encoding each input's flat JSON values into the byte layout
// request.Input carries, per the model's configured input datatype, and
// normalizes it against the model before it ever reaches a scheduler: a
// request that fails normalization must never be admitted to the queue,
// so it never needs a release callback of its own.
func buildRequest(m *model.Model, body types.InferHTTPRequest) (*request.Request, error) {
	req := request.New(m.Name(), 0)
	for inName, tw := range body.Inputs {
		spec, ok := m.GetInput(inName)
		if !ok {
			return nil, ierr.InvalidArgument("httpapi", "unknown input: "+inName, nil)
		}
		buf, err := encodeTensor(spec.DataType, tw.Data)
		if err != nil {
			return nil, ierr.InvalidArgument("httpapi", "input "+inName+": "+err.Error(), nil)
		}
		in := request.NewInput(inName, spec.DataType, tw.Shape)
		in.SetIsShapeTensor(spec.IsShapeTensor)
		in.AppendData(buf)
		if err := req.AddOriginalInput(in); err != nil {
			return nil, err
		}
	}
	for _, name := range body.Outputs {
		req.AddOriginalRequestedOutput(name)
	}

	outputNames := make([]string, 0, len(m.Config.Output))
	for _, o := range m.Config.Output {
		outputNames = append(outputNames, o.Name)
	}
	if err := request.PrepareForInference(req, m.InputSpecs(), outputNames, m.MaxBatchSize()); err != nil {
		return nil, err
	}
	return req, nil
}

func writeInferResponse(w http.ResponseWriter, m *model.Model, resp request.Response) {
	lister, ok := resp.(outputLister)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "response carries no outputs")
		return
	}
	out := types.InferHTTPResponse{
		Model:   m.Name(),
		Outputs: make(map[string]types.TensorWire, len(lister.Outputs())),
	}
	for _, o := range lister.Outputs() {
		vals, err := decodeTensor(o.DType, o.Data, elementCount(o.Shape))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out.Outputs[o.Name] = types.TensorWire{Shape: o.Shape, DataType: string(o.DType), Data: vals}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// writeInferError maps a core error's ierr.Kind to an HTTP status:
// INVALID_ARG -> 400, UNAVAILABLE -> 503, UNSUPPORTED -> 501, anything
// else (including untagged errors) -> 500.
func writeInferError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if k, ok := ierr.KindOf(err); ok {
		switch k {
		case ierr.KindInvalidArgument:
			status = http.StatusBadRequest
		case ierr.KindUnavailable:
			status = http.StatusServiceUnavailable
		case ierr.KindUnsupported:
			status = http.StatusNotImplemented
		}
	}
	writeJSONError(w, status, err.Error())
}

func logInfer(r *http.Request, modelName string, start time.Time, err error) {
	lvl := requestLogLevel(r)
	if lvl < LevelInfo {
		return
	}
	dur := time.Since(start)
	if zlog != nil {
		ev := zlog.Info().Str("path", r.URL.Path).Str("model", modelName).Dur("dur", dur)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			ev = ev.Str("request_id", rid)
		}
		if err != nil {
			ev.Err(err).Msg("infer end")
		} else {
			ev.Msg("infer end")
		}
		return
	}
	log.Printf("infer model=%s dur=%s err=%v", modelName, dur, err)
}
