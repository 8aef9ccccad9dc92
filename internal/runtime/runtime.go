package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loqalabs/loqa-s2s/internal/bus"
	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/eventstore"
	"github.com/loqalabs/loqa-s2s/internal/jobs"
	"github.com/loqalabs/loqa-s2s/internal/natsserver"
	"github.com/loqalabs/loqa-s2s/internal/pipeline"
	"github.com/loqalabs/loqa-s2s/internal/protocol"
	"github.com/loqalabs/loqa-s2s/internal/web"
	"github.com/loqalabs/loqa-s2s/internal/workers"
)

type Runtime struct {
	cfg           config.Config
	version       string
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	metrics       http.Handler
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	journal *eventstore.Store
	orch    *pipeline.Orchestrator
	nats    *natsserver.EmbeddedServer
	bus     *bus.Client
	jobs    *jobs.Service
	workers *workers.Registry
	web     *web.Server
}

func New(cfg config.Config, logger *slog.Logger, version string) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// ParseLevel maps telemetry.log_level to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown
	r.metrics = tel.metrics

	if err := r.build(ctx); err != nil {
		r.close()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if r.metrics != nil && r.cfg.Telemetry.PrometheusBind != "" {
		mux := chi.NewRouter()
		mux.Handle("/metrics", r.metrics)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	if r.web != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.web.RunJanitor(ctx)
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.close()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

// build wires the journal, the pipeline and the optional bus and web
// surfaces.
func (r *Runtime) build(ctx context.Context) error {
	journal, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.journal = journal

	orch, err := pipeline.FromConfig(r.cfg, r.logger, journal.Observer(ctx))
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	r.orch = orch

	if r.cfg.Jobs.Enabled {
		busCfg := r.cfg.Bus
		r.nats, err = natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		if url := r.nats.ClientURL(); url != "" {
			busCfg.Servers = []string{url}
		}
		r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
		if err != nil {
			return err
		}
		r.jobs = jobs.NewService(ctx, r.cfg.Jobs, r.bus, orch, r.logger)
		if err := r.jobs.Start(); err != nil {
			return err
		}
		r.workers, err = workers.NewRegistry(ctx, r.cfg.Jobs, r.cfg.RuntimeName, r.announcement(), r.bus, r.logger)
		if err != nil {
			return err
		}
	}

	if r.cfg.Web.Enabled {
		r.web, err = web.New(r.cfg.Web, orch, r.logger)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Get("/healthz", r.handleHealth)
	mux.Get("/readyz", r.handleReady)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}
	if r.workers != nil {
		mux.Get("/api/workers", r.handleWorkers)
	}
	if r.web != nil {
		mux.Mount("/", r.web.Routes())
	}
	return mux
}

func (r *Runtime) announcement() protocol.WorkerAnnounce {
	langs := r.orch.Registry().Languages()
	codes := make([]string, len(langs))
	for i, l := range langs {
		codes[i] = string(l.Code)
	}
	return protocol.WorkerAnnounce{
		ASR:            r.cfg.ASR.Mode,
		MT:             r.cfg.MT.Mode,
		TTS:            r.cfg.TTS.Mode,
		Languages:      codes,
		MaxConcurrency: r.cfg.Jobs.Concurrency,
	}
}

func (r *Runtime) close() {
	r.workers.Close()
	if r.jobs != nil {
		r.jobs.Close()
	}
	r.bus.Close()
	r.nats.Shutdown()
	if r.orch != nil {
		r.orch.Close()
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.componentsHealthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) componentsHealthy() bool {
	if r.jobs == nil {
		return true
	}
	return r.bus.Healthy() && r.jobs.Healthy() && r.workers.Healthy()
}

func (r *Runtime) handleWorkers(w http.ResponseWriter, req *http.Request) {
	filter := func(workers.Worker) bool { return true }
	if codes := req.URL.Query()["lang"]; len(codes) > 0 {
		filter = workers.WithLanguages(codes...)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.workers.Query(filter)); err != nil {
		r.logger.Warn("failed to encode workers", slog.String("error", err.Error()))
	}
}
