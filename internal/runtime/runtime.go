package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmellabs/murmel/internal/bus"
	"github.com/murmellabs/murmel/internal/capture"
	"github.com/murmellabs/murmel/internal/config"
	"github.com/murmellabs/murmel/internal/history"
	"github.com/murmellabs/murmel/internal/modelstore"
	"github.com/murmellabs/murmel/internal/natsserver"
	"github.com/murmellabs/murmel/internal/stt"
)

// Runtime wires the services together: embedded bus, transcription, audio
// capture, history and the optional debug HTTP endpoint. Start returns once
// everything is up so the caller can run the UI on the main goroutine.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	telemetryClose func(context.Context) error
	natsServer     *natsserver.EmbeddedServer
	busClient      *bus.Client
	historyStore   *history.Store
	models         *modelstore.Store
	sttService     *stt.Service
	captureService *capture.Service
	httpServer     *http.Server

	ready    atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return r.failStart(err)
		}
		r.natsServer = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}

	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return r.failStart(fmt.Errorf("connect bus: %w", err))
	}
	r.busClient = busClient

	historyStore, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return r.failStart(fmt.Errorf("open history: %w", err))
	}
	r.historyStore = historyStore

	r.models = modelstore.New(r.cfg.STT.ModelDir, r.logger)

	recognizer, err := stt.NewRecognizer(r.cfg.STT, r.models)
	if err != nil {
		return r.failStart(fmt.Errorf("create recognizer: %w", err))
	}

	r.sttService = stt.NewService(ctx, r.cfg.STT, busClient, recognizer, historyStore)
	if err := r.sttService.Start(); err != nil {
		return r.failStart(fmt.Errorf("start stt service: %w", err))
	}

	source, err := capture.NewSource(r.cfg.Audio)
	if err != nil {
		return r.failStart(fmt.Errorf("create audio source: %w", err))
	}
	recordingsDir := filepath.Join(r.cfg.DataDir, "recordings")
	r.captureService = capture.NewService(ctx, r.cfg.Audio, busClient, source, recordingsDir)
	if err := r.captureService.Start(); err != nil {
		return r.failStart(fmt.Errorf("start capture service: %w", err))
	}

	if r.cfg.HTTP.Enabled {
		r.startHTTP(metricHandler)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("stt_mode", r.cfg.STT.Mode),
		slog.String("model", r.cfg.STT.Model))
	return nil
}

// Shutdown stops all components in reverse start order. Safe to call more
// than once.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.stopComponents(ctx)
}

func (r *Runtime) failStart(err error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.stopComponents(shutdownCtx)
	return err
}

func (r *Runtime) stopComponents(ctx context.Context) {
	r.stopOnce.Do(func() {
		r.ready.Store(false)
		if r.httpServer != nil {
			if err := r.httpServer.Shutdown(ctx); err != nil {
				r.logger.Error("http shutdown error", slog.String("error", err.Error()))
			}
		}
		r.wg.Wait()
		if r.captureService != nil {
			r.captureService.Close()
		}
		if r.sttService != nil {
			r.sttService.Close()
		}
		if r.busClient != nil {
			r.busClient.Close()
		}
		if r.natsServer != nil {
			r.natsServer.Shutdown()
		}
		if r.historyStore != nil {
			if err := r.historyStore.Close(); err != nil {
				r.logger.Error("history close error", slog.String("error", err.Error()))
			}
		}
		if r.telemetryClose != nil {
			if err := r.telemetryClose(ctx); err != nil {
				r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
			}
		}
		r.logger.Info("runtime stopped")
	})
}

func (r *Runtime) startHTTP(metricHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("debug endpoint listening", slog.String("addr", addr))
}

// Capture exposes the capture service for the UI.
func (r *Runtime) Capture() *capture.Service {
	return r.captureService
}

// Bus exposes the bus client so the UI can subscribe to transcripts.
func (r *Runtime) Bus() *bus.Client {
	return r.busClient
}

// History exposes the transcript history store.
func (r *Runtime) History() *history.Store {
	return r.historyStore
}

func (r *Runtime) Healthy() bool {
	return r.ready.Load() &&
		r.busClient.Healthy() &&
		r.sttService.Healthy() &&
		r.captureService.Healthy()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
