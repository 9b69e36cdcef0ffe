package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/pcbdrill/pcb-drill/internal/config"
	"github.com/pcbdrill/pcb-drill/internal/dispatch"
	"github.com/pcbdrill/pcb-drill/internal/drill"
	"github.com/pcbdrill/pcb-drill/internal/imagestore"
	"github.com/pcbdrill/pcb-drill/internal/lock"
	"github.com/pcbdrill/pcb-drill/internal/log"
	"github.com/pcbdrill/pcb-drill/internal/metrics"
	"github.com/pcbdrill/pcb-drill/internal/state"
	"github.com/pcbdrill/pcb-drill/internal/storage"
	"github.com/pcbdrill/pcb-drill/internal/transport"
)

const housekeepingInterval = time.Hour

func newDaemonCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the drill worker in the foreground",
		Long: `Run the drill worker. It owns the camera, listens for requests on
ws://<daemon.listen>/rpc and handles them one at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, nil)
		},
	}
}

// runDaemon serves the worker until ctx ends. A nil camera means the
// configured command-line camera.
func runDaemon(ctx context.Context, cfg *config.Config, camera drill.Camera) error {
	log.Setup(cfg.Daemon.LogLevel, cfg.Daemon.LogFormat)
	logger := log.WithComponent("main")
	if camera == nil {
		camera = drill.NewCommandCamera(cfg.Daemon.CameraCommand, cfg.Daemon.CameraPreviewCommand,
			log.WithComponent("camera"))
	}
	logger.Info("pcb-drilld starting", "version", version, "listen", cfg.Daemon.Listen)

	pidLock, err := lock.AcquirePIDLock(cfg.Daemon.PIDFile)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return fmt.Errorf("another worker is running: %w", err)
		}
		return err
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	images, err := imagestore.New(cfg.Daemon.ImageStorage,
		imagestore.WithOwner(cfg.Daemon.User, cfg.Daemon.Group),
		imagestore.WithLogger(log.WithComponent("imagestore")),
	)
	if err != nil {
		return err
	}

	handlerOpts := []drill.Option{
		drill.WithLogger(log.WithComponent("drill")),
		drill.WithResolution(cfg.Daemon.Width, cfg.Daemon.Height),
		drill.WithGCode(drill.GCodeSettings{
			HoleFormat:      cfg.GCode.HoleFormat,
			VerboseComments: cfg.GCode.Verbose(),
			Prefix:          cfg.GCode.Prefix,
			Postfix:         cfg.GCode.Postfix,
		}),
	}
	serverOpts := []dispatch.ServerOption{
		dispatch.WithServerLogger(log.WithComponent("dispatch")),
		dispatch.WithRequestTimeout(cfg.Daemon.RequestTimeout),
	}

	var store *state.Store
	if cfg.Daemon.StatePath != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Daemon.StatePath)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("database opened", "path", cfg.Daemon.StatePath)

		store = state.NewStore(db)
		handlerOpts = append(handlerOpts, drill.WithState(store))
		serverOpts = append(serverOpts, dispatch.WithRecorder(store))
	} else {
		logger.Warn("no state_path configured, hole cache will not survive restarts")
	}

	handler := drill.NewHandler(images, camera, drill.BlobVision{}, handlerOpts...)
	defer func() {
		if err := handler.Close(); err != nil {
			logger.Warn("camera close failed", "error", err)
		}
	}()

	reg, err := dispatch.NewRegistry(handler.Methods()...)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	serverOpts = append(serverOpts, dispatch.WithMetrics(metrics.NewCollector(promReg)))

	ws := transport.NewWebSocket(log.WithComponent("transport"))
	defer ws.Close()
	srv := dispatch.NewServer(ws, reg, serverOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 4)

	rpc := newHTTPServer(cfg.Daemon.Listen, rpcRouter(ws))
	go func() {
		if err := rpc.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc listener: %w", err)
		}
	}()
	defer shutdownHTTP(rpc, logger)

	if cfg.Daemon.Ops.Listen != "" {
		ops := newHTTPServer(cfg.Daemon.Ops.Listen, opsRouter(promReg, store))
		go func() {
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ops listener: %w", err)
			}
		}()
		defer shutdownHTTP(ops, logger)
		logger.Info("ops listener enabled", "listen", cfg.Daemon.Ops.Listen)
	}

	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("dispatch: %w", err)
		}
	}()
	// The camera and database are closed by earlier defers, so the loop
	// must be idle first.
	defer func() {
		cancel()
		<-serveDone
	}()

	go housekeeping(ctx, cfg.Daemon, images, store, logger)

	logger.Info("pcb-drilld running (press Ctrl+C to stop)",
		"commands", reg.Names(), "rpc", "ws://"+cfg.Daemon.Listen+"/rpc")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		return err
	}

	logger.Info("pcb-drilld stopped")
	return nil
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func shutdownHTTP(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("listener shutdown failed", "addr", srv.Addr, "error", err)
	}
}

func rpcRouter(ws http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/rpc", ws)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// opsRouter serves metrics and, when the worker keeps state, the request log.
func opsRouter(g prometheus.Gatherer, store *state.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", metrics.Handler(g))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/requests", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "request log disabled"})
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		recs, err := store.RecentRequests(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, requestViews(recs))
	})
	return r
}

type requestView struct {
	ID       string    `json:"id"`
	Command  string    `json:"command"`
	Success  bool      `json:"success"`
	Duration float64   `json:"duration_seconds"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

func requestViews(recs []dispatch.Record) []requestView {
	out := make([]requestView, len(recs))
	for i, rec := range recs {
		out[i] = requestView{
			ID:       rec.ID,
			Command:  rec.Command,
			Success:  rec.Success,
			Duration: rec.Duration.Seconds(),
			Error:    rec.Error,
			At:       rec.At,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// housekeeping prunes old captures and request log rows, once at start and
// then hourly.
func housekeeping(ctx context.Context, cfg config.DaemonConfig, images *imagestore.Store, store *state.Store, logger *slog.Logger) {
	sweep := func() {
		if cfg.ImageRetention > 0 {
			n, err := images.Cleanup(ctx, cfg.ImageRetention)
			if err != nil {
				logger.Warn("image cleanup failed", "error", err)
			} else if n > 0 {
				logger.Info("removed old images", "count", n)
			}
		}
		if store != nil && cfg.RequestLogRetention > 0 {
			n, err := store.PruneRequests(ctx, cfg.RequestLogRetention)
			if err != nil {
				logger.Warn("request log prune failed", "error", err)
			} else if n > 0 {
				logger.Info("pruned request log", "rows", n)
			}
		}
	}

	sweep()
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
