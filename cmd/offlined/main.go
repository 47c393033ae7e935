// Package main runs the offline daemon: a local reverse proxy that serves
// an origin through the offline cache, queues writes while the origin is
// unreachable, and replays them when it comes back.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"github.com/ecodex/offline/cmd/offlined/handlers"
	"github.com/ecodex/offline/internal/cache"
	"github.com/ecodex/offline/internal/config"
	"github.com/ecodex/offline/internal/connectivity"
	"github.com/ecodex/offline/internal/credentials"
	"github.com/ecodex/offline/internal/logging"
	"github.com/ecodex/offline/internal/offline"
	"github.com/ecodex/offline/internal/telemetry"
)

const serviceName = "offlined"

const shutdownTimeout = 10 * time.Second

type flags struct {
	addr          string
	origin        string
	dataDir       string
	logLevel      string
	notifications bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "Offline-first caching proxy and sync daemon",
		Long: `offlined proxies an origin through an offline response cache and a
durable write queue. Configuration comes from OFFLINE_* environment
variables; flags override them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, f)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, f.notifications)
		},
	}

	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address (OFFLINE_ADDR)")
	cmd.Flags().StringVar(&f.origin, "origin", "", "origin base URL (OFFLINE_ORIGIN)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "data directory (OFFLINE_DATA_DIR)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (OFFLINE_LOG_LEVEL)")
	cmd.Flags().BoolVar(&f.notifications, "notifications", true, "grant notification permission to connected clients")
	return cmd
}

func applyFlags(cmd *cobra.Command, cfg *config.Config, f flags) {
	if cmd.Flags().Changed("addr") {
		cfg.Addr = f.addr
	}
	if cmd.Flags().Changed("origin") {
		cfg.Origin = f.origin
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
}

func run(ctx context.Context, cfg *config.Config, notifications bool) error {
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		logging.Warn("Tracing disabled", map[string]interface{}{"error": err.Error()})
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logging.Error("Failed to flush traces", err)
		}
	}()

	hub := NewWSHub(cfg.CORSOrigins)
	defer hub.Close()

	monitor := connectivity.NewMonitor(true)
	prober := connectivity.NewProber(monitor, nil, cfg.ResolveURL(cfg.HealthPath), cfg.ProbeInterval)
	monitor.SetOnline(prober.Check(ctx))

	creds := credentials.NewStore(cfg.DataDir, cfg.MachineID)

	m, err := offline.New(cfg, offline.Deps{
		Token:    creds.Token,
		Monitor:  monitor,
		Notifier: newHubPlatform(hub, notifications),
		Observer: cacheWriteObserver(hub),
	})
	if err != nil {
		return err
	}
	defer m.Close()

	stopBridge := bridgeEvents(m, hub)
	defer stopBridge()

	if err := m.Initialize(ctx); err != nil {
		return err
	}

	prober.Start(ctx)
	defer prober.Stop()

	router, err := newRouter(cfg, m, hub)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Offline daemon listening", map[string]interface{}{
			"addr":     cfg.Addr,
			"origin":   cfg.Origin,
			"degraded": m.Degraded(),
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("Shutting down", nil)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(sctx)
}

// newRouter mounts the control endpoints, the WebSocket stream and, for
// every other path, the reverse proxy through the offline transport.
func newRouter(cfg *config.Config, m *offline.Manager, hub *WSHub) (http.Handler, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Auth-Token", "Idempotency-Key"},
		ExposedHeaders:   []string{cache.SourceHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	handlers.Mount(r, handlers.NewOfflineHandler(m), handlers.NewInstallHandler(m.Install()))
	r.Get(handlers.Prefix+"/ws", hub.HandleWebSocket)
	r.Handle("/*", handlers.NewProxy(origin, m.Transport()))
	return r, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
			"cache":      ww.Header().Get(cache.SourceHeader),
		})
	})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
