// Command datamcp runs the JSON-RPC data server over HTTP with an SSE
// event-stream endpoint and a separate metrics listener.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/datamcp/datamcp"
	"github.com/datamcp/datamcp/backends/codeassist"
	"github.com/datamcp/datamcp/backends/stub"
	"github.com/datamcp/datamcp/config"
	"github.com/datamcp/datamcp/logger"
	"github.com/datamcp/datamcp/monitoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	log, closeLog := logger.New(logger.Options{
		Level: cfg.LogLevel,
		Debug: cfg.Debug,
		File:  cfg.LogFile,
	})
	defer func() {
		if err := closeLog(); err != nil {
			slog.Error("closing log file", "err", err)
		}
	}()
	slog.SetDefault(log)

	metrics := monitoring.New(cfg.ServerName, cfg.ServerVersion)

	dispatcher := datamcp.NewDispatcher(
		datamcp.ServerInfo{Name: cfg.ServerName, Version: cfg.ServerVersion},
		datamcp.DefaultRegistry(),
		stub.New(),
		datamcp.WithAssist(codeassist.New()),
		datamcp.WithDebug(cfg.Debug),
		datamcp.WithDispatchObserver(metrics.DispatchObserver()),
		datamcp.WithDispatcherLogger(log),
	)

	server := datamcp.NewServer(dispatcher,
		datamcp.WithServerLogger(log),
		datamcp.WithStreamHooks(
			func(clientID string) {
				metrics.StreamOpened()
				log.Info("stream opened", slog.String("clientID", clientID))
			},
			func(clientID string) {
				metrics.StreamClosed()
				log.Info("stream closed", slog.String("clientID", clientID))
			},
		),
	)

	router := chi.NewRouter()
	router.Use(requestLogger(log))
	router.Use(metrics.Middleware)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler)
	router.Use(middleware.Compress(5))

	router.Method(http.MethodPost, "/", server.HandleRPC())
	router.Method(http.MethodGet, "/sse", server.HandleEvents())
	router.Method(http.MethodGet, "/health", metrics.HealthHandler())

	metricsRouter := chi.NewRouter()
	metricsRouter.Method(http.MethodGet, "/metrics", metrics.Handler())
	metricsRouter.Method(http.MethodGet, "/health", metrics.HealthHandler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}
	aux := &http.Server{
		Addr:              cfg.MetricsAddr(),
		Handler:           metricsRouter,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		log.Info("server listening", slog.String("addr", cfg.Addr()))
		errs <- srv.ListenAndServe()
	}()
	go func() {
		log.Info("metrics listening", slog.String("addr", cfg.MetricsAddr()))
		errs <- aux.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "err", err)
	}
	if err := aux.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics shutdown failed", "err", err)
	}
	log.Info("server stopped")
}

// requestLogger tags each request with an id and logs its completion.
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("request handled",
				slog.String("requestID", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
