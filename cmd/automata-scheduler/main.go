// Automata scheduler — опрос polling-триггеров по расписанию.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaiso/automata-triggers/internal/app"
	"github.com/shaiso/automata-triggers/internal/config"
	"github.com/shaiso/automata-triggers/internal/scheduler"
	"github.com/shaiso/automata-triggers/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat).With("service", "scheduler")
	logger.Info("starting automata-scheduler", "tick", cfg.SchedTick, "concurrency", cfg.SchedConcurrency)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Хранилище в памяти не разделяется с API: включаем триггеры сами
	if cfg.StoreBackend == config.BackendMemory {
		if err := a.EnableLoaded(ctx); err != nil {
			logger.Warn("some triggers failed to enable", "error", err)
		}
	}

	sched := scheduler.New(scheduler.Config{
		Source:      a.Orchestrator.Registry(),
		Poller:      a.Orchestrator,
		Tick:        cfg.SchedTick,
		Concurrency: cfg.SchedConcurrency,
		Logger:      logger,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.SchedPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http error", "error", err)
			cancel()
		}
	}()

	sched.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("stopped")
}
