// Automata triggers — HTTP-сервис подсистемы триггеров: управление
// триггерами, приём webhook, формы и чат с ожиданием ответа run.
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
	"github.com/shaiso/automata-triggers/internal/api"
	"github.com/shaiso/automata-triggers/internal/app"
	"github.com/shaiso/automata-triggers/internal/config"
	"github.com/shaiso/automata-triggers/internal/telemetry"
)

var startTime = time.Now()

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting automata-triggers",
		"store", cfg.StoreBackend, "lock", cfg.LockBackend, "broker", cfg.BrokerBackend)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Correlator.Start(ctx); err != nil {
		logger.Error("failed to start correlator", "error", err)
		os.Exit(1)
	}
	if err := a.EnableLoaded(ctx); err != nil {
		// Остальные триггеры уже включены, сервис продолжает работу
		logger.Warn("some triggers failed to enable", "error", err)
	}

	go func() {
		if err := a.StartCompletions(ctx); err != nil {
			logger.Error("completion consumer stopped", "error", err)
		}
	}()

	handler := api.NewHandler(api.Config{
		Orchestrator:    a.Orchestrator,
		Correlator:      a.Correlator,
		ResponseTimeout: cfg.ResponseTimeout,
		Logger:          logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.Handler())

	handler.RegisterRoutes(mux)

	addr := ":" + cfg.APIPort

	// WriteTimeout больше максимального ожидания ответа run
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      config.MaxResponseTimeout + 30*time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr, "public_url", cfg.PublicURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Ожидающие отправки получат TIMED_OUT по отмене своих запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
