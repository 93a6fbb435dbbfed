package api

import (
	"log/slog"
	"time"

	"github.com/shaiso/automata-triggers/internal/correlator"
	"github.com/shaiso/automata-triggers/internal/orchestrator"
)

// maxBodyBytes — максимальный размер входящего тела.
const maxBodyBytes = 5 * 1024 * 1024 // 5 MB

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orchestrator    *orchestrator.Orchestrator
	correlator      *correlator.Correlator
	responseTimeout time.Duration
	logger          *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Correlator   *correlator.Correlator

	// ResponseTimeout — сколько держать соединение формы/чата.
	// Ноль означает таймаут коррелятора.
	ResponseTimeout time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orchestrator:    cfg.Orchestrator,
		correlator:      cfg.Correlator,
		responseTimeout: cfg.ResponseTimeout,
		logger:          logger,
	}
}
