package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/automata-triggers/internal/connectors"
	"github.com/shaiso/automata-triggers/internal/correlator"
	"github.com/shaiso/automata-triggers/internal/orchestrator"
	"github.com/shaiso/automata-triggers/internal/polling"
	"github.com/shaiso/automata-triggers/internal/repo"
	"github.com/shaiso/automata-triggers/internal/webhook"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest     ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeDisabled       ErrorCode = "TRIGGER_DISABLED"
	ErrCodeValidation     ErrorCode = "VALIDATION_FAILED"
	ErrCodeUpstream       ErrorCode = "UPSTREAM_ERROR"
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodeMethodNotAllow ErrorCode = "METHOD_NOT_ALLOWED"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total,omitempty"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// HandleError преобразует ошибку доменного слоя в HTTP ответ.
// Возвращает false, если err == nil.
func HandleError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, orchestrator.ErrTriggerNotFound),
		errors.Is(err, repo.ErrNotFound),
		errors.Is(err, correlator.ErrUnknownRun):
		NotFound(w, err.Error())

	case errors.Is(err, orchestrator.ErrTriggerDisabled):
		Error(w, http.StatusConflict, ErrCodeDisabled, err.Error())

	case errors.Is(err, orchestrator.ErrUnsupported):
		Error(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, err.Error())

	case errors.Is(err, connectors.ErrValidation):
		Error(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())

	case errors.Is(err, connectors.ErrInvalidPayload),
		errors.Is(err, webhook.ErrNormalize):
		BadRequest(w, err.Error())

	case errors.Is(err, connectors.ErrBadSignature):
		Error(w, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())

	case errors.Is(err, webhook.ErrSubscribe),
		errors.Is(err, polling.ErrFetch):
		logger.Warn("upstream error", "error", err)
		Error(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())

	case errors.Is(err, repo.ErrConflict):
		Error(w, http.StatusConflict, ErrCodeConflict, err.Error())

	default:
		InternalError(w, logger, err)
	}
	return true
}
