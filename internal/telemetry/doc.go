// Package telemetry — логирование и метрики подсистемы триггеров.
//
// SetupLogger настраивает slog по LOG_LEVEL и LOG_FORMAT один раз на бинарник.
// Компоненты получают *slog.Logger через Config и дополняют его атрибутами
// flow_id, trigger и run_id (WithFlowID, WithTrigger, WithRunID).
//
// Метрики регистрируются через promauto при импорте пакета и отдаются
// promhttp.Handler() на /metrics каждого сервиса.
package telemetry
