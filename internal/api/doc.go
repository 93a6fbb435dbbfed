// Package api содержит HTTP-поверхность сервиса триггеров.
//
// Структура:
//   - handler.go         — Handler с DI (оркестратор, коррелятор, logger)
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — middleware (logging, recovery, metrics)
//   - response.go        — унифицированные JSON-ответы и обработка ошибок
//   - dto.go             — Data Transfer Objects (request/response)
//   - trigger_handler.go — lifecycle триггеров: enable, disable, test, список
//   - webhook_handler.go — приём webhook на callback URL
//   - submit_handler.go  — формы и чат с синхронным ожиданием ответа
//   - run_handler.go     — respond / complete от run и аудит корреляции
package api
