// Package connectors содержит встроенные коннекторы триггеров
// и загрузку определений триггеров из YAML.
//
// Коннекторы:
//
//   - http_poll (POLLING): периодический GET, элементы и время извлекаются jq
//   - http_webhook (WEBHOOK): подписка через REST API провайдера
//   - catch_webhook (WEBHOOK): приём на callback URL без внешней подписки
//   - form, chat (SYNCHRONOUS_SUBMIT): отправка с проверкой JSON Schema
//
// Каждый коннектор создаётся фабрикой из props определения. Выражения jq
// и схемы компилируются один раз при создании, поэтому ошибки конфигурации
// видны при загрузке, а не при первом событии.
package connectors
