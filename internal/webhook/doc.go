// Package webhook держит внешнюю подписку webhook-триггера в соответствии
// с его состоянием enabled/disabled.
//
// Запись Subscription в хранилище — единственный источник истины о том,
// что подписка у провайдера существует. Enable при наличии записи
// провайдера не вызывает; Disable удаляет запись даже при ошибке провайдера.
package webhook
