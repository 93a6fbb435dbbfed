package webhook

import "errors"

// Ошибки менеджера webhook-подписок.
var (
	// ErrNotWebhook — триггер не в режиме WEBHOOK или коннектор не WebhookConnector.
	ErrNotWebhook = errors.New("trigger is not a webhook trigger")

	// ErrSubscribe — enable-хук коннектора вернул ошибку; подписка не сохранена.
	ErrSubscribe = errors.New("subscribe failed")

	// ErrNormalize — коннектор не смог разобрать входящий payload.
	ErrNormalize = errors.New("normalize payload failed")
)
