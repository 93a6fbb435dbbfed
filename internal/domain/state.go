package domain

import (
	"time"

	"github.com/google/uuid"
)

// Watermark — граница между уже доставленными и ещё не доставленными
// элементами одного polling-триггера.
//
// Хранится в scope flow под ключом "watermark:{flowId}:{triggerName}".
// Меняется только PollingEngine после успешной отправки элементов;
// значение никогда не уменьшается. 0 означает "ни разу не опрашивался".
type Watermark struct {
	FlowID               uuid.UUID `json:"flow_id"`
	TriggerName          string    `json:"trigger_name"`
	LastFetchEpochMillis int64     `json:"last_fetch_epoch_millis"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// IsZero возвращает true, если триггер ещё ни разу не опрашивался.
func (w *Watermark) IsZero() bool {
	return w.LastFetchEpochMillis == 0
}

// Advance сдвигает watermark вперёд. Меньшее значение игнорируется.
// Возвращает true, если значение изменилось.
func (w *Watermark) Advance(epochMillis int64) bool {
	if epochMillis <= w.LastFetchEpochMillis {
		return false
	}
	w.LastFetchEpochMillis = epochMillis
	w.UpdatedAt = time.Now()
	return true
}

// Subscription — запись о внешней webhook-подписке.
//
// Хранится в scope flow под ключом "subscription:{flowId}:{triggerName}".
// Наличие записи — достаточное доказательство того, что подписка у провайдера
// существует; повторный subscribe при наличии записи не выполняется.
type Subscription struct {
	FlowID      uuid.UUID      `json:"flow_id"`
	TriggerName string         `json:"trigger_name"`
	ExternalID  string         `json:"external_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SubscriptionInfo — результат enable-хука коннектора.
type SubscriptionInfo struct {
	ExternalID string         `json:"external_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
