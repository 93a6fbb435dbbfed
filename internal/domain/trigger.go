package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Mode — режим работы триггера.
//
// Множество режимов закрыто: оркестратор перебирает их через switch,
// и добавление нового режима требует правок во всех местах диспатча.
type Mode string

const (
	// ModePolling — периодический опрос внешнего API по расписанию.
	ModePolling Mode = "POLLING"

	// ModeWebhook — внешний провайдер сам присылает события на callback URL.
	ModeWebhook Mode = "WEBHOOK"

	// ModeSubmit — синхронная отправка формы/чата; HTTP-соединение
	// удерживается, пока run не вернёт ответ.
	ModeSubmit Mode = "SYNCHRONOUS_SUBMIT"
)

// Modes возвращает все поддерживаемые режимы.
func Modes() []Mode {
	return []Mode{ModePolling, ModeWebhook, ModeSubmit}
}

// ParseMode парсит строку в Mode.
// "WEBHOOK-SUB" принимается как синоним SYNCHRONOUS_SUBMIT.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "POLLING":
		return ModePolling, nil
	case "WEBHOOK":
		return ModeWebhook, nil
	case "SYNCHRONOUS_SUBMIT", "WEBHOOK-SUB":
		return ModeSubmit, nil
	default:
		return "", fmt.Errorf("unknown trigger mode %q", s)
	}
}

// String возвращает строковое представление Mode.
func (m Mode) String() string {
	return string(m)
}

// RunHandle — непрозрачный идентификатор run, полученный от исполнителя.
// Служит ключом корреляции между submit и respond.
type RunHandle = uuid.UUID

// Definition — статическое описание одного триггера.
//
// Definition неизменяем в рамках версии flow. Реестр хранит копии,
// поэтому изменение исходного значения после регистрации ни на что не влияет.
type Definition struct {
	// Name — имя триггера внутри flow.
	Name string `json:"name" yaml:"name"`

	// FlowID — flow, которому принадлежит триггер.
	FlowID uuid.UUID `json:"flow_id" yaml:"flow_id"`

	// Mode — режим работы.
	Mode Mode `json:"mode" yaml:"mode"`

	// Connector — реализация коннектора. Должна соответствовать Mode:
	// PollingConnector, WebhookConnector или SubmitConnector.
	Connector Connector `json:"-" yaml:"-"`

	// Props — конфигурация коннектора (propsValue).
	Props map[string]any `json:"props,omitempty" yaml:"props,omitempty"`

	// Schedule — расписание опроса (только для POLLING).
	Schedule PollSchedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// SampleData — пример payload для test() и UI.
	SampleData any `json:"sample_data,omitempty" yaml:"sample_data,omitempty"`
}

// Key возвращает ключ триггера "{flowId}:{triggerName}".
func (d *Definition) Key() string {
	return TriggerKey(d.FlowID, d.Name)
}

// TriggerKey формирует ключ пары (flowId, triggerName).
func TriggerKey(flowID uuid.UUID, name string) string {
	return flowID.String() + ":" + name
}

// Item — элемент, возвращённый fetch-колбэком коннектора.
// Никогда не сохраняется; сохраняется только производный watermark.
type Item struct {
	// EpochMillis — время события в миллисекундах.
	EpochMillis int64 `json:"epoch_millis"`

	// Payload — данные элемента, передаются в run как есть.
	Payload any `json:"payload"`
}

// Event — нормализованное событие, готовое к передаче исполнителю.
type Event = any

// RawPayload — сырой входящий HTTP-запрос (webhook, форма, чат).
type RawPayload struct {
	Method  string              `json:"method"`
	Headers map[string][]string `json:"headers,omitempty"`
	Query   map[string][]string `json:"query,omitempty"`
	Body    []byte              `json:"body,omitempty"`
}

// TriggerContext — контекст, передаваемый коннектору в каждом вызове.
type TriggerContext struct {
	FlowID      uuid.UUID
	TriggerName string

	// Props — конфигурация коннектора.
	Props map[string]any

	// Store — хранилище ключ-значение в scope flow.
	// В режиме test() запись в него не сохраняется.
	Store KV

	// LastFetchEpochMillis — текущий watermark (только polling).
	LastFetchEpochMillis int64

	// TestMode — true при первом опросе (watermark == 0) и в test().
	TestMode bool

	// CallbackURL — внешний адрес для webhook-режима.
	CallbackURL string
}

// KV — хранилище ключ-значение, привязанное к (flow, scope).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// CompareAndSwap записывает next, только если текущее значение равно old.
	// old == nil означает "записи нет".
	CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error)
}

// Connector — общая часть всех коннекторов.
type Connector interface {
	// Kind возвращает тип коннектора (например, "http_poll").
	Kind() string
}

// PollingConnector — коннектор для режима POLLING.
//
// FetchItems обязан вернуть все элементы, время которых может быть больше
// tc.LastFetchEpochMillis, даже ценой пере-выборки. Пагинация — внутри коннектора.
type PollingConnector interface {
	Connector
	FetchItems(ctx context.Context, tc TriggerContext) ([]Item, error)
}

// WebhookConnector — коннектор для режима WEBHOOK.
type WebhookConnector interface {
	Connector
	OnEnable(ctx context.Context, tc TriggerContext) (SubscriptionInfo, error)
	OnDisable(ctx context.Context, tc TriggerContext, sub Subscription) error
	Normalize(ctx context.Context, tc TriggerContext, raw RawPayload) ([]Event, error)
}

// EventClaimer — webhook-коннектор, отбрасывающий повторные доставки.
//
// ClaimEvent атомарно отмечает событие как виденное. claimed == false —
// событие уже было, run не нужен. release снимает отметку, если run
// запустить не удалось, чтобы повторная доставка провайдера не потерялась.
type EventClaimer interface {
	ClaimEvent(ctx context.Context, tc TriggerContext, event Event) (claimed bool, release func(context.Context) error, err error)
}

// SubmitConnector — коннектор для режима SYNCHRONOUS_SUBMIT (форма или чат).
type SubmitConnector interface {
	Connector
	Normalize(ctx context.Context, tc TriggerContext, raw RawPayload) ([]Event, error)
	Describe(tc TriggerContext) SubmitDescriptor
}

// SubmitDescriptor — описание формы/чата для отрисовки (GET /form, GET /chat).
type SubmitDescriptor struct {
	// Kind — "form" или "chat".
	Kind string `json:"kind"`

	// Title — заголовок формы.
	Title string `json:"title,omitempty"`

	// InputSchema — JSON Schema входных полей.
	InputSchema map[string]any `json:"input_schema,omitempty"`

	// WaitForResponse — ждать ли ответа run (иначе — сразу подтверждение).
	WaitForResponse bool `json:"wait_for_response"`

	// Branding — имя и логотип платформы (только чат).
	Branding map[string]any `json:"branding,omitempty"`
}
