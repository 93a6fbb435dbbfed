package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики подсистемы триггеров. Регистрируются в DefaultRegisterer
// и отдаются через promhttp.Handler() на /metrics.
var (
	// PollsTotal — число опросов по результату: ok, empty, error, skipped.
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automata_trigger_polls_total",
		Help: "Polling trigger runs by result",
	}, []string{"result"})

	// ItemsDispatched — элементы, переданные на запуск flow.
	ItemsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "automata_trigger_items_dispatched_total",
		Help: "Items dispatched to flow runs by polling triggers",
	})

	// PollDuration — длительность одного опроса.
	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "automata_trigger_poll_duration_seconds",
		Help:    "Duration of a single poll",
		Buckets: prometheus.DefBuckets,
	})

	// WebhookHookCalls — вызовы enable/disable хуков коннекторов.
	WebhookHookCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automata_trigger_webhook_hook_calls_total",
		Help: "Webhook connector hook calls by hook and result",
	}, []string{"hook", "result"})

	// Submissions — синхронные отправки форм и чатов по итогу.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automata_trigger_submissions_total",
		Help: "Synchronous submissions by outcome",
	}, []string{"outcome"})

	// PendingCorrelations — отправки, ожидающие ответа.
	PendingCorrelations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "automata_trigger_pending_correlations",
		Help: "Submissions currently waiting for a response",
	})

	// BrokerConnected — 1, пока соединение с RabbitMQ установлено.
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "automata_trigger_broker_connected",
		Help: "Whether the RabbitMQ connection is currently up",
	})

	// BrokerReconnects — попытки переподключения к RabbitMQ по результату.
	BrokerReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automata_trigger_broker_reconnects_total",
		Help: "RabbitMQ reconnect attempts by result",
	}, []string{"result"})

	// MessagesConsumed — сообщения RabbitMQ по очереди и исходу: ack, requeue, dead_letter.
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automata_trigger_messages_consumed_total",
		Help: "RabbitMQ deliveries by queue and settlement",
	}, []string{"queue", "outcome"})

	// MessagesPublished — публикации в RabbitMQ по exchange и результату.
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automata_trigger_messages_published_total",
		Help: "RabbitMQ publishes by exchange and result",
	}, []string{"exchange", "result"})

	// HTTPRequests — HTTP запросы к API по маршруту и коду ответа.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automata_api_http_requests_total",
		Help: "Total HTTP requests handled by the trigger API",
	}, []string{"route", "code"})

	// HTTPDuration — время ответа по маршруту. Синхронные submit ждут
	// ответа flow, поэтому верхние бакеты доходят до 10 минут.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "automata_api_http_request_duration_seconds",
		Help:    "Trigger API response time",
		Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 30, 120, 600},
	}, []string{"route"})
)

// Результаты опроса для PollsTotal.
const (
	PollResultOK      = "ok"
	PollResultEmpty   = "empty"
	PollResultError   = "error"
	PollResultSkipped = "skipped"
)

// Результаты хуков для WebhookHookCalls.
const (
	HookResultOK    = "ok"
	HookResultError = "error"
)
