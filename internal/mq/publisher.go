package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/automata-triggers/internal/telemetry"
)

// MessageType — тип сообщения в очереди.
type MessageType string

const (
	MessageTypeRunPending   MessageType = "run.pending"
	MessageTypeRunCompleted MessageType = "run.completed"
	MessageTypeRunResolved  MessageType = "run.resolved"
)

// Message — JSON конверт любого сообщения automata.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage оборачивает payload в конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// RunPendingPayload — новый run, запущенный триггером.
type RunPendingPayload struct {
	RunID       uuid.UUID `json:"run_id"`
	FlowID      uuid.UUID `json:"flow_id"`
	TriggerName string    `json:"trigger_name"`
	Synchronous bool      `json:"synchronous,omitempty"`
	Payload     any       `json:"payload,omitempty"`
}

// RunCompletedPayload — run завершился. Публикует движок выполнения,
// читает automata-triggers.
type RunCompletedPayload struct {
	RunID  uuid.UUID `json:"run_id"`
	Status string    `json:"status"` // SUCCEEDED или FAILED
	Error  string    `json:"error,omitempty"`
}

// Publisher публикует конверты в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// deliveryMode — разрешения живут только пока ждёт запрос, их не пишем на диск.
func deliveryMode(exchange Exchange) uint8 {
	if exchange == ExchangeResolutions {
		return amqp.Transient
	}
	return amqp.Persistent
}

// Publish отправляет конверт в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: deliveryMode(exchange),
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Body:         body,
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, string(exchange), string(routingKey), false, false, publishing)
	})
	if err != nil {
		telemetry.MessagesPublished.WithLabelValues(string(exchange), "error").Inc()
		return fmt.Errorf("publish %s to %s/%s: %w", msg.Type, exchange, routingKey, err)
	}

	telemetry.MessagesPublished.WithLabelValues(string(exchange), "ok").Inc()
	p.logger.Debug("message published",
		"exchange", exchange,
		"routing_key", routingKey,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// PublishJSON оборачивает payload в конверт и публикует его.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	return p.Publish(ctx, exchange, routingKey, NewMessage(msgType, payload))
}

// PublishRunPending отдаёт новый run движку выполнения.
func (p *Publisher) PublishRunPending(ctx context.Context, payload RunPendingPayload) error {
	return p.PublishJSON(ctx, ExchangeRuns, RoutingKeyPending, MessageTypeRunPending, payload)
}

// PublishRunCompleted нужен движку выполнения и интеграционным проверкам.
func (p *Publisher) PublishRunCompleted(ctx context.Context, payload RunCompletedPayload) error {
	return p.PublishJSON(ctx, ExchangeRuns, RoutingKeyCompleted, MessageTypeRunCompleted, payload)
}
