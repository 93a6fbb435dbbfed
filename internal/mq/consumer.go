package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/automata-triggers/internal/telemetry"
)

// errDeliveriesClosed — брокер закрыл канал доставки (разрыв соединения).
var errDeliveriesClosed = errors.New("deliveries channel closed")

// Handler обрабатывает сообщение. Ошибка означает повтор доставки.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — разобранное сообщение вместе с исходной AMQP доставкой.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// settlement — чем закончилась обработка доставки.
type settlement string

const (
	settleAck        settlement = "ack"
	settleRequeue    settlement = "requeue"
	settleDeadLetter settlement = "dead_letter"
)

// settle выбирает исход по ошибке обработчика.
// Повторная неудача уже переотправленного сообщения уходит в DLQ,
// чтобы одно битое сообщение не крутилось в очереди бесконечно.
func settle(handlerErr error, redelivered bool) settlement {
	switch {
	case handlerErr == nil:
		return settleAck
	case redelivered:
		return settleDeadLetter
	default:
		return settleRequeue
	}
}

// Consumer читает очередь RabbitMQ и переживает переподключения.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	declare  func(ch *amqp.Channel) (string, error)
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Declare объявляет очередь и возвращает её имя. Вызывается при каждом
	// (пере)подключении; нужен для временных очередей с именем от сервера.
	// Если задан, Queue игнорируется.
	Declare func(ch *amqp.Channel) (string, error)

	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держать (default: 1).
	Prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		declare:  cfg.Declare,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start читает очередь до отмены ctx или Stop. Блокирует.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		deliveries, err := c.subscribe()
		if err == nil {
			c.logger.Info("consumer started", "queue", c.queue)
			err = c.drain(ctx, deliveries)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consumer interrupted, waiting for reconnect", "queue", c.queue, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

// subscribe выставляет prefetch, объявляет очередь при необходимости
// и начинает потребление с ручным ack.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	if c.declare != nil {
		name, err := c.declare(ch)
		if err != nil {
			return nil, fmt.Errorf("declare queue: %w", err)
		}
		c.queue = name
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery разбирает конверт, вызывает обработчик и подтверждает доставку.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) settlement {
	logger := c.logger.With("queue", c.queue)

	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		// Повтор не исправит битый конверт
		logger.Error("invalid message envelope", "error", err, "body", string(raw.Body))
		return c.finish(raw, settleDeadLetter, logger)
	}
	logger = logger.With("message_id", msg.ID, "type", msg.Type)

	err := c.handler(ctx, &Delivery{Message: msg, Raw: raw})
	outcome := settle(err, raw.Redelivered)
	if err != nil {
		logger.Error("message handler failed", "redelivered", raw.Redelivered, "outcome", outcome, "error", err)
	}
	return c.finish(raw, outcome, logger)
}

func (c *Consumer) finish(raw amqp.Delivery, outcome settlement, logger *slog.Logger) settlement {
	var err error
	switch outcome {
	case settleAck:
		err = raw.Ack(false)
	case settleRequeue:
		err = raw.Nack(false, true)
	case settleDeadLetter:
		err = raw.Nack(false, false)
	}
	if err != nil {
		logger.Warn("settle delivery failed", "outcome", outcome, "error", err)
	}
	telemetry.MessagesConsumed.WithLabelValues(c.queue, string(outcome)).Inc()
	return outcome
}

// Stop прерывает Start.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// ParsePayload декодирует payload конверта в T.
// После json.Unmarshal конверта payload — map, поэтому он перекодируется.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
