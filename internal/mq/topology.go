package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	// ExchangeRuns — события runs, запущенных триггерами.
	ExchangeRuns Exchange = "automata.runs"

	// ExchangeResolutions — fanout разрешений корреляции между процессами.
	ExchangeResolutions Exchange = "automata.triggers.resolutions"

	ExchangeDLQ Exchange = "automata.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsPending   Queue = "runs.pending"
	QueueRunsCompleted Queue = "runs.completed"
	QueueDLQRuns       Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyPending   RoutingKey = "pending"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQRuns   RoutingKey = "runs"

	// RoutingKeyNone — для fanout обменника ключ не используется.
	RoutingKeyNone RoutingKey = ""
)

// queueSpec — durable очередь и её привязка.
type queueSpec struct {
	name       Queue
	exchange   Exchange
	routingKey RoutingKey
	// deadLetter — отклонённые без requeue сообщения уходят в dlq.runs.
	deadLetter bool
}

var exchangeKinds = []struct {
	name Exchange
	kind string
}{
	{ExchangeRuns, amqp.ExchangeDirect},
	{ExchangeResolutions, amqp.ExchangeFanout},
	{ExchangeDLQ, amqp.ExchangeDirect},
}

var durableQueues = []queueSpec{
	{name: QueueRunsPending, exchange: ExchangeRuns, routingKey: RoutingKeyPending, deadLetter: true},
	{name: QueueRunsCompleted, exchange: ExchangeRuns, routingKey: RoutingKeyCompleted, deadLetter: true},
	{name: QueueDLQRuns, exchange: ExchangeDLQ, routingKey: RoutingKeyDLQRuns},
}

func (q queueSpec) args() amqp.Table {
	if !q.deadLetter {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
	}
}

// SetupTopology объявляет обменники, очереди и привязки.
// Идемпотентна: вызывается каждым процессом при старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchangeKinds {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range durableQueues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args()); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
			if err := ch.QueueBind(string(q.name), string(q.routingKey), string(q.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.name, q.exchange, err)
			}
		}
		return nil
	})
}

// DeclareFanoutQueue объявляет эксклюзивную временную очередь процесса
// и привязывает её к fanout обменнику. Имя очереди выдаёт сервер.
// Очередь исчезает вместе с соединением, поэтому её объявляют заново
// после каждого переподключения.
func DeclareFanoutQueue(ch *amqp.Channel, exchange Exchange) (string, error) {
	q, err := ch.QueueDeclare(
		"",    // name (server-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare fanout queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, string(RoutingKeyNone), string(exchange), false, nil); err != nil {
		return "", fmt.Errorf("bind fanout queue to %s: %w", exchange, err)
	}
	return q.Name, nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Automata Triggers RabbitMQ Topology:

    automata.runs (direct)
    ├── runs.pending [routing: pending]
    │       Consumer: flow engine
    │       DLQ: dlq.runs
    └── runs.completed [routing: completed]
            Consumer: automata-triggers (correlator)
            DLQ: dlq.runs

    automata.triggers.resolutions (fanout)
    └── <exclusive queue per automata-triggers process>

    automata.dlq (direct)
    └── dlq.runs [routing: runs]
            Manual processing
  `
}
