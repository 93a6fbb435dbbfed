package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/shaiso/automata-triggers/internal/mq"
)

// DeliverFunc получает разрешение, опубликованное любым процессом.
type DeliverFunc func(res Resolution)

// Broker рассылает разрешения между процессами.
// Доставка best-effort: пропущенное сообщение подбирается из Ledger.
type Broker interface {
	Publish(ctx context.Context, res Resolution) error

	// Subscribe начинает доставку в fn и возвращает функцию отписки.
	Subscribe(ctx context.Context, fn DeliverFunc) (unsubscribe func(), err error)
}

// MemoryBroker — Broker внутри одного процесса.
// Подписчики вызываются синхронно в Publish.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[int]DeliverFunc
	next int
}

// NewMemoryBroker создаёт MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]DeliverFunc)}
}

// Publish вызывает всех подписчиков.
func (b *MemoryBroker) Publish(_ context.Context, res Resolution) error {
	b.mu.RLock()
	subs := make([]DeliverFunc, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(res)
	}
	return nil
}

// Subscribe регистрирует подписчика.
func (b *MemoryBroker) Subscribe(_ context.Context, fn DeliverFunc) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// RedisBroker — Broker поверх Redis pub/sub.
type RedisBroker struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// NewRedisBroker создаёт RedisBroker. Пустой channel заменяется на
// "automata:triggers:resolutions".
func NewRedisBroker(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisBroker {
	if channel == "" {
		channel = "automata:triggers:resolutions"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{client: client, channel: channel, logger: logger}
}

// Publish публикует разрешение в канал.
func (b *RedisBroker) Publish(ctx context.Context, res Resolution) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal resolution: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish resolution: %w", err)
	}
	return nil
}

// Subscribe подписывается на канал и доставляет сообщения в фоне.
// Возвращает управление после подтверждения подписки сервером.
func (b *RedisBroker) Subscribe(ctx context.Context, fn DeliverFunc) (func(), error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var res Resolution
			if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
				b.logger.Warn("invalid resolution message", "channel", b.channel, "error", err)
				continue
			}
			fn(res)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ps.Close()
			<-done
		})
	}, nil
}

// AMQPBroker — Broker поверх fanout обменника RabbitMQ.
// Каждый процесс слушает собственную эксклюзивную очередь.
type AMQPBroker struct {
	conn      *mq.Connection
	publisher *mq.Publisher
	logger    *slog.Logger
}

// NewAMQPBroker создаёт AMQPBroker.
func NewAMQPBroker(conn *mq.Connection, publisher *mq.Publisher, logger *slog.Logger) *AMQPBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPBroker{conn: conn, publisher: publisher, logger: logger}
}

// Publish отправляет разрешение в fanout обменник.
func (b *AMQPBroker) Publish(ctx context.Context, res Resolution) error {
	return b.publisher.PublishJSON(ctx, mq.ExchangeResolutions, mq.RoutingKeyNone, mq.MessageTypeRunResolved, res)
}

// Subscribe запускает consumer временной очереди в фоне.
func (b *AMQPBroker) Subscribe(ctx context.Context, fn DeliverFunc) (func(), error) {
	consumer := mq.NewConsumer(b.conn, b.logger, mq.ConsumerConfig{
		Declare: func(ch *amqp.Channel) (string, error) {
			return mq.DeclareFanoutQueue(ch, mq.ExchangeResolutions)
		},
		Prefetch: 32,
		Handler: func(_ context.Context, d *mq.Delivery) error {
			res, err := mq.ParsePayload[Resolution](&d.Message)
			if err != nil {
				// Повтор не поможет: сообщение битое
				b.logger.Warn("invalid resolution message", "message_id", d.Message.ID, "error", err)
				return nil
			}
			fn(res)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error("resolution consumer stopped", "error", err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}
