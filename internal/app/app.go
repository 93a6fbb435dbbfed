// Package app собирает сервис триггеров из конфигурации: выбирает бэкенды
// хранилища, блокировок и брокера, загружает определения триггеров
// и связывает компоненты между собой.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shaiso/automata-triggers/internal/config"
	"github.com/shaiso/automata-triggers/internal/connectors"
	"github.com/shaiso/automata-triggers/internal/correlator"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/executor"
	"github.com/shaiso/automata-triggers/internal/lock"
	"github.com/shaiso/automata-triggers/internal/mq"
	"github.com/shaiso/automata-triggers/internal/orchestrator"
	"github.com/shaiso/automata-triggers/internal/polling"
	"github.com/shaiso/automata-triggers/internal/repo"
	"github.com/shaiso/automata-triggers/internal/webhook"
)

// Префиксы ключей Redis.
const (
	redisStorePrefix  = "automata:store:"
	redisLockPrefix   = "automata:lock:"
	redisLedgerPrefix = "automata:ledger:"
	redisChannel      = "automata:resolutions"
)

// App — собранный сервис триггеров.
type App struct {
	Config       config.Config
	Logger       *slog.Logger
	Store        repo.ScopedStore
	Executor     domain.RunExecutor
	Runs         executor.RunStore
	Correlator   *correlator.Correlator
	Orchestrator *orchestrator.Orchestrator

	// Loaded — определения из TriggersFile.
	Loaded []connectors.Loaded

	pool   *pgxpool.Pool
	redis  *redis.Client
	conn   *mq.Connection
	pub    *mq.Publisher
	closed bool
}

// New собирает App. При ошибке уже открытые соединения закрываются.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.load(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// connect открывает соединения с внешними системами, нужные конфигурации.
func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	if cfg.NeedsPostgres() {
		pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool
		if err := repo.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.Logger.Info("connected to database")
	}

	if cfg.NeedsRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		a.Logger.Info("connected to redis")
	}

	if cfg.BrokerBackend == config.BackendAMQP {
		conn, err := mq.NewConnection(cfg.RabbitMQURL, a.Logger)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		a.conn = conn
		if err := mq.SetupTopology(ctx, conn); err != nil {
			return fmt.Errorf("setup topology: %w", err)
		}
		a.pub = mq.NewPublisher(conn, a.Logger)
		a.Logger.Info("connected to rabbitmq")
	}

	return nil
}

// build создаёт компоненты поверх выбранных бэкендов.
func (a *App) build() error {
	cfg := a.Config

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		a.Store = repo.NewPostgresStore(a.pool)
	case config.BackendRedis:
		a.Store = repo.NewRedisStore(a.redis, redisStorePrefix)
	default:
		a.Store = repo.NewMemoryStore()
	}

	var locker lock.Locker
	switch cfg.LockBackend {
	case config.BackendPostgres:
		locker = lock.NewPostgres(a.pool)
	case config.BackendRedis:
		locker = lock.NewRedis(a.redis, redisLockPrefix)
	default:
		locker = lock.NewMemory()
	}

	// Runs хранятся в Postgres, если он подключён
	var runs executor.RunStore
	mem := executor.NewMemory()
	if a.pool != nil {
		runs = repo.NewRunRepo(a.pool)
	} else {
		runs = mem
	}
	a.Runs = runs

	if a.pub != nil {
		a.Executor = executor.NewQueue(runs, a.pub, a.Logger)
	} else {
		a.Executor = mem
	}

	var (
		ledger correlator.Ledger = correlator.NewMemoryLedger()
		broker correlator.Broker
	)
	if a.redis != nil {
		ledger = correlator.NewRedisLedger(a.redis, redisLedgerPrefix)
	}
	switch cfg.BrokerBackend {
	case config.BackendRedis:
		broker = correlator.NewRedisBroker(a.redis, redisChannel, a.Logger)
	case config.BackendAMQP:
		broker = correlator.NewAMQPBroker(a.conn, a.pub, a.Logger)
	default:
		broker = correlator.NewMemoryBroker()
	}

	a.Correlator = correlator.New(correlator.Config{
		Executor:  a.Executor,
		Ledger:    ledger,
		Broker:    broker,
		Timeout:   cfg.ResponseTimeout,
		Retention: cfg.CorrelationRetain,
		Logger:    a.Logger,
	})

	a.Orchestrator = orchestrator.New(orchestrator.Config{
		Store: a.Store,
		Polling: polling.New(polling.Config{
			Store:       a.Store,
			Locker:      locker,
			Executor:    a.Executor,
			LockTTL:     cfg.PollLockTTL,
			SampleLimit: cfg.TestSampleLimit,
			Logger:      a.Logger,
		}),
		Webhooks:   webhook.New(webhook.Config{Store: a.Store, Logger: a.Logger}),
		Correlator: a.Correlator,
		Executor:   a.Executor,
		PublicURL:  cfg.PublicURL,
		Logger:     a.Logger,
	})
	return nil
}

// load читает TriggersFile и регистрирует определения.
// Отсутствующий файл означает пустой реестр.
func (a *App) load() error {
	catalog := connectors.DefaultCatalog(connectors.Options{
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
		PlatformName:    a.Config.PlatformName,
		PlatformLogoURL: a.Config.PlatformLogoURL,
	})

	loaded, err := catalog.LoadFile(a.Config.TriggersFile)
	if errors.Is(err, fs.ErrNotExist) {
		a.Logger.Warn("triggers file not found, starting with no triggers", "path", a.Config.TriggersFile)
		return nil
	}
	if err != nil {
		return err
	}

	registry := a.Orchestrator.Registry()
	for _, l := range loaded {
		if err := registry.Register(l.Definition); err != nil {
			return fmt.Errorf("register %s: %w", l.Definition.Name, err)
		}
	}
	a.Loaded = loaded
	a.Logger.Info("triggers loaded", "count", len(loaded), "path", a.Config.TriggersFile)
	return nil
}

// EnableLoaded включает триггеры, отмеченные enabled в файле.
// Ошибка одного триггера не мешает остальным.
func (a *App) EnableLoaded(ctx context.Context) error {
	var errs []error
	for _, l := range a.Loaded {
		if !l.Enabled {
			continue
		}
		def := l.Definition
		if _, err := a.Orchestrator.Enable(ctx, def.FlowID, def.Name); err != nil {
			a.Logger.Error("enable trigger at startup failed",
				"flow_id", def.FlowID, "trigger", def.Name, "error", err)
			errs = append(errs, fmt.Errorf("enable %s: %w", def.Name, err))
		}
	}
	return errors.Join(errs...)
}

// StartCompletions запускает consumer runs.completed, освобождающий
// ожидающие отправки. Без RabbitMQ ничего не делает: завершение
// сообщается через API.
// Блокирует до отмены ctx.
func (a *App) StartCompletions(ctx context.Context) error {
	if a.conn == nil {
		<-ctx.Done()
		return nil
	}

	handler := executor.NewCompletionHandler(a.Runs, func(ctx context.Context, runID domain.RunHandle) error {
		_, _, err := a.Correlator.Complete(ctx, runID)
		if errors.Is(err, correlator.ErrUnknownRun) {
			// Корреляция уже истекла: отправителя давно нет, повтор не поможет
			a.Logger.Info("run.completed for expired correlation", "run_id", runID)
			return nil
		}
		return err
	}, a.Logger)

	consumer := mq.NewConsumer(a.conn, a.Logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueRunsCompleted),
		Handler:  handler.Handle,
		Prefetch: 16,
	})
	defer consumer.Stop()

	err := consumer.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Ready проверяет доступность подключённых бэкендов.
func (a *App) Ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if a.conn != nil && !a.conn.IsConnected() {
		return errors.New("rabbitmq: not connected")
	}
	return nil
}

// Close закрывает соединения. Повторный вызов безопасен.
func (a *App) Close() {
	if a.closed {
		return
	}
	a.closed = true

	if a.Correlator != nil {
		a.Correlator.Stop()
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.Logger.Warn("close rabbitmq", "error", err)
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
