// Package scheduler опрашивает polling-триггеры по расписанию.
//
// Scheduler держит в памяти таблицу сроков и на каждом тике отдаёт
// наступившие триггеры в Poller (обычно TriggerOrchestrator).
//
// Структура:
//   - scheduler.go — Scheduler (Run, Tick, collectDue)
//   - cron.go      — разбор cron-выражений и вычисление следующего срока
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Source:      orch.Registry(),
//	    Poller:      orch,
//	    Concurrency: cfg.SchedConcurrency,
//	    Logger:      logger,
//	})
//	go sched.Run(ctx)
//
// Leader election не нужен: несколько реплик могут тикать одновременно,
// опрос одного триггера всё равно выполнит только владелец блокировки.
package scheduler
