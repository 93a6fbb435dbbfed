// Package lock содержит lease-блокировки с TTL для взаимного исключения
// опросов одного polling-триггера.
//
// Реализации:
//   - Memory — в памяти процесса, для тестов и однопроцессного режима
//   - Redis — SET NX PX + освобождение через Lua compare-and-delete
//   - Postgres — таблица trigger_leases с upsert по истёкшему lease
//
// Блокировка всегда арендуется на TTL: упавший держатель не блокирует
// триггер навсегда, lease истекает и может быть перехвачен.
package lock
