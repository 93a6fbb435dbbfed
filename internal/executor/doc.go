// Package executor содержит реализации domain.RunExecutor.
//
//   - Memory — runs в памяти процесса (тесты, локальный запуск)
//   - Queue  — запись run в Postgres и событие run.pending в RabbitMQ
//     для внешнего движка выполнения
//
// CompletionHandler обрабатывает run.completed от движка: фиксирует
// финальный статус и освобождает синхронную отправку, если run так и
// не вызвал respond.
package executor
