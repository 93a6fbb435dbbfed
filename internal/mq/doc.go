// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.pending    — триггер запустил run, движок выполнения должен его подхватить
//   - run.completed  — run завершился; коррелятор освобождает ожидающую отправку
//   - run.resolved   — ответ на синхронную отправку, рассылается всем процессам
//
// Exchanges:
//   - automata.runs                  — события runs
//   - automata.triggers.resolutions  — fanout разрешений корреляции
//   - automata.dlq                   — dead letter queue
package mq
