// Package orchestrator — единая точка входа жизненного цикла триггеров.
//
// Orchestrator отвечает за:
//   - Регистрацию определений триггеров в явном Registry (без глобального состояния)
//   - Выбор движка по режиму: polling, webhook или синхронная отправка
//   - Единый контракт enable / disable / test / run для всех режимов
//   - Учёт включённых триггеров, который читают планировщик и HTTP-слой
//
// Ошибки конфигурации (неизвестный режим, коннектор не того типа)
// возвращаются при регистрации, а не во время работы.
package orchestrator
