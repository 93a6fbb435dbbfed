// Package cli реализует инструмент командной строки сервиса триггеров.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с API сервиса триггеров.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Разворачивает конверты {"data"} и {"error"}.
// Ответы форм и чатов не обёрнуты: Submit возвращает код и тело как есть.
//
//	client := cli.NewClient("http://localhost:8080")
//	triggers, err := client.ListTriggers()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
//
// ## Commands
//
//   - trigger: list, enable, disable, test
//   - submit: form, chat, describe
//   - run: respond, complete, correlation
//
// Каждая группа создаётся через фабричную функцию (NewTriggerCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
