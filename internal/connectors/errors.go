package connectors

import "errors"

// Ошибки коннекторов.
var (
	// ErrUnknownConnector — фабрика для типа коннектора не зарегистрирована.
	ErrUnknownConnector = errors.New("unknown connector")

	// ErrInvalidProps — невалидная конфигурация коннектора.
	ErrInvalidProps = errors.New("invalid connector props")

	// ErrInvalidPayload — входящий payload не удалось разобрать.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrValidation — payload не прошёл проверку схемы.
	ErrValidation = errors.New("payload validation failed")

	// ErrTimestamp — у элемента нет времени или его не удалось разобрать.
	ErrTimestamp = errors.New("item timestamp missing or invalid")

	// ErrBadSignature — подпись webhook не совпала.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrTemplate — шаблон url или заголовка не удалось отрендерить.
	ErrTemplate = errors.New("template render failed")

	// ErrDedupConflict — индекс ключей дедупликации не удалось обновить
	// из-за конкурентных доставок.
	ErrDedupConflict = errors.New("dedup index update conflict")

	// ErrInvalidDefinitions — файл определений триггеров невалиден.
	ErrInvalidDefinitions = errors.New("invalid trigger definitions")
)
