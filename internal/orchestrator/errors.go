package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrUnknownMode — режим триггера не поддерживается.
	ErrUnknownMode = errors.New("unknown trigger mode")

	// ErrMissingConnector — коннектор не задан или не реализует интерфейс режима.
	ErrMissingConnector = errors.New("connector missing or does not match mode")

	// ErrInvalidDefinition — в определении не хватает обязательных полей.
	ErrInvalidDefinition = errors.New("invalid trigger definition")

	// ErrDuplicateTrigger — триггер с таким (flowId, name) уже зарегистрирован.
	ErrDuplicateTrigger = errors.New("trigger already registered")

	// ErrTriggerNotFound — триггер не зарегистрирован.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrTriggerDisabled — триггер выключен, входящие события не принимаются.
	ErrTriggerDisabled = errors.New("trigger is disabled")

	// ErrUnsupported — операция не имеет смысла для режима триггера.
	ErrUnsupported = errors.New("operation not supported for trigger mode")
)
