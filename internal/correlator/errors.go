package correlator

import "errors"

// Ошибки коррелятора.
var (
	// ErrStart — исполнитель не принял run, ожидание не начиналось.
	ErrStart = errors.New("start run failed")

	// ErrUnknownRun — у run нет открытой корреляции: он не отправлялся
	// через Submit или запись уже истекла.
	ErrUnknownRun = errors.New("unknown or expired correlation")
)
