package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — run успешно завершён.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — run завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed:
		return true
	default:
		return false
	}
}

// SubmitState — состояние синхронной отправки (формы/чата).
//
// Жизненный цикл:
//
//	SUBMITTED → RUN_STARTED → WAITING         → RESPONDED
//	                        ↘ RESPONDED_EARLY  ↘ COMPLETED_NO_RESPONSE
//	                                           ↘ TIMED_OUT → (RESPONDED_LATE)
//
// RESPONDED_LATE — аудит: ответ пришёл после того, как вызывающий
// уже был отпущен по таймауту.
type SubmitState string

const (
	SubmitStateSubmitted           SubmitState = "SUBMITTED"
	SubmitStateRunStarted          SubmitState = "RUN_STARTED"
	SubmitStateWaiting             SubmitState = "WAITING"
	SubmitStateRespondedEarly      SubmitState = "RESPONDED_EARLY"
	SubmitStateResponded           SubmitState = "RESPONDED"
	SubmitStateCompletedNoResponse SubmitState = "COMPLETED_NO_RESPONSE"
	SubmitStateTimedOut            SubmitState = "TIMED_OUT"
	SubmitStateRespondedLate       SubmitState = "RESPONDED_LATE"
)

// IsTerminal возвращает true, если вызывающий уже отпущен.
func (s SubmitState) IsTerminal() bool {
	switch s {
	case SubmitStateRespondedEarly, SubmitStateResponded,
		SubmitStateCompletedNoResponse, SubmitStateTimedOut, SubmitStateRespondedLate:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление SubmitState.
func (s SubmitState) String() string {
	return string(s)
}
