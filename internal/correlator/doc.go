// Package correlator связывает синхронную отправку формы или чата с
// ответом, который позже формирует шаг "respond" внутри запущенного run.
//
// Схема:
//
//	Submit ──► token(runID) ──► executor.Start ──► wait(slot | deadline)
//	                                                   ▲
//	Resolve/Complete ──► Ledger.Claim (первый побеждает) ──► deliver ──► Broker ──► другие процессы
//
// Ledger гарантирует единственное разрешение на run. Broker доставляет
// победившее разрешение в процесс, где ждёт отправка. Таймаут освобождает
// ожидающего, но run не отменяет; поздний ответ фиксируется в аудите как
// RESPONDED_LATE.
package correlator
