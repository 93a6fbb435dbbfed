package polling

import "errors"

// Ошибки polling-движка.
var (
	// ErrNotPolling — триггер не в режиме POLLING или коннектор не умеет FetchItems.
	ErrNotPolling = errors.New("trigger is not a polling trigger")

	// ErrFetch — fetch-колбэк коннектора вернул ошибку.
	ErrFetch = errors.New("fetch items failed")

	// ErrDispatch — исполнитель не принял run.
	ErrDispatch = errors.New("dispatch run failed")
)
