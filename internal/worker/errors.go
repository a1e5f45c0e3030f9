package worker

import "errors"

// Ошибки воркера.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotPending — run уже забран другим worker'ом или отменён.
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
