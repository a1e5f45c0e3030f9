// Package repo хранит workflows и runs в PostgreSQL (pgx/v5).
//
// Схема создаётся Migrate; workflow и отчёт run лежат в JSONB.
// Ошибки: ErrNotFound, ErrAlreadyExists, ErrInvalidState.
package repo
