package expr

import (
	"errors"
	"fmt"
)

// Виды ошибок вычисления.
var (
	// ErrSyntax — выражение не разбирается.
	ErrSyntax = errors.New("syntax error")

	// ErrUnknownField — путь не найден в контексте.
	ErrUnknownField = errors.New("unknown field")

	// ErrTypeMismatch — оператор применён к несовместимым типам.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDivisionByZero — деление на ноль.
	ErrDivisionByZero = errors.New("division by zero")
)

// Error — ошибка выражения с позицией.
type Error struct {
	Kind    error  // один из Err*
	Pos     int    // байтовая позиция в выражении (-1, если неизвестна)
	Message string // подробности
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%v at %d: %s", e.Kind, e.Pos, e.Message)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

// Unwrap возвращает вид ошибки для errors.Is.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, pos int, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Message: fmt.Sprintf(format, args...)}
}
