package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений: пять полей и дескрипторы (@hourly, @every 5m).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule разбирает cron-выражение workflow.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	return schedule, nil
}

// ValidateSchedule проверяет cron-выражение. Пустое выражение допустимо:
// workflow без расписания.
func ValidateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := ParseSchedule(expr)
	return err
}

// NextRun вычисляет следующее время запуска после from (в UTC).
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from).UTC(), nil
}
