// Package scheduler запускает workflows по cron-расписанию.
//
// Расписание хранится в самом workflow (поле schedule) и разбирается
// github.com/robfig/cron/v3: пять полей или дескриптор (@hourly, @every 10m).
//
// Структура:
//   - scheduler.go — Scheduler (Refresh, Tick, Run)
//   - cron.go      — разбор выражений и вычисление следующего запуска
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Workflows: workflowRepo,
//	    Runs:      runRepo,
//	    Queue:     publisher, // опционально
//	    Logger:    logger,
//	})
//
//	// Вызывается каждый тик (обычно раз в секунду)
//	if err := sched.Tick(ctx, time.Now()); err != nil {
//	    logger.Error("scheduler tick failed", "error", err)
//	}
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
// Метод Tick() вызывается только лидером.
package scheduler
