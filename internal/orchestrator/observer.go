package orchestrator

import (
	"context"

	"github.com/shaiso/apiflow/internal/domain"
)

// Observer получает события run.
//
// При параллельном выполнении события одного уровня приходят из разных
// горутин, поэтому реализации должны быть потокобезопасны. Observer не
// должен блокировать надолго: он вызывается синхронно из исполнителя.
type Observer interface {
	// NodeStatusChanged вызывается на каждый переход статуса узла.
	NodeStatusChanged(ctx context.Context, event domain.StatusEvent)

	// RunFinished вызывается один раз, когда отчёт готов.
	RunFinished(ctx context.Context, report *domain.ExecutionReport)
}

// Observers рассылает события нескольким наблюдателям по порядку.
type Observers []Observer

// NodeStatusChanged реализует Observer.
func (obs Observers) NodeStatusChanged(ctx context.Context, event domain.StatusEvent) {
	for _, o := range obs {
		if o != nil {
			o.NodeStatusChanged(ctx, event)
		}
	}
}

// RunFinished реализует Observer.
func (obs Observers) RunFinished(ctx context.Context, report *domain.ExecutionReport) {
	for _, o := range obs {
		if o != nil {
			o.RunFinished(ctx, report)
		}
	}
}

// ObserverFuncs — Observer из функций; nil-поля игнорируются.
type ObserverFuncs struct {
	OnNodeStatus  func(ctx context.Context, event domain.StatusEvent)
	OnRunFinished func(ctx context.Context, report *domain.ExecutionReport)
}

// NodeStatusChanged реализует Observer.
func (f ObserverFuncs) NodeStatusChanged(ctx context.Context, event domain.StatusEvent) {
	if f.OnNodeStatus != nil {
		f.OnNodeStatus(ctx, event)
	}
}

// RunFinished реализует Observer.
func (f ObserverFuncs) RunFinished(ctx context.Context, report *domain.ExecutionReport) {
	if f.OnRunFinished != nil {
		f.OnRunFinished(ctx, report)
	}
}
