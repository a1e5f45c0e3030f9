package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// SimulatedTransport — Transport для демо и тестов редактора: ничего не
// отправляет в сеть, отвечает после задержки и с вероятностью FailureRate
// возвращает сетевую ошибку.
//
// Включается только явным флагом simulation.enabled; по умолчанию
// используется HTTPTransport.
type SimulatedTransport struct {
	// FailureRate — доля вызовов, которые завершаются ErrTransport (0..1).
	FailureRate float64

	// Latency — имитация сетевой задержки.
	Latency time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedTransport создаёт SimulatedTransport. seed фиксирует
// последовательность отказов, чтобы прогоны были воспроизводимыми.
func NewSimulatedTransport(failureRate float64, latency time.Duration, seed uint64) *SimulatedTransport {
	return &SimulatedTransport{
		FailureRate: failureRate,
		Latency:     latency,
		rnd:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Send имитирует вызов.
func (s *SimulatedTransport) Send(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	if s.fail() {
		return nil, fmt.Errorf("%w: simulated network failure", ErrTransport)
	}

	body, err := json.Marshal(map[string]any{
		"simulated": true,
		"method":    req.Method,
		"url":       req.URL,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return &HTTPResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}, nil
}

func (s *SimulatedTransport) fail() bool {
	if s.FailureRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	return s.rnd.Float64() < s.FailureRate
}
