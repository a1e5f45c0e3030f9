package steps

import (
	"os"
	"strings"
)

// VariableResolver — хранилище переменных окружения для подстановки {{VAR}}.
type VariableResolver interface {
	Resolve(name string) (string, bool)
}

// MapVariables — переменные из map (окружение workflow).
type MapVariables map[string]string

// Resolve реализует VariableResolver.
func (m MapVariables) Resolve(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// ProcessVariables — переменные процесса с заданным префиксом.
// Prefix "APIFLOW_VAR_" делает APIFLOW_VAR_TOKEN доступной как {{TOKEN}}.
type ProcessVariables struct {
	Prefix string
}

// Resolve реализует VariableResolver.
func (p ProcessVariables) Resolve(name string) (string, bool) {
	if p.Prefix == "" {
		return "", false
	}
	return os.LookupEnv(p.Prefix + name)
}

// ChainVariables ищет переменную по очереди; побеждает первый резолвер.
type ChainVariables []VariableResolver

// Resolve реализует VariableResolver.
func (c ChainVariables) Resolve(name string) (string, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if v, ok := r.Resolve(name); ok {
			return v, true
		}
	}
	return "", false
}

// WorkflowVariables собирает резолвер: окружение workflow поверх переменных процесса.
func WorkflowVariables(env map[string]string, processPrefix string) VariableResolver {
	chain := ChainVariables{MapVariables(env)}
	if processPrefix = strings.TrimSpace(processPrefix); processPrefix != "" {
		chain = append(chain, ProcessVariables{Prefix: processPrefix})
	}
	return chain
}
