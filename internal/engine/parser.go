package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/apiflow/internal/domain"
)

// ParseWorkflow разбирает workflow из JSON-документа редактора.
// Структура графа не проверяется — для этого есть Validate.
func ParseWorkflow(data []byte) (*domain.Workflow, error) {
	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseWorkflow, err)
	}
	return &wf, nil
}

// ParseWorkflowYAML разбирает workflow из YAML.
// Ключи те же, что в JSON (camelCase).
func ParseWorkflowYAML(data []byte) (*domain.Workflow, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseWorkflow, err)
	}

	// YAML → JSON, чтобы использовать одни и те же json-теги
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseWorkflow, err)
	}
	return ParseWorkflow(b)
}

// LoadWorkflowFile читает workflow из файла; формат определяется по расширению.
func LoadWorkflowFile(path string) (*domain.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseWorkflow(data)
	case ".yaml", ".yml":
		return ParseWorkflowYAML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}
