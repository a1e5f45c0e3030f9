package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderRe находит плейсхолдеры {{name}} и {{ path.to.field }}.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Resolver находит значение переменной по имени.
// Имя может быть путём через точку (current.temp_c).
type Resolver func(name string) (any, bool)

// HasPlaceholders проверяет, есть ли в строке плейсхолдеры.
func HasPlaceholders(s string) bool {
	return placeholderRe.MatchString(s)
}

// Placeholders возвращает имена плейсхолдеров в порядке появления.
func Placeholders(s string) []string {
	matches := placeholderRe.FindAllStringSubmatch(s, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// Render подставляет переменные в строку.
//
// Если строка целиком состоит из одного плейсхолдера, возвращается
// значение как есть (число остаётся числом, объект — объектом).
// Иначе значения форматируются в строку; объекты и массивы — как JSON.
// Ненайденная переменная — ErrUnresolvedVariable.
func Render(tmpl string, resolve Resolver) (any, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	if m := placeholderRe.FindStringSubmatchIndex(tmpl); m != nil && m[0] == 0 && m[1] == len(tmpl) {
		name := tmpl[m[2]:m[3]]
		v, ok := resolve(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedVariable, name)
		}
		return v, nil
	}

	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := resolve(name)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", ErrUnresolvedVariable, name)
			}
			return match
		}
		return stringify(v)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// RenderString — Render для значений, которые обязаны быть строкой (URL, заголовки).
func RenderString(tmpl string, resolve Resolver) (string, error) {
	v, err := Render(tmpl, resolve)
	if err != nil {
		return "", err
	}
	return stringify(v), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice; остальные типы возвращает как есть.
func RenderValue(value any, resolve Resolver) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil

	case string:
		return Render(v, resolve)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, resolve)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, resolve)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	case map[string]string:
		result := make(map[string]string, len(v))
		for key, val := range v {
			rendered, err := RenderString(val, resolve)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	default:
		return value, nil
	}
}

// stringify форматирует значение для подстановки внутрь строки.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
