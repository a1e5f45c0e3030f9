package transform

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/shaiso/apiflow/internal/expr"
)

// SplitPath разбивает FieldPath на сегменты.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get возвращает значение по FieldPath.
func Get(value any, path string) (any, bool) {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return nil, false
	}
	return expr.Lookup(value, segments)
}

// Set записывает значение по FieldPath, создавая промежуточные объекты.
// obj изменяется на месте — вызывающий передаёт уже скопированный объект.
func Set(obj map[string]any, path string, value any) error {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return fmt.Errorf("%w: empty path", ErrInvalidTransformation)
	}

	cur := obj
	for i, seg := range segments[:len(segments)-1] {
		next, exists := cur[seg]
		if !exists || next == nil {
			child := make(map[string]any)
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s", ErrPathConflict, strings.Join(segments[:i+1], "."))
		}
		cur = child
	}

	cur[segments[len(segments)-1]] = value
	return nil
}

// Delete удаляет значение по FieldPath. Возвращает false, если пути нет.
//
// Числовой сегмент внутри массива удаляет элемент: родительский массив
// пересобирается без него, последующие индексы сдвигаются.
func Delete(obj map[string]any, path string) bool {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return false
	}
	_, ok := deleteIn(obj, segments)
	return ok
}

// DeleteAll удаляет несколько путей так, чтобы удаление элемента массива
// не сдвигало ещё не удалённые пути: большие индексы и более глубокие
// пути удаляются первыми.
func DeleteAll(obj map[string]any, paths []string) {
	ordered := slices.Clone(paths)
	slices.SortStableFunc(ordered, comparePathsForDelete)
	for _, path := range ordered {
		Delete(obj, path)
	}
}

// deleteIn удаляет segments внутри container и возвращает контейнер,
// который нужно записать на место исходного (массив мог пересобраться).
func deleteIn(container any, segments []string) (any, bool) {
	seg, rest := segments[0], segments[1:]

	switch c := container.(type) {
	case map[string]any:
		child, exists := c[seg]
		if !exists {
			return c, false
		}
		if len(rest) == 0 {
			delete(c, seg)
			return c, true
		}
		updated, ok := deleteIn(child, rest)
		if ok {
			c[seg] = updated
		}
		return c, ok

	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(c) {
			return c, false
		}
		if len(rest) == 0 {
			return slices.Delete(slices.Clone(c), idx, idx+1), true
		}
		updated, ok := deleteIn(c[idx], rest)
		if ok {
			c[idx] = updated
		}
		return c, ok

	default:
		return container, false
	}
}

// comparePathsForDelete упорядочивает пути для DeleteAll.
func comparePathsForDelete(a, b string) int {
	as, bs := SplitPath(a), SplitPath(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		ai, aErr := strconv.Atoi(as[i])
		bi, bErr := strconv.Atoi(bs[i])
		if aErr == nil && bErr == nil {
			return cmp.Compare(bi, ai)
		}
		return strings.Compare(as[i], bs[i])
	}
	return cmp.Compare(len(bs), len(as))
}

// lastSegment возвращает последний сегмент пути.
func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}
