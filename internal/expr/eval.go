package expr

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Program — скомпилированное выражение, можно вычислять многократно.
type Program struct {
	source string
	root   node
}

// Compile разбирает выражение.
func Compile(expression string) (*Program, error) {
	root, err := parse(expression)
	if err != nil {
		return nil, err
	}
	return &Program{source: expression, root: root}, nil
}

// String возвращает исходный текст выражения.
func (p *Program) String() string {
	return p.source
}

// Eval вычисляет выражение против context (JSON-подобное значение).
//
// Результат — bool, float64, string или nil; путь может вернуть и
// вложенный объект/массив, если выражение состоит из одного пути.
func (p *Program) Eval(context any) (any, error) {
	return p.root.eval(context)
}

// Evaluate компилирует и вычисляет выражение за один вызов.
func Evaluate(expression string, context any) (any, error) {
	prog, err := Compile(expression)
	if err != nil {
		return nil, err
	}
	return prog.Eval(context)
}

// EvaluateBool вычисляет условие; небулев результат — ErrTypeMismatch.
func EvaluateBool(expression string, context any) (bool, error) {
	v, err := Evaluate(expression, context)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, newError(ErrTypeMismatch, -1, "condition %q evaluated to %s, want boolean", expression, typeName(v))
	}
	return b, nil
}

// Lookup находит значение по сегментам пути.
func Lookup(context any, segments []string) (any, bool) {
	cur := context
	for _, seg := range segments {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func (l *literal) eval(any) (any, error) {
	return l.value, nil
}

func (n *pathNode) eval(ctx any) (any, error) {
	v, ok := Lookup(ctx, n.segments)
	if !ok {
		return nil, newError(ErrUnknownField, n.pos, "%s", strings.Join(n.segments, "."))
	}
	return v, nil
}

func (n *unaryNode) eval(ctx any) (any, error) {
	v, err := n.operand.eval(ctx)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "!":
		b, ok := v.(bool)
		if !ok {
			return nil, newError(ErrTypeMismatch, n.pos, "operator ! needs boolean, got %s", typeName(v))
		}
		return !b, nil
	default: // "-"
		f, ok := ToNumber(v)
		if !ok {
			return nil, newError(ErrTypeMismatch, n.pos, "unary - needs number, got %s", typeName(v))
		}
		return -f, nil
	}
}

func (n *binaryNode) eval(ctx any) (any, error) {
	left, err := n.left.eval(ctx)
	if err != nil {
		return nil, err
	}

	// логические операторы вычисляются лениво
	if n.op == "&&" || n.op == "||" {
		lb, ok := left.(bool)
		if !ok {
			return nil, newError(ErrTypeMismatch, n.pos, "operator %s needs boolean operands, got %s", n.op, typeName(left))
		}
		if (n.op == "&&" && !lb) || (n.op == "||" && lb) {
			return lb, nil
		}
		right, err := n.right.eval(ctx)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, newError(ErrTypeMismatch, n.pos, "operator %s needs boolean operands, got %s", n.op, typeName(right))
		}
		return rb, nil
	}

	right, err := n.right.eval(ctx)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case ">", "<", ">=", "<=":
		return n.compare(left, right)
	case "+":
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
		return n.arith(left, right)
	default:
		return n.arith(left, right)
	}
}

func (n *binaryNode) compare(left, right any) (any, error) {
	if lf, ok := ToNumber(left); ok {
		if rf, ok := ToNumber(right); ok {
			return compareOrdered(n.op, lf, rf), nil
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return compareOrdered(n.op, ls, rs), nil
		}
	}
	return nil, newError(ErrTypeMismatch, n.pos, "cannot compare %s %s %s", typeName(left), n.op, typeName(right))
}

func compareOrdered[T float64 | string](op string, a, b T) bool {
	switch op {
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	default:
		return a <= b
	}
}

func (n *binaryNode) arith(left, right any) (any, error) {
	lf, lok := ToNumber(left)
	rf, rok := ToNumber(right)
	if !lok || !rok {
		return nil, newError(ErrTypeMismatch, n.pos, "operator %s needs numbers, got %s and %s", n.op, typeName(left), typeName(right))
	}

	switch n.op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	default: // "/"
		if rf == 0 {
			return nil, newError(ErrDivisionByZero, n.pos, "%v / 0", lf)
		}
		return lf / rf, nil
	}
}

// equal сравнивает значения; числа сравниваются независимо от Go-типа.
// Разные типы не ошибка, а просто false: `x == null` должно работать.
func equal(a, b any) bool {
	if af, ok := ToNumber(a); ok {
		if bf, ok := ToNumber(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// ToNumber приводит числовые типы Go и json.Number к float64.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := ToNumber(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
