package expr

import (
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string  // для tokIdent / tokOp / tokString (уже раскрытая строка)
	num  float64 // для tokNumber
	pos  int
}

// двухсимвольные операторы проверяются раньше односимвольных
var operators = []string{"==", "!=", ">=", "<=", "&&", "||", ">", "<", "!", "+", "-", "*", "/", "."}

// lex разбивает выражение на токены.
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0

	for i < len(src) {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++

		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++

		case isDigit(c) && afterDot(tokens):
			// индекс в пути: "items.0.1" — это 0 и 1, а не число 0.1
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})

		case isDigit(c):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				// "items.0.price": точка после числа без цифры дальше — конец числа
				if src[i] == '.' && (i+1 >= len(src) || !isDigit(src[i+1])) {
					break
				}
				i++
			}
			n, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, newError(ErrSyntax, start, "invalid number %q", src[start:i])
			}
			tokens = append(tokens, token{kind: tokNumber, num: n, text: src[start:i], pos: start})

		case c == '\'' || c == '"':
			s, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, text: s, pos: i})
			i = next

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[start:i], pos: start})

		default:
			matched := false
			for _, op := range operators {
				if strings.HasPrefix(src[i:], op) {
					tokens = append(tokens, token{kind: tokOp, text: op, pos: i})
					i += len(op)
					matched = true
					break
				}
			}
			if !matched {
				return nil, newError(ErrSyntax, i, "unexpected character %q", c)
			}
		}
	}

	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}

// lexString читает строковый литерал в одинарных или двойных кавычках.
func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder

	for i := start + 1; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(src[i])
			}
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}

	return "", 0, newError(ErrSyntax, start, "unterminated string")
}

// afterDot сообщает, что последний токен — точка field path.
func afterDot(tokens []token) bool {
	if len(tokens) == 0 {
		return false
	}
	last := tokens[len(tokens)-1]
	return last.kind == tokOp && last.text == "."
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
