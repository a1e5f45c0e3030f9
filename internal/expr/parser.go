package expr

import (
	"strconv"
	"strings"
)

// node — узел AST выражения.
type node interface {
	eval(ctx any) (any, error)
}

type literal struct {
	value any
}

type pathNode struct {
	segments []string
	pos      int
}

type unaryNode struct {
	op      string
	operand node
	pos     int
}

type binaryNode struct {
	op          string
	left, right node
	pos         int
}

// Приоритеты бинарных операторов (больше — сильнее связывает).
var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	">": 4, "<": 4, ">=": 4, "<=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6,
}

type parser struct {
	tokens []token
	pos    int
}

// parse строит AST из токенов.
func parse(src string) (node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, newError(ErrSyntax, 0, "empty expression")
	}

	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	n, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.kind != tokEOF {
		return nil, newError(ErrSyntax, tok.pos, "unexpected %q", tok.text)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

// parseBinary — разбор методом precedence climbing.
func (p *parser) parseBinary(minPrec int) (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.kind != tokOp {
			return left, nil
		}
		prec, ok := precedence[tok.text]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.next()

		// все операторы левоассоциативны
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.text, left: left, right: right, pos: tok.pos}
	}
}

func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if tok.kind == tokOp && (tok.text == "!" || tok.text == "-") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: tok.text, operand: operand, pos: tok.pos}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()

	switch tok.kind {
	case tokNumber:
		return &literal{value: tok.num}, nil

	case tokString:
		return &literal{value: tok.text}, nil

	case tokLParen:
		inner, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, newError(ErrSyntax, closing.pos, "expected ')'")
		}
		return inner, nil

	case tokIdent:
		switch tok.text {
		case "true":
			return &literal{value: true}, nil
		case "false":
			return &literal{value: false}, nil
		case "null":
			return &literal{value: nil}, nil
		}
		return p.parsePath(tok)

	case tokEOF:
		return nil, newError(ErrSyntax, tok.pos, "unexpected end of expression")

	default:
		return nil, newError(ErrSyntax, tok.pos, "unexpected %q", tok.text)
	}
}

// parsePath читает field path: ident ('.' (ident | index))*.
func (p *parser) parsePath(first token) (node, error) {
	path := &pathNode{segments: []string{first.text}, pos: first.pos}

	for {
		tok := p.peek()
		if tok.kind != tokOp || tok.text != "." {
			return path, nil
		}
		p.next()

		seg := p.next()
		switch seg.kind {
		case tokIdent:
			path.segments = append(path.segments, seg.text)
		case tokNumber:
			if _, err := strconv.Atoi(seg.text); err != nil {
				return nil, newError(ErrSyntax, seg.pos, "invalid index %q", seg.text)
			}
			path.segments = append(path.segments, seg.text)
		default:
			return nil, newError(ErrSyntax, seg.pos, "expected field name after '.'")
		}
	}
}
