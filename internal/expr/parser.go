package expr

import (
	"errors"
	"fmt"
)

// maxNesting bounds parser recursion so hostile input cannot exhaust the
// stack.
const maxNesting = 256

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

type node interface{ isNode() }

type (
	literal struct{ value any }
	ident   struct{ name string }
	member  struct {
		obj  node
		name string
	}
	index struct{ obj, key node }
	call  struct {
		fn   node
		args []node
	}
	unary struct {
		op string
		x  node
	}
	binary struct {
		op   string
		l, r node
	}
	conditional struct{ cond, then, els node }
)

func (literal) isNode()     {}
func (ident) isNode()       {}
func (member) isNode()      {}
func (index) isNode()       {}
func (call) isNode()        {}
func (unary) isNode()       {}
func (binary) isNode()      {}
func (conditional) isNode() {}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

var errTooDeep = errors.New("expression nested too deeply")

type parser struct {
	toks  []token
	pos   int
	depth int
}

// binary operator precedence, higher binds tighter.
var precedence = map[string]int{
	"??": 1,
	"||": 2,
	"&&": 3,
	"==": 4, "!=": 4, "===": 4, "!==": 4,
	"<": 5, "<=": 5, ">": 5, ">=": 5,
	"+": 6, "-": 6,
	"*": 7, "/": 7, "%": 7,
}

func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, fmt.Errorf("empty expression")
	}
	n, err := p.expression()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at %d", t, t.pos)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) expect(s string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != s {
		return fmt.Errorf("expected %q, found %s at %d", s, t, t.pos)
	}
	return nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNesting {
		return errTooDeep
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// expression := binary ( "?" expression ":" expression )?
func (p *parser) expression() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	cond, err := p.binary(1)
	if err != nil {
		return nil, err
	}
	if !p.isPunct("?") {
		return cond, nil
	}
	p.next()
	then, err := p.expression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	els, err := p.expression()
	if err != nil {
		return nil, err
	}
	return conditional{cond: cond, then: then, els: els}, nil
}

// binary parses left-associative operators with precedence >= minPrec.
func (p *parser) binary(minPrec int) (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPunct {
			return left, nil
		}
		prec, ok := precedence[t.text]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.binary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = binary{op: t.text, l: left, r: right}
	}
}

func (p *parser) unary() (node, error) {
	t := p.peek()
	if t.kind == tokPunct && (t.text == "-" || t.text == "+" || t.text == "!") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unary{op: t.text, x: x}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (node, error) {
	n, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isPunct("."):
			p.next()
			t := p.next()
			if t.kind != tokIdent {
				return nil, fmt.Errorf("expected property name, found %s at %d", t, t.pos)
			}
			n = member{obj: n, name: t.text}
		case p.isPunct("["):
			p.next()
			key, err := p.expression()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			n = index{obj: n, key: key}
		case p.isPunct("("):
			p.next()
			args, err := p.arguments()
			if err != nil {
				return nil, err
			}
			n = call{fn: n, args: args}
		default:
			return n, nil
		}
	}
}

func (p *parser) arguments() ([]node, error) {
	var args []node
	if p.isPunct(")") {
		p.next()
		return args, nil
	}
	for {
		a, err := p.expression()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.isPunct(",") {
			p.next()
			continue
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return literal{value: t.num}, nil
	case tokString:
		return literal{value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literal{value: true}, nil
		case "false":
			return literal{value: false}, nil
		case "null", "undefined":
			return literal{value: nil}, nil
		}
		return ident{name: t.text}, nil
	case tokPunct:
		if t.text == "(" {
			n, err := p.expression()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return n, nil
		}
	}
	return nil, fmt.Errorf("unexpected %s at %d", t, t.pos)
}
