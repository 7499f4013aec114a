package condition

import (
	"fmt"
	"strings"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

// Condition is a parsed, type-checked boolean expression.
type Condition struct {
	Source string `json:"source"`
	Root   Expr   `json:"-"`
}

// String returns the canonical, fully parenthesized form.
func (c *Condition) String() string { return c.Root.String() }

// Parse parses and type-checks src. All errors wrap domain.ErrInvalidCondition.
//
// Precedence, loosest first: within/after, or, and, not, comparison, + -,
// * /, unary minus.
func Parse(src string) (*Condition, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty condition", domain.ErrInvalidCondition)
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseWindow()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %s", t)
	}
	if root.Type() != TypeBool {
		return nil, fmt.Errorf("%w: condition must be boolean, got %s", domain.ErrInvalidCondition, root.Type())
	}
	return &Condition{Source: src, Root: root}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *Condition {
	c, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return c
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", domain.ErrInvalidCondition, fmt.Sprintf(format, args...), t.pos)
}

func (p *parser) isKeyword(words ...string) bool {
	t := p.peek()
	if t.kind != tokIdent {
		return false
	}
	for _, w := range words {
		if t.text == w {
			return true
		}
	}
	return false
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, o := range ops {
		if t.text == o {
			return true
		}
	}
	return false
}

func (p *parser) expectType(t token, e Expr, want Type, what string) error {
	if e.Type() != want {
		return p.errorf(t, "%s needs a %s operand, got %s", what, want, e.Type())
	}
	return nil
}

func (p *parser) parseWindow() (Expr, error) {
	start := p.peek()
	x, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("within", "after") {
		op := p.next()
		if err := p.expectType(start, x, TypeBool, op.text); err != nil {
			return nil, err
		}
		d := p.next()
		if d.kind != tokDuration && d.kind != tokNumber {
			return nil, p.errorf(d, "%s needs a duration, got %s", op.text, d)
		}
		if p.isKeyword("of") {
			p.next()
			if !p.isKeyword("publish") {
				return nil, p.errorf(p.peek(), "expected publish after of, got %s", p.peek())
			}
			p.next()
		}
		x = &Window{X: x, Op: op.text, Seconds: d.num}
	}
	return x, nil
}

func (p *parser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") || p.isOp("||") {
		t := p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if err := p.expectType(t, l, TypeBool, "or"); err != nil {
			return nil, err
		}
		if err := p.expectType(t, r, TypeBool, "or"); err != nil {
			return nil, err
		}
		l = &Logical{Op: "or", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Expr, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") || p.isOp("&&") {
		t := p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if err := p.expectType(t, l, TypeBool, "and"); err != nil {
			return nil, err
		}
		if err := p.expectType(t, r, TypeBool, "and"); err != nil {
			return nil, err
		}
		l = &Logical{Op: "and", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.isKeyword("not") || p.isOp("!") {
		t := p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if err := p.expectType(t, x, TypeBool, "not"); err != nil {
			return nil, err
		}
		return &Not{X: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (Expr, error) {
	l, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if !p.isOp("<", "<=", ">", ">=", "==", "!=", "=") {
		return l, nil
	}
	t := p.next()
	op := t.text
	if op == "=" {
		op = "=="
	}
	r, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if err := p.expectType(t, l, TypeNumber, op); err != nil {
		return nil, err
	}
	if err := p.expectType(t, r, TypeNumber, op); err != nil {
		return nil, err
	}
	return &Compare{Op: op, L: l, R: r}, nil
}

func (p *parser) parseSum() (Expr, error) {
	l, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		t := p.next()
		r, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		if err := p.expectType(t, l, TypeNumber, t.text); err != nil {
			return nil, err
		}
		if err := p.expectType(t, r, TypeNumber, t.text); err != nil {
			return nil, err
		}
		l = &Arith{Op: t.text, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseTerm() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/") {
		t := p.next()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if err := p.expectType(t, l, TypeNumber, t.text); err != nil {
			return nil, err
		}
		if err := p.expectType(t, r, TypeNumber, t.text); err != nil {
			return nil, err
		}
		l = &Arith{Op: t.text, L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isOp("-") {
		t := p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if err := p.expectType(t, x, TypeNumber, "-"); err != nil {
			return nil, err
		}
		return &Neg{X: x}, nil
	}
	return p.parsePrimary()
}

var reserved = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "within": {}, "after": {}, "of": {}, "publish": {},
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &Literal{Value: t.num, Text: t.text}, nil
	case tokDuration:
		return &Literal{Value: t.num, Duration: true, Text: t.text}, nil
	case tokLParen:
		x, err := p.parseWindow()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, p.errorf(c, "expected ), got %s", c)
		}
		return x, nil
	case tokIdent:
		switch t.text {
		case "true", "false":
			return &Literal{IsBool: true, Bool: t.text == "true"}, nil
		}
		if _, ok := reserved[t.text]; ok {
			return nil, p.errorf(t, "unexpected %s", t)
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		if _, ok := Fields[t.text]; !ok {
			return nil, p.errorf(t, "unknown field %s", t)
		}
		return &FieldRef{Name: t.text}, nil
	}
	return nil, p.errorf(t, "unexpected %s", t)
}

func (p *parser) parseCall(name token) (Expr, error) {
	p.next() // (
	var args []Expr
	if p.peek().kind != tokRParen {
		for {
			a, err := p.parseWindow()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if c := p.next(); c.kind != tokRParen {
		return nil, p.errorf(c, "expected ), got %s", c)
	}
	call := &Call{Fn: name.text, Args: args}
	if err := p.checkCall(name, call); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) checkCall(t token, c *Call) error {
	for _, a := range c.Args {
		if err := p.expectType(t, a, TypeNumber, c.Fn); err != nil {
			return err
		}
	}
	switch c.Fn {
	case "delta":
		if len(c.Args) != 2 {
			return p.errorf(t, "delta takes (field, window), got %d arguments", len(c.Args))
		}
		f, ok := c.Args[0].(*FieldRef)
		if !ok || f.Name == FieldElapsed {
			return p.errorf(t, "delta needs a metric field as first argument")
		}
		w, ok := c.Args[1].(*Literal)
		if !ok || w.Value <= 0 {
			return p.errorf(t, "delta needs a positive window as second argument")
		}
	case "min", "max":
		if len(c.Args) < 2 {
			return p.errorf(t, "%s takes at least 2 arguments, got %d", c.Fn, len(c.Args))
		}
	case "abs":
		if len(c.Args) != 1 {
			return p.errorf(t, "abs takes 1 argument, got %d", len(c.Args))
		}
	default:
		return p.errorf(t, "unknown function %s", t)
	}
	return nil
}
