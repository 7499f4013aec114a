// Package condition implements the trigger condition language: a small typed
// expression tree over the metric schema, parsed once when a trigger is
// created and evaluated against each fresh snapshot.
//
//	engagement_rate < 0.015 within 2h of publish
//	likes + shares >= 50 and delta(impressions, 1h) > 1000
//	not (comments > 10) after 30m
package condition

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Type is the static type of an expression.
type Type int

const (
	TypeNumber Type = iota + 1
	TypeBool
)

func (t Type) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	}
	return "invalid"
}

// Derived and contextual fields in addition to the metric counters.
const (
	FieldEngagementRate = "engagement_rate"
	FieldElapsed        = "elapsed" // seconds since publish
)

// Fields is the fixed schema conditions are checked against.
var Fields = map[string]struct{}{
	"likes":             {},
	"impressions":       {},
	"comments":          {},
	"shares":            {},
	FieldEngagementRate: {},
	FieldElapsed:        {},
}

// Expr is a node of the expression tree.
type Expr interface {
	Type() Type
	String() string
}

// FieldRef reads a schema field from the snapshot.
type FieldRef struct {
	Name string
}

// Literal is a number, a duration (in seconds) or a boolean.
type Literal struct {
	Value    float64
	Bool     bool
	IsBool   bool
	Duration bool
	Text     string
}

// Compare is a comparison between two numbers.
type Compare struct {
	Op   string // < <= > >= == !=
	L, R Expr
}

// Logical is a boolean combinator.
type Logical struct {
	Op   string // and, or
	L, R Expr
}

// Not negates a boolean.
type Not struct {
	X Expr
}

// Arith is a binary arithmetic operation.
type Arith struct {
	Op   string // + - * /
	L, R Expr
}

// Neg is unary minus.
type Neg struct {
	X Expr
}

// Call invokes a built-in function.
type Call struct {
	Fn   string
	Args []Expr
}

// Window restricts X to a time window relative to publish: "within D" holds
// while elapsed <= D, "after D" once elapsed >= D.
type Window struct {
	X       Expr
	Op      string // within, after
	Seconds float64
}

func (*FieldRef) Type() Type { return TypeNumber }
func (l *Literal) Type() Type {
	if l.IsBool {
		return TypeBool
	}
	return TypeNumber
}
func (*Compare) Type() Type { return TypeBool }
func (*Logical) Type() Type { return TypeBool }
func (*Not) Type() Type     { return TypeBool }
func (*Arith) Type() Type   { return TypeNumber }
func (*Neg) Type() Type     { return TypeNumber }
func (*Call) Type() Type    { return TypeNumber }
func (*Window) Type() Type  { return TypeBool }

func (f *FieldRef) String() string { return f.Name }

func (l *Literal) String() string {
	switch {
	case l.IsBool:
		return strconv.FormatBool(l.Bool)
	case l.Text != "":
		return l.Text
	}
	return strconv.FormatFloat(l.Value, 'g', -1, 64)
}

func (c *Compare) String() string { return fmt.Sprintf("(%s %s %s)", c.L, c.Op, c.R) }
func (l *Logical) String() string { return fmt.Sprintf("(%s %s %s)", l.L, l.Op, l.R) }
func (n *Not) String() string     { return fmt.Sprintf("(not %s)", n.X) }
func (a *Arith) String() string   { return fmt.Sprintf("(%s %s %s)", a.L, a.Op, a.R) }
func (n *Neg) String() string     { return fmt.Sprintf("(-%s)", n.X) }

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Fn, strings.Join(args, ", "))
}

func (w *Window) String() string {
	return fmt.Sprintf("(%s %s %s of publish)", w.X, w.Op, formatSeconds(w.Seconds))
}

func formatSeconds(s float64) string {
	switch {
	case s >= 3600 && float64(int64(s/3600))*3600 == s:
		return strconv.FormatInt(int64(s/3600), 10) + "h"
	case s >= 60 && float64(int64(s/60))*60 == s:
		return strconv.FormatInt(int64(s/60), 10) + "m"
	}
	return strconv.FormatFloat(s, 'g', -1, 64) + "s"
}

// Walk calls fn for e and every sub-expression, depth first.
func Walk(e Expr, fn func(Expr)) {
	fn(e)
	switch n := e.(type) {
	case *Compare:
		Walk(n.L, fn)
		Walk(n.R, fn)
	case *Logical:
		Walk(n.L, fn)
		Walk(n.R, fn)
	case *Arith:
		Walk(n.L, fn)
		Walk(n.R, fn)
	case *Not:
		Walk(n.X, fn)
	case *Neg:
		Walk(n.X, fn)
	case *Window:
		Walk(n.X, fn)
	case *Call:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	}
}

// Referenced returns the sorted, de-duplicated field names an expression
// reads, including the publish time for windows.
func Referenced(e Expr) []string {
	seen := map[string]struct{}{}
	Walk(e, func(x Expr) {
		switch n := x.(type) {
		case *FieldRef:
			seen[n.Name] = struct{}{}
		case *Window:
			seen[FieldElapsed] = struct{}{}
		}
	})
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MaxLookback returns the longest history window a delta() call needs.
func MaxLookback(e Expr) float64 {
	var max float64
	Walk(e, func(x Expr) {
		if c, ok := x.(*Call); ok && c.Fn == "delta" && len(c.Args) == 2 {
			if lit, ok := c.Args[1].(*Literal); ok && lit.Value > max {
				max = lit.Value
			}
		}
	})
	return max
}
