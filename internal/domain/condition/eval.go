package condition

import (
	"math"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/domain/metric"
)

// Truth is a three-valued boolean. Unknown arises when a referenced value
// is missing; a condition only fires when it evaluates to True.
type Truth int8

const (
	Unknown Truth = iota
	False
	True
)

func (t Truth) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

func truth(b bool) Truth {
	if b {
		return True
	}
	return False
}

// Env supplies field values to the evaluator.
type Env interface {
	// Value returns the current value of a schema field.
	Value(field string) (float64, bool)
	// Delta returns current minus the value at least window ago.
	Delta(field string, window time.Duration) (float64, bool)
}

const epsilon = 1e-9

// Eval evaluates the condition against env.
func (c *Condition) Eval(env Env) Truth {
	return evalBool(c.Root, env)
}

// Holds reports whether the condition evaluates to True.
func (c *Condition) Holds(env Env) bool {
	return c.Eval(env) == True
}

func evalBool(e Expr, env Env) Truth {
	switch n := e.(type) {
	case *Literal:
		return truth(n.Bool)
	case *Compare:
		l, lok := evalNum(n.L, env)
		r, rok := evalNum(n.R, env)
		if !lok || !rok {
			return Unknown
		}
		switch n.Op {
		case "<":
			return truth(l < r)
		case "<=":
			return truth(l <= r+epsilon)
		case ">":
			return truth(l > r)
		case ">=":
			return truth(l+epsilon >= r)
		case "==":
			return truth(math.Abs(l-r) <= epsilon)
		case "!=":
			return truth(math.Abs(l-r) > epsilon)
		}
	case *Logical:
		l := evalBool(n.L, env)
		r := evalBool(n.R, env)
		if n.Op == "and" {
			return and(l, r)
		}
		return or(l, r)
	case *Not:
		switch evalBool(n.X, env) {
		case True:
			return False
		case False:
			return True
		}
		return Unknown
	case *Window:
		x := evalBool(n.X, env)
		el, ok := env.Value(FieldElapsed)
		if !ok {
			return and(x, Unknown)
		}
		if n.Op == "within" {
			return and(x, truth(el <= n.Seconds))
		}
		return and(x, truth(el >= n.Seconds))
	}
	return Unknown
}

func and(a, b Truth) Truth {
	switch {
	case a == False || b == False:
		return False
	case a == True && b == True:
		return True
	}
	return Unknown
}

func or(a, b Truth) Truth {
	switch {
	case a == True || b == True:
		return True
	case a == False && b == False:
		return False
	}
	return Unknown
}

func evalNum(e Expr, env Env) (float64, bool) {
	switch n := e.(type) {
	case *Literal:
		return n.Value, true
	case *FieldRef:
		return env.Value(n.Name)
	case *Neg:
		v, ok := evalNum(n.X, env)
		return -v, ok
	case *Arith:
		l, lok := evalNum(n.L, env)
		r, rok := evalNum(n.R, env)
		if !lok || !rok {
			return 0, false
		}
		switch n.Op {
		case "+":
			return l + r, true
		case "-":
			return l - r, true
		case "*":
			return l * r, true
		case "/":
			if r == 0 {
				return 0, false
			}
			return l / r, true
		}
	case *Call:
		return evalCall(n, env)
	}
	return 0, false
}

func evalCall(c *Call, env Env) (float64, bool) {
	switch c.Fn {
	case "delta":
		f := c.Args[0].(*FieldRef)
		w := c.Args[1].(*Literal)
		return env.Delta(f.Name, time.Duration(w.Value*float64(time.Second)))
	case "abs":
		v, ok := evalNum(c.Args[0], env)
		return math.Abs(v), ok
	case "min", "max":
		var out float64
		for i, a := range c.Args {
			v, ok := evalNum(a, env)
			if !ok {
				return 0, false
			}
			if i == 0 || (c.Fn == "min" && v < out) || (c.Fn == "max" && v > out) {
				out = v
			}
		}
		return out, true
	}
	return 0, false
}

// SnapshotEnv evaluates against a node's latest snapshot and its history.
type SnapshotEnv struct {
	Current metric.Snapshot
	// History holds earlier snapshots of the same node, oldest first.
	History []metric.Snapshot
	// PublishedAt overrides Current.PublishedAt when set.
	PublishedAt *time.Time
	Now         time.Time
}

// Value implements Env. engagement_rate is unknown until there are
// impressions; elapsed is unknown without a publish time.
func (e SnapshotEnv) Value(field string) (float64, bool) {
	switch field {
	case FieldElapsed:
		pub := e.PublishedAt
		if pub == nil {
			pub = e.Current.PublishedAt
		}
		if pub == nil {
			return 0, false
		}
		el := e.Now.Sub(*pub).Seconds()
		if el < 0 {
			el = 0
		}
		return el, true
	case FieldEngagementRate:
		return rateOf(e.Current)
	}
	v, ok := e.Current.Field(field)
	return float64(v), ok
}

// Delta implements Env using the newest history entry collected at least
// window before Current.
func (e SnapshotEnv) Delta(field string, window time.Duration) (float64, bool) {
	cutoff := e.Current.CollectedAt.Add(-window)
	for i := len(e.History) - 1; i >= 0; i-- {
		past := e.History[i]
		if past.CollectedAt.After(cutoff) {
			continue
		}
		cur, ok := snapshotValue(e.Current, field)
		if !ok {
			return 0, false
		}
		prev, ok := snapshotValue(past, field)
		if !ok {
			return 0, false
		}
		return cur - prev, true
	}
	return 0, false
}

func snapshotValue(s metric.Snapshot, field string) (float64, bool) {
	if field == FieldEngagementRate {
		return rateOf(s)
	}
	v, ok := s.Field(field)
	return float64(v), ok
}

func rateOf(s metric.Snapshot) (float64, bool) {
	if s.Impressions <= 0 {
		return 0, false
	}
	return s.EngagementRate(), true
}
