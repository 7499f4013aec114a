package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

// Shorthand is the compact trigger notation used by operators when
// creating a trigger for a single metric:
//
//	less than 5 within 3600, make it in cartoon style
//	over 10 within 2h, create a celebratory follow-up
//
// The duration is the minimum time since publish before the comparison is
// checked, so it compiles to an "after" window.
type Shorthand struct {
	Field   string  `json:"field"`
	Op      string  `json:"op"`
	Value   float64 `json:"value"`
	Seconds float64 `json:"seconds"`
	Action  string  `json:"action"`
}

var shorthandRe = regexp.MustCompile(`(?i)^\s*(less than|under|below|<|greater than|more than|over|above|>|equals|equal to|is|=|==)\s*(-?\d+(?:\.\d+)?)\s+within\s+(\d+(?:\.\d+)?)\s*([a-z]*)\s*(?:,\s*(.*?))?\s*$`)

var shorthandOps = map[string]string{
	"less than":    "<",
	"under":        "<",
	"below":        "<",
	"<":            "<",
	"greater than": ">",
	"more than":    ">",
	"over":         ">",
	"above":        ">",
	">":            ">",
	"equals":       "==",
	"equal to":     "==",
	"is":           "==",
	"=":            "==",
	"==":           "==",
}

var shorthandUnits = map[string]float64{
	"": 1, "s": 1, "sec": 1, "secs": 1, "second": 1, "seconds": 1,
	"m": 60, "min": 60, "mins": 60, "minute": 60, "minutes": 60,
	"h": 3600, "hour": 3600, "hours": 3600,
	"d": 86400, "day": 86400, "days": 86400,
}

// ParseShorthand parses text as a shorthand trigger on field.
func ParseShorthand(field, text string) (Shorthand, error) {
	field = strings.ToLower(strings.TrimSpace(field))
	if _, ok := Fields[field]; !ok || field == FieldElapsed {
		return Shorthand{}, fmt.Errorf("%w: unknown field %q", domain.ErrInvalidCondition, field)
	}
	m := shorthandRe.FindStringSubmatch(text)
	if m == nil {
		return Shorthand{}, fmt.Errorf("%w: expected \"<comparison> <value> within <duration>, <action>\", got %q", domain.ErrInvalidCondition, text)
	}
	value, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Shorthand{}, fmt.Errorf("%w: bad value %q", domain.ErrInvalidCondition, m[2])
	}
	n, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Shorthand{}, fmt.Errorf("%w: bad duration %q", domain.ErrInvalidCondition, m[3])
	}
	unit, ok := shorthandUnits[strings.ToLower(m[4])]
	if !ok {
		return Shorthand{}, fmt.Errorf("%w: unknown duration unit %q", domain.ErrInvalidCondition, m[4])
	}
	return Shorthand{
		Field:   field,
		Op:      shorthandOps[strings.ToLower(m[1])],
		Value:   value,
		Seconds: n * unit,
		Action:  m[5],
	}, nil
}

// Expression renders the shorthand in the condition language.
func (s Shorthand) Expression() string {
	return fmt.Sprintf("%s %s %s after %s",
		s.Field, s.Op, strconv.FormatFloat(s.Value, 'g', -1, 64), formatSeconds(s.Seconds))
}

// Condition parses the rendered expression.
func (s Shorthand) Condition() (*Condition, error) {
	return Parse(s.Expression())
}
