package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/Strob0t/LaunchLoop/internal/domain"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokDuration
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64 // number value, or seconds for durations
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return strconv.Quote(t.text)
}

var durationUnits = map[string]float64{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
}

// lex splits src into tokens. Identifiers are lower-cased.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			i += exponentLen(src[i:])
			n, err := strconv.ParseFloat(src[start:i], 64)
			if errors.Is(err, strconv.ErrRange) {
				return nil, fmt.Errorf("%w: number %q out of range at offset %d", domain.ErrInvalidCondition, src[start:i], start)
			}
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at offset %d", domain.ErrInvalidCondition, src[start:i], start)
			}
			// a unit letter directly after the number makes a duration: 90s, 2h
			unitStart := i
			for i < len(src) && unicode.IsLetter(rune(src[i])) {
				i++
			}
			if unit := strings.ToLower(src[unitStart:i]); unit != "" {
				mult, ok := durationUnits[unit]
				if !ok {
					return nil, fmt.Errorf("%w: unknown duration unit %q at offset %d", domain.ErrInvalidCondition, unit, unitStart)
				}
				toks = append(toks, token{kind: tokDuration, text: src[start:i], num: n * mult, pos: start})
				continue
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], num: n, pos: start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) || src[i] == '_') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: strings.ToLower(src[start:i]), pos: start})
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			op, ok := matchOperator(src[i:])
			if !ok {
				return nil, fmt.Errorf("%w: unexpected character %q at offset %d", domain.ErrInvalidCondition, c, i)
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

// exponentLen returns the length of an exponent suffix such as e6 or E-3
// at the start of s, or 0.
func exponentLen(s string) int {
	if len(s) < 2 || s[0] != 'e' && s[0] != 'E' {
		return 0
	}
	j := 1
	if s[j] == '+' || s[j] == '-' {
		j++
	}
	digits := j
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j == digits {
		return 0
	}
	return j
}

// operators, longest first so "<=" wins over "<".
var operators = []string{"<=", ">=", "==", "!=", "&&", "||", "<", ">", "=", "!", "+", "-", "*", "/"}

func matchOperator(s string) (string, bool) {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op, true
		}
	}
	return "", false
}
