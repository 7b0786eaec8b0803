package tdql

import (
	"fmt"
	"strconv"
	"strings"
)

// AggregateFunc is one STORE aggregate: reset at the start of each
// group, applied once per row, read once at group close. Grounded on
// functions.py's _Function subclasses.
type AggregateFunc interface {
	Reset()
	Apply(v Token)
	Result() Token
}

// FunctionNames is the built-in TDQL aggregate set, per spec.md §7:
// min max avg sum count list set sub -- sub is the
// subtraction-accumulator sibling to sum.
var FunctionNames = map[string]func() AggregateFunc{
	"min":   func() AggregateFunc { return &minFunc{} },
	"max":   func() AggregateFunc { return &maxFunc{} },
	"avg":   func() AggregateFunc { return &avgFunc{} },
	"sum":   func() AggregateFunc { return &sumFunc{} },
	"sub":   func() AggregateFunc { return &subFunc{} },
	"count": func() AggregateFunc { return &countFunc{} },
	"list":  func() AggregateFunc { return &listFunc{} },
	"set":   func() AggregateFunc { return &setFunc{} },
}

// parseNumber coerces a Token to a numeric Go float64 the way
// _Function.parse_number does: pass numbers through, parse strings,
// treat booleans as 0/1.
func parseNumber(v Token) (float64, bool) {
	switch v.Kind {
	case KNumber:
		return v.Num, true
	case KBoolean:
		return boolNum(v.Bool), true
	case KString:
		s := strings.TrimSpace(v.Str)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n, true
		}
		return 0, false
	default:
		return 0, false
	}
}

type minFunc struct {
	value float64
	set   bool
}

func (f *minFunc) Reset()        { f.value, f.set = 0, false }
func (f *minFunc) Result() Token { return numberToken(f.value) }
func (f *minFunc) Apply(v Token) {
	n, ok := parseNumber(v)
	if !ok {
		return
	}
	if !f.set || n < f.value {
		f.value = n
	}
	f.set = true
}

type maxFunc struct {
	value float64
	set   bool
}

func (f *maxFunc) Reset()        { f.value, f.set = 0, false }
func (f *maxFunc) Result() Token { return numberToken(f.value) }
func (f *maxFunc) Apply(v Token) {
	n, ok := parseNumber(v)
	if !ok {
		return
	}
	if !f.set || n > f.value {
		f.value = n
	}
	f.set = true
}

type sumFunc struct{ total float64 }

func (f *sumFunc) Reset()        { f.total = 0 }
func (f *sumFunc) Result() Token { return numberToken(f.total) }
func (f *sumFunc) Apply(v Token) {
	if n, ok := parseNumber(v); ok {
		f.total += n
	}
}

type subFunc struct{ total float64 }

func (f *subFunc) Reset()        { f.total = 0 }
func (f *subFunc) Result() Token { return numberToken(f.total) }
func (f *subFunc) Apply(v Token) {
	if n, ok := parseNumber(v); ok {
		f.total -= n
	}
}

type avgFunc struct {
	total float64
	count int
}

func (f *avgFunc) Reset() { f.total, f.count = 0, 0 }
func (f *avgFunc) Result() Token {
	if f.count == 0 {
		return numberToken(0)
	}
	return numberToken(f.total / float64(f.count))
}
func (f *avgFunc) Apply(v Token) {
	if n, ok := parseNumber(v); ok {
		f.total += n
		f.count++
	}
}

type countFunc struct{ count int }

func (f *countFunc) Reset()        { f.count = 0 }
func (f *countFunc) Result() Token { return numberToken(float64(f.count)) }
func (f *countFunc) Apply(Token)   { f.count++ }

type listFunc struct{ values []string }

func (f *listFunc) Reset()        { f.values = nil }
func (f *listFunc) Apply(v Token) { f.values = append(f.values, v.String()) }
func (f *listFunc) Result() Token {
	return stringToken(fmt.Sprintf("[%s]", strings.Join(f.values, ", ")))
}

type setFunc struct {
	seen   map[string]bool
	values []string
}

func (f *setFunc) Reset() { f.seen = nil; f.values = nil }
func (f *setFunc) Apply(v Token) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	s := v.String()
	if !f.seen[s] {
		f.seen[s] = true
		f.values = append(f.values, s)
	}
}
func (f *setFunc) Result() Token {
	return stringToken(fmt.Sprintf("[%s]", strings.Join(f.values, ", ")))
}
