package tdql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/skvoz/skvoz-go/internal/tstime"
)

// SyntaxError is a TDQL statement-level parse failure.
type SyntaxError struct{ msg string }

func (e *SyntaxError) Error() string { return e.msg }

func syntaxErrorf(format string, args ...interface{}) error {
	return &SyntaxError{msg: fmt.Sprintf(format, args...)}
}

func stripPlural(s string) string {
	if strings.HasSuffix(s, "s") && len(s) > 1 {
		return s[:len(s)-1]
	}
	return s
}

// clause is one FROM/TIME/SPLIT/WHERE/GROUP/STORE sub-parser: add()
// consumes tokens as they stream in, close() finalizes once the next
// clause keyword (or end of input) is seen.
type clause interface {
	add(tok Token) error
	close() error
}

// --- FROM -------------------------------------------------------------------

// FromClause resolves FROM FILES|KEYS|TSFILE a, 'path' AS alias, ...
// into a source kind plus an alias -> set-of-patterns map.
type FromClause struct {
	Source string
	Keys   map[string][]string

	expectAlias bool
	pending     string
	havePending bool
}

func newFromClause() *FromClause { return &FromClause{Keys: make(map[string][]string)} }

func (f *FromClause) addKey(alias, pattern string) {
	for _, p := range f.Keys[alias] {
		if p == pattern {
			return
		}
	}
	f.Keys[alias] = append(f.Keys[alias], pattern)
}

func (f *FromClause) add(tok Token) error {
	switch tok.Kind {
	case KComma, KParenOpen, KParenClose:
		return nil
	}

	if tok.Kind == KKeyword && strings.EqualFold(tok.Str, "as") {
		if f.Source == "" {
			return syntaxErrorf("FROM: you need to specify a source")
		}
		if !f.havePending {
			return syntaxErrorf("FROM: you need to specify a key or path")
		}
		f.expectAlias = true
		return nil
	}

	symbol := tok.String()
	if f.Source == "" {
		f.Source = stripPlural(strings.ToLower(symbol))
		return nil
	}
	if f.expectAlias {
		f.addKey(symbol, f.pending)
		f.expectAlias = false
		f.havePending = false
		f.pending = ""
		return nil
	}
	// No AS seen yet for the previous key: it aliases to itself
	// (spec.md §9's resolution of the StmtFrom alias rule).
	if f.havePending {
		f.addKey(f.pending, f.pending)
	}
	f.pending = symbol
	f.havePending = true
	return nil
}

func (f *FromClause) close() error {
	if f.expectAlias {
		return syntaxErrorf("FROM: missing key name for %q", f.pending)
	}
	if f.havePending {
		f.addKey(f.pending, f.pending)
		f.havePending = false
	}
	return nil
}

// --- TIME -------------------------------------------------------------------

var timeLayouts = []string{
	"2006",
	"2006-01",
	"2006-01-02",
	"2006-01-02-15",
	"2006-01-02-15:04",
	"2006-01-02-15:04:05",
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, syntaxErrorf("TIME: could not parse date %q", s)
}

// TimeClause holds the resolved [Start, End] interval in UTC unix
// seconds; End is zero when the interval is open-ended.
type TimeClause struct {
	Start, End float64

	haveStart  bool
	haveEnd    bool
	pendingInt *int64
}

func newTimeClause() *TimeClause { return &TimeClause{} }

var relativeUnits = map[string]func(n int64, from time.Time) time.Time{
	"year":   func(n int64, from time.Time) time.Time { return from.AddDate(int(-n), 0, 0) },
	"month":  func(n int64, from time.Time) time.Time { return from.AddDate(0, int(-n), 0) },
	// "last N weeks" floors to the start of from's UTC day before
	// subtracting: the original's loop-based _last_weeks computes no
	// useful bound, so this pins it to today-at-midnight minus 7*n days
	// instead of replicating that bug.
	"week": func(n int64, from time.Time) time.Time {
		midnight := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
		return midnight.AddDate(0, 0, int(-7*n))
	},
	"day":    func(n int64, from time.Time) time.Time { return from.AddDate(0, 0, int(-n)) },
	"hour":   func(n int64, from time.Time) time.Time { return from.Add(-time.Duration(n) * time.Hour) },
	"minute": func(n int64, from time.Time) time.Time { return from.Add(-time.Duration(n) * time.Minute) },
	"second": func(n int64, from time.Time) time.Time { return from.Add(-time.Duration(n) * time.Second) },
}

func (t *TimeClause) set(val time.Time) {
	sec := float64(val.Unix())
	if !t.haveStart {
		t.Start = sec
		t.haveStart = true
	} else if !t.haveEnd {
		t.End = sec
		t.haveEnd = true
	}
}

func (t *TimeClause) add(tok Token) error {
	switch tok.Kind {
	case KComma, KParenOpen, KParenClose:
		return nil
	}

	if tok.Kind == KNumber {
		n := int64(tok.Num)
		t.pendingInt = &n
		return nil
	}

	if tok.Kind == KKeyword {
		unit := stripPlural(strings.ToLower(tok.Str))
		if fn, ok := relativeUnits[unit]; ok && t.pendingInt != nil {
			val := fn(*t.pendingInt, time.Now().UTC())
			t.pendingInt = nil
			t.set(val)
			return nil
		}
	}

	if tok.Kind == KString {
		val, err := parseTimeString(tok.Str)
		if err != nil {
			return err
		}
		t.set(val)
		return nil
	}

	return syntaxErrorf("TIME: unexpected token %v", tok)
}

func (t *TimeClause) close() error { return nil }

// HasStart reports whether a start bound was given at all -- an empty
// TIME clause is syntactically invalid, but a Query built programmatically
// may still carry a nil Time.
func (t *TimeClause) HasStart() bool { return t.haveStart }

// HasEnd reports whether an end bound was given; a TIME clause with
// only a start is open-ended, matching spec.md §4.9's TIME semantics.
func (t *TimeClause) HasEnd() bool { return t.haveEnd }

// --- SPLIT ------------------------------------------------------------------

// SplitClause holds field names and the delimiter literal(s) used to
// split a sample's raw value into named fields.
type SplitClause struct {
	Results    []string
	Delimiters []string
	onSeen     bool
}

func newSplitClause() *SplitClause { return &SplitClause{} }

func (s *SplitClause) add(tok Token) error {
	if tok.Kind == KComma {
		return nil
	}
	if tok.Kind == KKeyword && strings.EqualFold(tok.Str, "on") {
		s.onSeen = true
		return nil
	}
	symbol := tok.String()
	if !s.onSeen {
		s.Results = append(s.Results, symbol)
	} else {
		s.Delimiters = append(s.Delimiters, symbol)
	}
	return nil
}

func (s *SplitClause) close() error { return nil }

// Splitter compiles a SplitClause's delimiter list into the regexp (or
// plain-space) splitting rule it describes, the way DataSplitter built
// its `_rxsplit` once at construction instead of per call.
type Splitter struct {
	names []string
	rx    *regexp.Regexp
}

// Splitter compiles this SplitClause into a reusable field-splitting
// rule for the aggregator engine's row materializer (spec.md §4.10 step
// 3-4: split on Delimiters, or on a single space if none given, into at
// most len(Results) fields, coercing each to its most specific type).
func (s *SplitClause) Splitter() (*Splitter, error) {
	sp := &Splitter{names: s.Results}
	switch len(s.Delimiters) {
	case 0:
		return sp, nil
	case 1:
		rx, err := regexp.Compile(s.Delimiters[0])
		if err != nil {
			return nil, syntaxErrorf("SPLIT: invalid delimiter %q: %v", s.Delimiters[0], err)
		}
		sp.rx = rx
	default:
		parts := make([]string, len(s.Delimiters))
		for i, d := range s.Delimiters {
			parts[i] = regexp.QuoteMeta(d)
		}
		rx, err := regexp.Compile(strings.Join(parts, "|"))
		if err != nil {
			return nil, syntaxErrorf("SPLIT: invalid delimiters %v: %v", s.Delimiters, err)
		}
		sp.rx = rx
	}
	return sp, nil
}

// Names returns the field names this Splitter produces, in order.
func (sp *Splitter) Names() []string { return sp.names }

// Split divides data into len(names) fields and coerces each, erroring
// if the split didn't produce exactly that many pieces.
func (sp *Splitter) Split(data string) (map[string]Token, error) {
	n := len(sp.names)
	var parts []string
	if sp.rx == nil {
		parts = strings.SplitN(data, " ", n)
	} else {
		parts = sp.rx.Split(data, n)
	}
	if len(parts) != n {
		return nil, syntaxErrorf("SPLIT: %d pieces from %q, expected %d", len(parts), data, n)
	}
	fields := make(map[string]Token, n)
	for i, name := range sp.names {
		fields[name] = coerce(parts[i])
	}
	return fields, nil
}

// --- GROUP BY -----------------------------------------------------------------

var timeGroups = map[string]bool{
	"year": true, "month": true, "day": true, "week": true, "hour": true, "minute": true,
}

// GroupClause holds the non-time group keys and at most one time
// bucketing unit.
type GroupClause struct {
	Key        bool
	TimePeriod string
	OtherKeys  []string
}

func newGroupClause() *GroupClause { return &GroupClause{} }

func (g *GroupClause) add(tok Token) error {
	symbol := strings.ToLower(tok.String())
	if tok.Kind == KComma || (tok.Kind == KKeyword && symbol == "by") {
		return nil
	}
	symbol = stripPlural(symbol)
	switch {
	case symbol == "key":
		g.Key = true
	case timeGroups[symbol]:
		if g.TimePeriod != "" && g.TimePeriod != symbol {
			return syntaxErrorf("GROUP BY: another time period already specified %q", g.TimePeriod)
		}
		g.TimePeriod = symbol
	default:
		g.OtherKeys = append(g.OtherKeys, symbol)
	}
	return nil
}

func (g *GroupClause) close() error { return nil }

// --- WHERE --------------------------------------------------------------------

// WhereClause compiles its expression via the shunting-yard compiler
// and constant-folds it once at close() (vars == nil), the same
// partial-evaluation pass StmtWhere.close() performs.
type WhereClause struct {
	compiler *Compiler
	Program  []Token
}

func newWhereClause(functions map[string]bool) *WhereClause {
	return &WhereClause{compiler: NewCompiler(functions)}
}

func (w *WhereClause) add(tok Token) error {
	w.compiler.Add(tok)
	return nil
}

func (w *WhereClause) close() error {
	w.Program = Evaluate(w.compiler.Finish(), nil, nil)
	return nil
}

// Rejects evaluates the predicate against a row's fields and reports
// whether spec.md §4.10 step 5's rejection semantics drop the row:
// a true predicate result means "reject".
func (w *WhereClause) Rejects(fields map[string]Token) (bool, error) {
	result := Evaluate(w.Program, fields, nil)
	if len(result) != 1 {
		return false, syntaxErrorf("WHERE: expression did not reduce to a single value")
	}
	return result[0].Truthy(), nil
}

// --- STORE --------------------------------------------------------------------

// storeFunction accumulates one STORE expression: zero or one
// registered aggregate name promoted to an operator, plus the rest of
// the expression compiled normally.
type storeFunction struct {
	compiler  *Compiler
	functions map[string]AggregateFunc
	program   []Token
}

func newStoreFunction(known map[string]bool) *storeFunction {
	return &storeFunction{compiler: NewCompiler(known), functions: make(map[string]AggregateFunc)}
}

func (f *storeFunction) add(tok Token) error {
	if tok.Kind == KKeyword {
		if ctor, ok := FunctionNames[strings.ToLower(tok.Str)]; ok {
			if len(f.functions) > 0 {
				return syntaxErrorf("STORE: multiple aggregate functions in one expression not supported")
			}
			f.functions[strings.ToLower(tok.Str)] = ctor()
		}
	}
	f.compiler.Add(tok)
	return nil
}

func (f *storeFunction) isNull() bool { return f.compiler.IsEmpty() }

func (f *storeFunction) close() {
	f.program = f.compiler.Finish()
}

// Aggregate is one named STORE output: an aggregate function fed once
// per row by evaluating Program against the row's fields, read once
// at group close.
type Aggregate struct {
	Name    string
	program []Token
	funcs   map[string]AggregateFunc
}

func (a *Aggregate) Reset() {
	for _, f := range a.funcs {
		f.Reset()
	}
}

func (a *Aggregate) Apply(row map[string]Token) {
	calls := make(map[string]FuncCall, len(a.funcs))
	for name, fn := range a.funcs {
		fn := fn
		calls[name] = func(arg Token) Token {
			fn.Apply(arg)
			return fn.Result()
		}
	}
	Evaluate(a.program, row, calls)
}

func (a *Aggregate) Result() Token {
	// Each aggregate call is replaced by its accumulated result before
	// evaluating, since its argument cannot be resolved without a row.
	program := make([]Token, len(a.program))
	for i, tok := range a.program {
		if fn, ok := a.funcs[strings.ToLower(tok.Str)]; ok && tok.Kind == KFunction {
			tok = fn.Result()
		}
		program[i] = tok
	}
	result := Evaluate(program, nil, nil)
	if len(result) == 1 {
		return result[0]
	}
	return stringToken(fmt.Sprintf("%v", result))
}

// StoreClause holds the named aggregate results STORE emits.
type StoreClause struct {
	Results map[string]*Aggregate
	order   []string

	current    *storeFunction
	expectName bool
}

func newStoreClause(known map[string]bool) *StoreClause {
	return &StoreClause{Results: make(map[string]*Aggregate), current: newStoreFunction(known)}
}

func (s *StoreClause) addCurrent(name string) {
	if s.current.isNull() {
		return
	}
	s.current.close()
	if name == "" {
		name = fmt.Sprintf("store%d", len(s.order))
	}
	s.Results[name] = &Aggregate{Name: name, program: s.current.program, funcs: s.current.functions}
	s.order = append(s.order, name)
	s.current = newStoreFunction(s.current.compiler.functions)
}

func (s *StoreClause) add(tok Token) error {
	if tok.Kind == KKeyword && strings.EqualFold(tok.Str, "as") {
		s.expectName = true
		return nil
	}
	if s.expectName {
		s.addCurrent(tok.String())
		s.expectName = false
		return nil
	}
	if tok.Kind == KComma {
		if s.current.isNull() {
			return nil
		}
		s.addCurrent("")
		return nil
	}
	return s.current.add(tok)
}

func (s *StoreClause) close() error {
	s.addCurrent("")
	return nil
}

// Order returns the STORE results' names in declaration order.
func (s *StoreClause) Order() []string { return s.order }

// --- Query --------------------------------------------------------------------

// Query is the fully parsed TDQL statement set: From is mandatory,
// everything else optional per spec.md §4.9.
type Query struct {
	From  *FromClause
	Time  *TimeClause
	Split *SplitClause
	Where *WhereClause
	Group *GroupClause
	Store *StoreClause
}

// knownFunctionSet returns the lower-case-keyed function-name set the
// compiler needs to distinguish calls from plain identifiers.
func knownFunctionSet() map[string]bool {
	m := make(map[string]bool, len(FunctionNames))
	for name := range FunctionNames {
		m[name] = true
	}
	return m
}

// Parse tokenizes and parses a TDQL statement into a Query, enforcing
// the grammar's post-validation rules.
func Parse(query string) (*Query, error) {
	toks, err := Tokenize(query)
	if err != nil {
		return nil, err
	}

	q := &Query{}
	functions := knownFunctionSet()

	var active clause

	closeActive := func() error {
		if active == nil {
			return nil
		}
		return active.close()
	}

	for _, tok := range toks {
		if tok.Kind == KKeyword {
			name := strings.ToLower(tok.Str)
			switch name {
			case "from", "time", "split", "where", "group", "store":
				if err := closeActive(); err != nil {
					return nil, err
				}
				if alreadySet(q, name) {
					return nil, syntaxErrorf("%q statement already specified", name)
				}
				switch name {
				case "from":
					c := newFromClause()
					q.From, active = c, c
				case "time":
					c := newTimeClause()
					q.Time, active = c, c
				case "split":
					c := newSplitClause()
					q.Split, active = c, c
				case "where":
					c := newWhereClause(functions)
					q.Where, active = c, c
				case "group":
					c := newGroupClause()
					q.Group, active = c, c
				case "store":
					c := newStoreClause(functions)
					q.Store, active = c, c
				}
				continue
			}
		}

		if active == nil {
			return nil, syntaxErrorf("query must start with FROM")
		}
		if err := active.add(tok); err != nil {
			return nil, err
		}
	}

	if err := closeActive(); err != nil {
		return nil, err
	}

	if q.From == nil {
		return nil, syntaxErrorf("missing FROM statement")
	}
	if q.Split == nil {
		if q.Where != nil {
			return nil, syntaxErrorf("you need to specify SPLIT to apply WHERE clauses")
		}
		if q.Store != nil {
			return nil, syntaxErrorf("you need to specify SPLIT to STORE something")
		}
	}
	if q.Group != nil {
		allowed := map[string]bool{"__ts__": true, "__key__": true}
		if q.Split != nil {
			for _, f := range q.Split.Results {
				allowed[f] = true
			}
		}
		for _, k := range q.Group.OtherKeys {
			if !allowed[k] {
				return nil, syntaxErrorf("GROUP BY name %q is not __ts__, __key__, or a SPLIT field", k)
			}
		}
	}

	return q, nil
}

func alreadySet(q *Query, name string) bool {
	switch name {
	case "from":
		return q.From != nil
	case "time":
		return q.Time != nil
	case "split":
		return q.Split != nil
	case "where":
		return q.Where != nil
	case "group":
		return q.Group != nil
	case "store":
		return q.Store != nil
	}
	return false
}

// BucketKeyFunc resolves the GROUP BY time unit, if any, to a tstime
// bucketing function.
func (q *Query) BucketKeyFunc() (tstime.KeyFunc, bool) {
	if q.Group == nil || q.Group.TimePeriod == "" {
		return nil, false
	}
	return tstime.KeyFuncFor(q.Group.TimePeriod)
}

// coerce turns a raw split-field string into the most specific Token
// kind it parses as -- spec.md §4.10 step 4's int/float/bool coercion.
func coerce(raw string) Token {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return numberToken(float64(n))
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return numberToken(n)
	}
	switch strings.ToLower(raw) {
	case "true":
		return booleanToken(true)
	case "false":
		return booleanToken(false)
	}
	return stringToken(raw)
}

// Coerce exposes coerce for the aggregator engine's row materializer.
func Coerce(raw string) Token { return coerce(raw) }
