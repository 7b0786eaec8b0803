// Package table is a small in-memory relational helper: rows with
// named, typed columns, plus the join and group-by operations the
// query engine can build on top of. Kept as an adapted, tested utility
// package per SPEC_FULL.md's Non-goals -- the hot STORE/GROUP BY path
// never calls the join helpers, but they are exercised by their own
// tests and available to anything that grows a cross-source join need.
//
// Grounded on skvoz/aggregation/server/table.py.
package table

import (
	"fmt"
	"sort"
	"strings"

	"github.com/skvoz/skvoz-go/internal/tdql"
)

// Row is one record, keyed by column name. Go's map already gives the
// dict-row representation the Python Table.__iter__ builds on the fly,
// so there is no separate list-of-values storage to keep in sync.
type Row map[string]tdql.Token

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is a named, fixed-column set of rows.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// New builds an empty table over the given columns.
func New(name string, columns []string) *Table {
	return &Table{Name: name, Columns: append([]string(nil), columns...)}
}

// Count returns the number of rows, mirroring Table.count()/__len__.
func (t *Table) Count() int { return len(t.Rows) }

// Insert appends one row; every declared column must be present.
func (t *Table) Insert(values Row) error {
	for _, c := range t.Columns {
		if _, ok := values[c]; !ok {
			return fmt.Errorf("table %q: row missing column %q", t.Name, c)
		}
	}
	t.Rows = append(t.Rows, values)
	return nil
}

// BulkInsert inserts every row in order, stopping at the first error.
func (t *Table) BulkInsert(rows []Row) error {
	for _, r := range rows {
		if err := t.Insert(r); err != nil {
			return err
		}
	}
	return nil
}

// JoinTable is the result of joining two tables: its columns are each
// source table's columns prefixed with "<name>.".
type JoinTable struct {
	Table
	A, B *Table
}

func newJoinTable(a, b *Table) *JoinTable {
	columns := make([]string, 0, len(a.Columns)+len(b.Columns))
	for _, c := range a.Columns {
		columns = append(columns, a.Name+"."+c)
	}
	for _, c := range b.Columns {
		columns = append(columns, b.Name+"."+c)
	}
	return &JoinTable{
		Table: Table{Name: a.Name + "+" + b.Name, Columns: columns},
		A:     a, B: b,
	}
}

func (j *JoinTable) insert(a, b Row) {
	merged := make(Row, len(a)+len(b))
	for k, v := range a {
		merged[j.A.Name+"."+k] = v
	}
	for k, v := range b {
		merged[j.B.Name+"."+k] = v
	}
	j.Rows = append(j.Rows, merged)
}

// CrossJoin returns the Cartesian product of a's and b's rows.
func CrossJoin(a, b *Table) *JoinTable {
	j := newJoinTable(a, b)
	for _, rb := range b.Rows {
		for _, ra := range a.Rows {
			j.insert(ra, rb)
		}
	}
	return j
}

// Predicate decides whether one row from each side of a join matches.
type Predicate func(a, b Row) bool

// InnerJoin keeps only the row pairs predicate accepts.
func InnerJoin(a, b *Table, predicate Predicate) *JoinTable {
	j := newJoinTable(a, b)
	for _, ra := range a.Rows {
		for _, rb := range b.Rows {
			if predicate(ra, rb) {
				j.insert(ra, rb)
			}
		}
	}
	return j
}

// EquiJoin is an InnerJoin whose predicate is equality on one column
// from each side.
func EquiJoin(a, b *Table, keyA, keyB string) *JoinTable {
	return InnerJoin(a, b, func(ra, rb Row) bool {
		return tokenEqual(ra[keyA], rb[keyB])
	})
}

// NaturalJoin is an InnerJoin on every column name the two tables share.
func NaturalJoin(a, b *Table) *JoinTable {
	shared := make(map[string]bool)
	bCols := make(map[string]bool, len(b.Columns))
	for _, c := range b.Columns {
		bCols[c] = true
	}
	for _, c := range a.Columns {
		if bCols[c] {
			shared[c] = true
		}
	}
	return InnerJoin(a, b, func(ra, rb Row) bool {
		for k := range shared {
			if !tokenEqual(ra[k], rb[k]) {
				return false
			}
		}
		return true
	})
}

// LeftOuterJoin keeps every row of a, pairing it with every matching
// row of b, or with a null-valued b row when nothing matches.
func LeftOuterJoin(a, b *Table, predicate Predicate) *JoinTable {
	j := newJoinTable(a, b)
	nullB := make(Row, len(b.Columns))
	for _, c := range b.Columns {
		nullB[c] = tdql.Token{}
	}
	for _, ra := range a.Rows {
		matched := false
		for _, rb := range b.Rows {
			if predicate(ra, rb) {
				j.insert(ra, rb)
				matched = true
			}
		}
		if !matched {
			j.insert(ra, nullB)
		}
	}
	return j
}

// RightOuterJoin is LeftOuterJoin with the two tables' roles reversed.
func RightOuterJoin(a, b *Table, predicate Predicate) *JoinTable {
	return LeftOuterJoin(b, a, func(rb, ra Row) bool { return predicate(ra, rb) })
}

// Group is one output of GroupBy: the grouping key's values plus the
// rows that shared them, with the grouping columns removed.
type Group struct {
	Key  Row
	Rows *Table
}

// GroupBy partitions t's rows by the values of keys, in sorted key
// order, the way table.group_by's sorted(groups.iteritems()) does.
func GroupBy(t *Table, keys []string) []Group {
	type bucket struct {
		key  Row
		rows []Row
	}
	index := make(map[string]*bucket)
	var order []string

	remaining := make([]string, 0, len(t.Columns))
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}
	for _, c := range t.Columns {
		if !keySet[c] {
			remaining = append(remaining, c)
		}
	}

	for _, row := range t.Rows {
		gkey := make(Row, len(keys))
		var sig strings.Builder
		for _, k := range keys {
			gkey[k] = row[k]
			sig.WriteString(k)
			sig.WriteByte('=')
			sig.WriteString(row[k].String())
			sig.WriteByte('\x00')
		}
		sigStr := sig.String()
		b, ok := index[sigStr]
		if !ok {
			b = &bucket{key: gkey}
			index[sigStr] = b
			order = append(order, sigStr)
		}

		rest := make(Row, len(remaining))
		for _, c := range remaining {
			rest[c] = row[c]
		}
		b.rows = append(b.rows, rest)
	}

	sort.Strings(order)
	groups := make([]Group, 0, len(order))
	for _, sig := range order {
		b := index[sig]
		tbl := New("", remaining)
		tbl.Rows = b.rows
		groups = append(groups, Group{Key: b.key, Rows: tbl})
	}
	return groups
}

func tokenEqual(a, b tdql.Token) bool {
	return a.Kind == b.Kind && a.String() == b.String()
}
