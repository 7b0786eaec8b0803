package table

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skvoz/skvoz-go/internal/tdql"
)

func mustInsert(t *testing.T, tb *Table, row Row) {
	t.Helper()
	require.NoError(t, tb.Insert(row))
}

func TestInsertRejectsRowMissingColumn(t *testing.T) {
	tb := New("t", []string{"a", "b"})
	err := tb.Insert(Row{"a": tdql.NewNumber(1), "c": tdql.NewNumber(2)})
	require.Error(t, err)
}

func TestEquiJoin(t *testing.T) {
	a := New("a", []string{"id", "x"})
	mustInsert(t, a, Row{"id": tdql.NewNumber(1), "x": tdql.NewString("one")})
	mustInsert(t, a, Row{"id": tdql.NewNumber(2), "x": tdql.NewString("two")})

	b := New("b", []string{"id", "y"})
	mustInsert(t, b, Row{"id": tdql.NewNumber(1), "y": tdql.NewString("uno")})

	j := EquiJoin(a, b, "id", "id")
	require.Equal(t, 1, j.Count())
	require.Equal(t, tdql.NewString("one").Scalar(), j.Rows[0]["a.x"].Scalar())
	require.Equal(t, tdql.NewString("uno").Scalar(), j.Rows[0]["b.y"].Scalar())
}

func TestLeftOuterJoinKeepsUnmatched(t *testing.T) {
	a := New("a", []string{"id"})
	mustInsert(t, a, Row{"id": tdql.NewNumber(1)})
	mustInsert(t, a, Row{"id": tdql.NewNumber(2)})

	b := New("b", []string{"id"})
	mustInsert(t, b, Row{"id": tdql.NewNumber(1)})

	j := LeftOuterJoin(a, b, func(x, y Row) bool {
		return tokenEqual(x["id"], y["id"])
	})
	require.Equal(t, 2, j.Count())
}

func TestGroupByDedupesAndSorts(t *testing.T) {
	tb := New("t", []string{"k", "v"})
	mustInsert(t, tb, Row{"k": tdql.NewString("b"), "v": tdql.NewNumber(1)})
	mustInsert(t, tb, Row{"k": tdql.NewString("a"), "v": tdql.NewNumber(2)})
	mustInsert(t, tb, Row{"k": tdql.NewString("a"), "v": tdql.NewNumber(3)})

	groups := GroupBy(tb, []string{"k"})
	require.Len(t, groups, 2)
	require.Equal(t, "a", groups[0].Key["k"].Scalar())
	require.Equal(t, 2, groups[0].Rows.Count())
	require.Equal(t, "b", groups[1].Key["k"].Scalar())
	require.Equal(t, 1, groups[1].Rows.Count())
}
