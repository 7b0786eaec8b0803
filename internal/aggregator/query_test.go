package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQueryResolvesFromAlias(t *testing.T) {
	pq, err := ParseQuery(`FROM TSFILE "hosts.*.load" AS host`)
	require.NoError(t, err)
	require.Equal(t, "tsfile", pq.Source)
	require.Equal(t, []string{"hosts.*.load"}, pq.Keys["host"])
}

func TestParseQueryDefaultsAliasToPatternItself(t *testing.T) {
	pq, err := ParseQuery(`FROM KEYS "hosts.*.load"`)
	require.NoError(t, err)
	require.Equal(t, []string{"hosts.*.load"}, pq.Keys["hosts.*.load"])
}

func TestParseQueryBuildsStoreFunctions(t *testing.T) {
	pq, err := ParseQuery(`FROM FILES "a.log" AS k SPLIT x, y ON ',' WHERE x > 10 STORE sum(y) AS s`)
	require.NoError(t, err)
	require.Contains(t, pq.Context.Functions, "s")
	require.NotNil(t, pq.Context.DataSplit)
	require.Len(t, pq.Context.DataFilters, 1)
}

func TestParseQueryRejectsWhereWithoutSplit(t *testing.T) {
	_, err := ParseQuery(`FROM FILES "a.log" AS k WHERE x > 10`)
	require.Error(t, err)
}

func TestParseQueryGroupByIncludesKey(t *testing.T) {
	pq, err := ParseQuery(`FROM FILES "a.log" AS k SPLIT x ON ',' GROUP BY KEY, x`)
	require.NoError(t, err)
	require.Equal(t, []string{"__key__", "x"}, pq.Context.GroupKeys)
}
