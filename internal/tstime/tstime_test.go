package tstime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func unixTS(s string) float64 {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return float64(t.UTC().Unix())
}

func TestKeyFuncForResolvesSingularAndPluralUnits(t *testing.T) {
	for _, unit := range []string{"minute", "minutes", "hour", "hours", "day", "days", "week", "weeks", "month", "months", "year", "years"} {
		_, ok := KeyFuncFor(unit)
		require.True(t, ok, "unit %q should resolve", unit)
	}

	_, ok := KeyFuncFor("second")
	require.False(t, ok, "second has no calendar bucketing")

	_, ok = KeyFuncFor("fortnight")
	require.False(t, ok)
}

func TestDayKeyFormatsCalendarDate(t *testing.T) {
	key, ok := KeyFuncFor("day")
	require.True(t, ok)
	require.Equal(t, "2023-03-15", key(time.Date(2023, 3, 15, 12, 30, 0, 0, time.UTC)))
}

func TestWeekKeyMatchesPythonStrftimeW(t *testing.T) {
	key, ok := KeyFuncFor("week")
	require.True(t, ok)

	// Jan 1 2023 is a Sunday, before the year's first Monday: week 00.
	require.Equal(t, "2023-00", key(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
	// Jan 2 2023 is the first Monday: week 01.
	require.Equal(t, "2023-01", key(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestGroupByEmitsOneBucketPerKeyChange(t *testing.T) {
	key, _ := KeyFuncFor("hour")
	samples := []Sample{
		{TS: unixTS("2023-01-01 10:00:00"), Data: "a"},
		{TS: unixTS("2023-01-01 10:30:00"), Data: "b"},
		{TS: unixTS("2023-01-01 11:00:00"), Data: "c"},
	}

	buckets := GroupBy(samples, key)
	require.Len(t, buckets, 2)
	require.Equal(t, "2023-01-01-10", buckets[0].Key)
	require.Len(t, buckets[0].Samples, 2)
	require.Equal(t, "2023-01-01-11", buckets[1].Key)
	require.Len(t, buckets[1].Samples, 1)
}

func TestGroupByNeverReopensAPastKey(t *testing.T) {
	key, _ := KeyFuncFor("hour")
	// Arrival-ordered but revisits an earlier hour's key; GroupBy must
	// not merge it back into the first bucket.
	samples := []Sample{
		{TS: unixTS("2023-01-01 10:00:00")},
		{TS: unixTS("2023-01-01 11:00:00")},
		{TS: unixTS("2023-01-01 10:05:00")},
	}

	buckets := GroupBy(samples, key)
	require.Len(t, buckets, 3)
}

func TestFilterByIntervalKeepsInclusiveRange(t *testing.T) {
	samples := []Sample{{TS: 100}, {TS: 150}, {TS: 200}, {TS: 250}}
	out := FilterByInterval(samples, 150, 200)
	require.Len(t, out, 2)
	require.Equal(t, 150.0, out[0].TS)
	require.Equal(t, 200.0, out[1].TS)
}

func TestFilterByIntervalWithZeroEndKeepsEverythingFromStart(t *testing.T) {
	samples := []Sample{{TS: 100}, {TS: 150}, {TS: 200}}
	out := FilterByInterval(samples, 150, 0)
	require.Len(t, out, 2)
}
