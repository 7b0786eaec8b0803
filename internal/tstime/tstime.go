// Package tstime implements component C11: calendar bucketing and
// interval filtering over sample timestamps, fixed to UTC throughout
// (spec.md §9 overrides the original's local-time bucketing, which put
// consolidation and querying at risk of disagreeing on timezone).
//
// Grounded on skvoz/aggregation/util/timestamps.py's group_by_* family
// and filter_by_interval.
package tstime

import (
	"fmt"
	"strings"
	"time"
)

// Sample is anything with a UTC unix-second timestamp a bucketing or
// filter function can key on.
type Sample struct {
	TS   float64
	Data interface{}
}

// Bucket is one calendar-aligned group: a stable string key and the
// samples that fell inside it, in arrival order.
type Bucket struct {
	Key     string
	Samples []Sample
}

// KeyFunc maps a UTC time to its bucket key string.
type KeyFunc func(t time.Time) string

func minuteKey(t time.Time) string { return t.Format("2006-01-02-15.04") }
func hourKey(t time.Time) string   { return t.Format("2006-01-02-15") }
func dayKey(t time.Time) string    { return t.Format("2006-01-02") }
func monthKey(t time.Time) string  { return t.Format("2006-01") }
func yearKey(t time.Time) string   { return fmt.Sprintf("%d", t.Year()) }

// weekKey reproduces Python's strftime("%Y-%W"): week 00 is everything
// before the year's first Monday, and weeks otherwise start on Monday.
func weekKey(t time.Time) string {
	yday := t.YearDay() - 1
	// Go's Weekday: Sunday=0..Saturday=6; Python's %W wants days-since-Monday.
	wd := (int(t.Weekday()) + 6) % 7
	week := (yday + 7 - wd) / 7
	return fmt.Sprintf("%d-%02d", t.Year(), week)
}

// KeyFuncFor resolves a TDQL time-unit name (singular or plural,
// case-insensitive) to its bucketing KeyFunc. ok is false for units
// with no calendar bucketing (second), or an unrecognized unit.
func KeyFuncFor(unit string) (KeyFunc, bool) {
	switch normalizeUnit(strings.ToLower(unit)) {
	case "minute":
		return minuteKey, true
	case "hour":
		return hourKey, true
	case "day":
		return dayKey, true
	case "week":
		return weekKey, true
	case "month":
		return monthKey, true
	case "year":
		return yearKey, true
	default:
		return nil, false
	}
}

func normalizeUnit(unit string) string {
	if len(unit) > 1 && unit[len(unit)-1] == 's' {
		return unit[:len(unit)-1]
	}
	return unit
}

// GroupBy chunks an arrival-ordered, non-decreasing-timestamp stream
// into buckets using key, emitting a new Bucket exactly where the key
// changes (never re-opening a key once the stream has moved past it --
// the bucket-determinism property spec.md §8 requires of a
// non-decreasing input).
func GroupBy(samples []Sample, key KeyFunc) []Bucket {
	var buckets []Bucket
	for _, s := range samples {
		k := key(time.Unix(0, int64(s.TS*float64(time.Second))).UTC())
		if len(buckets) == 0 || buckets[len(buckets)-1].Key != k {
			buckets = append(buckets, Bucket{Key: k})
		}
		last := &buckets[len(buckets)-1]
		last.Samples = append(last.Samples, s)
	}
	return buckets
}

// FilterByInterval keeps samples with tStart <= ts <= tEnd, or
// ts >= tStart when tEnd is zero (absent), per spec.md §4.11.
func FilterByInterval(samples []Sample, tStart, tEnd float64) []Sample {
	out := samples[:0:0]
	for _, s := range samples {
		if s.TS < tStart {
			continue
		}
		if tEnd != 0 && s.TS > tEnd {
			continue
		}
		out = append(out, s)
	}
	return out
}
