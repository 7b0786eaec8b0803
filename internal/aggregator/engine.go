package aggregator

import (
	"fmt"
	"math"
	"sort"

	"github.com/skvoz/skvoz-go/internal/aggregator/table"
	"github.com/skvoz/skvoz-go/internal/tdql"
	"github.com/skvoz/skvoz-go/internal/tsfile"
	"github.com/skvoz/skvoz-go/internal/tstime"
)

// AggregationContext holds everything a resolved Query needs to turn
// raw (ts, value) reads into the rows a client's TDQL statement asked
// for: an optional SPLIT, WHERE filter, GROUP BY period/keys, and
// STORE aggregates. Grounded on engine.py's AggregationContext.
type AggregationContext struct {
	DataSplit   *tdql.Splitter
	TimeStart   float64
	TimeEnd     float64
	HasTime     bool
	HasTimeEnd  bool
	GroupPeriod tstime.KeyFunc
	GroupKeys   []string
	DataFilters []*tdql.WhereClause
	Functions   map[string]*tdql.Aggregate
}

func (c *AggregationContext) functionsReset() {
	for _, f := range c.Functions {
		f.Reset()
	}
}

func (c *AggregationContext) functionsApply(row table.Row) {
	for _, f := range c.Functions {
		f.Apply(row)
	}
}

func (c *AggregationContext) functionsResults() table.Row {
	out := make(table.Row, len(c.Functions))
	for name, f := range c.Functions {
		out[name] = f.Result()
	}
	return out
}

// AggregateResults reduces rows through the STORE aggregates if any are
// registered, folding groupFields into each row first so a STORE
// expression can reference a GROUP BY key; with no aggregates it
// returns rows unchanged, same as aggregate_results' pass-through path.
func (c *AggregationContext) AggregateResults(rows []table.Row, groupFields table.Row) []table.Row {
	if len(c.Functions) == 0 {
		return rows
	}
	c.functionsReset()
	for _, row := range rows {
		merged := row
		if groupFields != nil {
			merged = row.Clone()
			for k, v := range groupFields {
				merged[k] = v
			}
		}
		c.functionsApply(merged)
	}
	return []table.Row{c.functionsResults()}
}

// filterRow reports whether any WHERE filter rejects fields.
func (c *AggregationContext) filterRow(fields table.Row) (bool, error) {
	for _, f := range c.DataFilters {
		reject, err := f.Rejects(fields)
		if err != nil {
			return false, err
		}
		if reject {
			return true, nil
		}
	}
	return false, nil
}

// AggregatorEngine dispatches a resolved Query's FROM source by name
// and fetches, merges, splits, filters, groups, and stores its result.
// Grounded on engine.py's AggregatorEngine.
type AggregatorEngine struct {
	sources map[string]Source
}

// NewEngine builds an engine with no sources registered.
func NewEngine() *AggregatorEngine {
	return &AggregatorEngine{sources: make(map[string]Source)}
}

// AddSource registers a named Source, e.g. "file" or "tsfile".
func (e *AggregatorEngine) AddSource(name string, s Source) {
	e.sources[name] = s
}

// QueryResult is one GROUP BY bucket's worth of output rows; Group is
// nil when the query had no GROUP BY clause.
type QueryResult struct {
	Group table.Row
	Rows  []table.Row
}

type rawRecord struct {
	mergeTS   float64
	outTS     tdql.Token
	group     string
	fields    table.Row
	raw       string
	hasFields bool
}

// Fetch resolves sourceName's keys to files, reads and merges them in
// timestamp order, and applies ctx's SPLIT/WHERE/GROUP BY/STORE.
func (e *AggregatorEngine) Fetch(ctx *AggregationContext, sourceName string, keys map[string][]string) ([]QueryResult, error) {
	source, ok := e.sources[sourceName]
	if !ok {
		return nil, fmt.Errorf("aggregator: invalid source %q", sourceName)
	}

	groupFiles, err := source.FilesFromKeys(keys)
	if err != nil {
		return nil, err
	}

	var records []rawRecord
	for _, gf := range groupFiles {
		recs, err := e.fetchGroup(ctx, source, gf.Group, gf.Files)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}

	// The per-group streams are each already time-ordered (ReadFiles
	// k-way merges a group's own files); merging them into one global
	// order is a stable sort across the already-sorted groups, the same
	// result heapq.merge(*data) produces, since the whole table is
	// materialized before being handed back over HTTP either way.
	sort.SliceStable(records, func(i, j int) bool { return records[i].mergeTS < records[j].mergeTS })

	dtb := e.buildTable(ctx, records)

	if len(ctx.GroupKeys) > 0 {
		groups := table.GroupBy(dtb, ctx.GroupKeys)
		results := make([]QueryResult, 0, len(groups))
		for _, g := range groups {
			results = append(results, QueryResult{Group: g.Key, Rows: ctx.AggregateResults(g.Rows.Rows, g.Key)})
		}
		return results, nil
	}
	return []QueryResult{{Rows: ctx.AggregateResults(dtb.Rows, nil)}}, nil
}

func (e *AggregatorEngine) buildTable(ctx *AggregationContext, records []rawRecord) *table.Table {
	var columns []string
	if ctx.DataSplit != nil {
		columns = append([]string{"__ts__", "__key__"}, ctx.DataSplit.Names()...)
	} else {
		columns = []string{"__ts__", "__key__", "data"}
	}

	dtb := table.New("query", columns)
	for _, r := range records {
		row := table.Row{"__ts__": r.outTS, "__key__": tdql.NewString(r.group)}
		if ctx.DataSplit != nil {
			for k, v := range r.fields {
				row[k] = v
			}
		} else {
			row["data"] = tdql.NewString(r.raw)
		}
		// Rows are pre-validated against columns during split/filter;
		// a malformed row would already have errored out in fetchGroup.
		_ = dtb.Insert(row)
	}
	return dtb
}

// fetchGroup is fetch_files: it reads one FROM alias's files, applies
// the TIME interval and GROUP BY period filters, and -- for each
// resulting sample -- optionally splits and WHERE-filters it.
func (e *AggregatorEngine) fetchGroup(ctx *AggregationContext, source Source, group string, files []tsfile.File) ([]rawRecord, error) {
	if ctx.HasTime {
		endSec := int64(ctx.TimeEnd)
		if !ctx.HasTimeEnd {
			endSec = math.MaxInt64
		}
		files = source.FilterFilesByTime(files, int64(ctx.TimeStart), endSec)
	}

	reader, err := source.ReadFiles(files)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var samples []tstime.Sample
	for {
		rec, ok, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		samples = append(samples, tstime.Sample{TS: rec.TS, Data: rec.Value})
	}

	if ctx.HasTime {
		end := ctx.TimeEnd
		if !ctx.HasTimeEnd {
			end = 0
		}
		samples = tstime.FilterByInterval(samples, ctx.TimeStart, end)
	}

	var buckets []tstime.Bucket
	if ctx.GroupPeriod != nil {
		buckets = tstime.GroupBy(samples, ctx.GroupPeriod)
	} else {
		buckets = make([]tstime.Bucket, len(samples))
		for i, s := range samples {
			buckets[i] = tstime.Bucket{Samples: []tstime.Sample{s}}
		}
	}

	var out []rawRecord
	for _, b := range buckets {
		if len(b.Samples) == 0 {
			continue
		}
		var outTS tdql.Token
		if ctx.GroupPeriod != nil {
			outTS = tdql.NewString(b.Key)
		} else {
			outTS = tdql.NewNumber(b.Samples[0].TS)
		}
		for _, s := range b.Samples {
			value, _ := s.Data.(string)
			rec := rawRecord{mergeTS: s.TS, outTS: outTS, group: group}
			if ctx.DataSplit != nil {
				fields, err := ctx.DataSplit.Split(value)
				if err != nil {
					return nil, err
				}
				row := table.Row(fields)
				reject, err := ctx.filterRow(row)
				if err != nil {
					return nil, err
				}
				if reject {
					continue
				}
				rec.fields = row
				rec.hasFields = true
			} else {
				rec.raw = value
			}
			out = append(out, rec)
		}
	}
	return out, nil
}
