package aggregator

import (
	"fmt"

	"github.com/skvoz/skvoz-go/internal/tdql"
)

// ParsedQuery is a TDQL statement resolved down to what Fetch needs:
// a source name, its key/path patterns, and the AggregationContext
// built from SPLIT/WHERE/GROUP BY/STORE. Grounded on engine.py's
// parse_query.
type ParsedQuery struct {
	Source  string
	Keys    map[string][]string
	Context *AggregationContext
}

// ParseQuery compiles a TDQL statement into a ParsedQuery ready for
// AggregatorEngine.Fetch.
func ParseQuery(query string) (*ParsedQuery, error) {
	q, err := tdql.Parse(query)
	if err != nil {
		return nil, err
	}

	ctx := &AggregationContext{Functions: make(map[string]*tdql.Aggregate)}

	if q.Split != nil {
		sp, err := q.Split.Splitter()
		if err != nil {
			return nil, err
		}
		ctx.DataSplit = sp
	}

	if q.Where != nil {
		ctx.DataFilters = append(ctx.DataFilters, q.Where)
	}

	if q.Store != nil {
		for _, name := range q.Store.Order() {
			ctx.Functions[name] = q.Store.Results[name]
		}
	}

	if q.Time != nil && q.Time.HasStart() {
		ctx.HasTime = true
		ctx.TimeStart = q.Time.Start
		ctx.HasTimeEnd = q.Time.HasEnd()
		ctx.TimeEnd = q.Time.End
	}

	if q.Group != nil {
		if q.Group.TimePeriod != "" {
			fn, ok := q.BucketKeyFunc()
			if !ok {
				return nil, fmt.Errorf("aggregator: invalid GROUP BY period %q", q.Group.TimePeriod)
			}
			ctx.GroupPeriod = fn
		}
		keys := q.Group.OtherKeys
		if q.Group.Key {
			keys = append([]string{"__key__"}, keys...)
		}
		ctx.GroupKeys = keys
	}

	return &ParsedQuery{Source: q.From.Source, Keys: q.From.Keys, Context: ctx}, nil
}

// Execute parses and runs query against engine in one step.
func Execute(engine *AggregatorEngine, query string) ([]QueryResult, error) {
	pq, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	return engine.Fetch(pq.Context, pq.Source, pq.Keys)
}
