// Package httpapi exposes the Aggregator's query endpoint over HTTP,
// the `gorilla/mux`-routed surface SPEC_FULL.md's domain stack section
// commits the Aggregator daemon to.
//
// Grounded on skvoz/aggregation/server/service.py's AggregatorRequestHandler
// (`POST /query`, one JSON-lines result table per line), reworked from
// its hand-rolled method-dispatch table onto gorilla/mux routing and
// gorilla/handlers' combined access logging, the way the teacher wires
// its own admin HTTP surface.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/skvoz/skvoz-go/internal/aggregator"
	"github.com/skvoz/skvoz-go/internal/stats"
)

var (
	logger       = log.WithField("component", "aggregator-http")
	metricQuery  = stats.Counter("unit=Query.direction=in.aggregator=queries")
	metricFailed = stats.Counter("unit=Query.direction=in.aggregator=failures")
)

type queryRequest struct {
	Query string `json:"query"`
}

// NewRouter builds the Aggregator's HTTP surface: POST /query takes a
// {"query": "..."} body and streams back one JSON object per result
// group ({"group": ..., "rows": [...]}), newline-delimited, the same line-oriented response shape
// AggregatorRequestHandler.tdql_query wrote directly to wfile.
func NewRouter(engine *aggregator.AggregatorEngine) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/query", queryHandler(engine)).Methods(http.MethodPost)
	return handlers.CombinedLoggingHandler(logWriter{}, r)
}

func queryHandler(engine *aggregator.AggregatorEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		metricQuery.Inc(1)
		results, err := aggregator.Execute(engine, req.Query)
		if err != nil {
			metricFailed.Inc(1)
			logger.WithError(err).WithField("query", req.Query).Warn("query failed")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, result := range results {
			if err := enc.Encode(rowsToJSON(result)); err != nil {
				logger.WithError(err).Warn("failed to encode result row")
				return
			}
		}
	}
}

func rowsToJSON(result aggregator.QueryResult) map[string]interface{} {
	out := make(map[string]interface{}, 2)
	if result.Group != nil {
		group := make(map[string]interface{}, len(result.Group))
		for k, v := range result.Group {
			group[k] = v.Scalar()
		}
		out["group"] = group
	}
	rows := make([]map[string]interface{}, 0, len(result.Rows))
	for _, row := range result.Rows {
		r := make(map[string]interface{}, len(row))
		for k, v := range row {
			r[k] = v.Scalar()
		}
		rows = append(rows, r)
	}
	out["rows"] = rows
	return out
}

// logWriter adapts logrus to the io.Writer CombinedLoggingHandler wants
// for its Apache-style access log line.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	logger.WithField("ts", time.Now().UTC()).Info(string(p))
	return len(p), nil
}
