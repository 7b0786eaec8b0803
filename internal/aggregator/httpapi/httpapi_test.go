package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skvoz/skvoz-go/internal/aggregator"
)

func newTestEngine(t *testing.T) (*aggregator.AggregatorEngine, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.web1.load.txt")
	require.NoError(t, os.WriteFile(path, []byte("1000 0.5\n1010 0.6\n"), 0o644))

	engine := aggregator.NewEngine()
	engine.AddSource("file", aggregator.NewFileSource())
	return engine, path
}

func TestQueryHandlerReturnsNDJSON(t *testing.T) {
	engine, path := newTestEngine(t)
	srv := httptest.NewServer(NewRouter(engine))
	defer srv.Close()

	body, err := json.Marshal(queryRequest{Query: "FROM FILES '" + path + "' AS host"})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/query", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var line map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&line))
	rows, ok := line["rows"].([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 2)
}

func TestQueryHandlerRejectsMalformedBody(t *testing.T) {
	engine, _ := newTestEngine(t)
	srv := httptest.NewServer(NewRouter(engine))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/query", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryHandlerRejectsInvalidTDQL(t *testing.T) {
	engine, _ := newTestEngine(t)
	srv := httptest.NewServer(NewRouter(engine))
	defer srv.Close()

	body, err := json.Marshal(queryRequest{Query: "NOT A QUERY"})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/query", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
