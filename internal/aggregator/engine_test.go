package aggregator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSampleFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestExecuteFromFilesNoSplit(t *testing.T) {
	dir := t.TempDir()
	writeSampleFile(t, dir, "hosts.web1.load.txt", "1000 0.5\n1010 0.6\n")

	engine := NewEngine()
	engine.AddSource("file", NewFileSource())

	results, err := Execute(engine, "FROM FILES '"+filepath.Join(dir, "hosts.web1.load.txt")+"' AS host")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 2)
	require.Equal(t, "0.5", results[0].Rows[0]["data"].Scalar())
}

func TestExecuteUnknownSourceErrors(t *testing.T) {
	engine := NewEngine()
	_, err := Execute(engine, "FROM NOSUCHSOURCE 'x' AS y")
	require.Error(t, err)
}

func TestExecuteWithSplitAndWhere(t *testing.T) {
	dir := t.TempDir()
	writeSampleFile(t, dir, "hosts.cpu.txt", "1000 web1:10\n1010 web2:90\n")

	engine := NewEngine()
	engine.AddSource("file", NewFileSource())

	query := "FROM FILES '" + filepath.Join(dir, "hosts.cpu.txt") + "' AS host " +
		"SPLIT host, pct ON ':' " +
		"WHERE pct > 50"
	results, err := Execute(engine, query)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// WHERE is a rejection filter (spec §9): pct>50 drops web2, keeps web1.
	require.Len(t, results[0].Rows, 1)
	require.Equal(t, "web1", results[0].Rows[0]["host"].Scalar())
}
