package collectqueue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skvoz/skvoz-go/internal/sink"
	"github.com/skvoz/skvoz-go/internal/tsfile"
)

func TestPutWritesToWAL(t *testing.T) {
	dir := t.TempDir()
	store := tsfile.NewStore(dir)
	sinks := sink.NewRegistry("")
	q := New(store, sinks)

	go q.Run()
	q.Put(Sample{Key: "hosts.a.cpu", TSMillis: 1000, Value: "42"})
	q.Stop()

	data, err := os.ReadFile(filepath.Join(store.KeyDir("hosts.a.cpu"), tsfile.LatestName))
	require.NoError(t, err)
	require.Equal(t, "1000 42\n", string(data))
}

func TestStopDrainsQueuedSamples(t *testing.T) {
	dir := t.TempDir()
	store := tsfile.NewStore(dir)
	q := New(store, sink.NewRegistry(""))

	go q.Run()
	for i := 0; i < 50; i++ {
		q.Put(Sample{Key: "hosts.b.cpu", TSMillis: int64(i), Value: "1"})
	}
	q.Stop()

	data, err := os.ReadFile(filepath.Join(store.KeyDir("hosts.b.cpu"), tsfile.LatestName))
	require.NoError(t, err)
	require.Equal(t, 50, len(splitLines(string(data))))
}

func splitLines(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == '\n' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	return out
}
