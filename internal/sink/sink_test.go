package sink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeSinkConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sinks.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEmptyKeyMatchesNothing(t *testing.T) {
	s := &Sink{Name: "no-filter"}
	require.False(t, s.Matches("hosts.web1.load"))
}

func TestRegistryLoadsAndMatches(t *testing.T) {
	path := writeSinkConfig(t, `[
		{"name": "graphite", "key": "^hosts\\.", "channel": "tcp", "address": "127.0.0.1:2003"},
		{"name": "kafka-out", "key": "^hosts\\.cpu\\.", "channel": "kafka", "address": "", "topic": "metrics", "brokers": ["b1:9092"]}
	]`)
	r := NewRegistry(path)
	sinks := r.Sinks()
	require.Len(t, sinks, 2)
	require.True(t, sinks[0].Matches("hosts.web1.load"))
	require.False(t, sinks[0].Matches("other.web1.load"))
	require.Equal(t, "metrics", sinks[1].Topic)
	require.Equal(t, []string{"b1:9092"}, sinks[1].Brokers)
}

func TestRegistryRejectsUnknownChannel(t *testing.T) {
	path := writeSinkConfig(t, `[{"name": "bad", "key": ".*", "channel": "carrier-pigeon"}]`)
	r := NewRegistry(path)
	require.Nil(t, r.Sinks())
}

func TestRegistrySkipsReloadWithinInterval(t *testing.T) {
	path := writeSinkConfig(t, `[{"name": "a", "key": ".*", "channel": "file", "address": "/tmp/a"}]`)
	now := time.Unix(1000, 0)
	r := NewRegistry(path)
	r.Now = func() time.Time { return now }

	first := r.Sinks()
	require.Len(t, first, 1)

	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))
	now = now.Add(time.Second)
	require.Len(t, r.Sinks(), 1, "reload interval has not elapsed yet")
}

func TestReloadForcesImmediateRecheck(t *testing.T) {
	path := writeSinkConfig(t, `[{"name": "a", "key": ".*", "channel": "file", "address": "/tmp/a"}]`)
	now := time.Unix(1000, 0)
	r := NewRegistry(path)
	r.Now = func() time.Time { return now }
	require.Len(t, r.Sinks(), 1)

	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))
	r.Reload()
	require.Len(t, r.Sinks(), 0)
}
