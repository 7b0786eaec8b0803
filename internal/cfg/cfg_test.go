package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAddressUnmarshalTCP(t *testing.T) {
	var a Address
	require.NoError(t, a.UnmarshalText([]byte("localhost:2222")))
	require.Equal(t, "tcp", a.Network)
	require.Equal(t, "localhost:2222", a.Value)
}

func TestAddressUnmarshalUnix(t *testing.T) {
	var a Address
	require.NoError(t, a.UnmarshalText([]byte("/var/run/collector.sock")))
	require.Equal(t, "unix", a.Network)
}

func TestAddressUnmarshalRejectsGarbage(t *testing.T) {
	var a Address
	require.Error(t, a.UnmarshalText([]byte("not-an-address")))
}

func TestLoadCollectorConfig(t *testing.T) {
	path := writeConfig(t, `
listen = ["127.0.0.1:2003"]
data_dir = ["/var/lib/skvoz"]
sink_config = "/etc/skvoz/sinks.json"
log_level = "info"

[[rollup]]
name = "5min-avg"
function = "avg"
regex = "^hosts\\."
out_format = "${0}.5min"
interval_seconds = 300
wait_seconds = 30
cache = true
`)
	conf, err := LoadCollectorConfig(path)
	require.NoError(t, err)
	require.Len(t, conf.Listen, 1)
	require.Equal(t, "tcp", conf.Listen[0].Network)
	require.Equal(t, []string{"/var/lib/skvoz"}, conf.DataDir)
	require.Len(t, conf.Rollups, 1)
	require.Equal(t, "avg", conf.Rollups[0].Function)
}

func TestLoadCollectorConfigRequiresListen(t *testing.T) {
	path := writeConfig(t, `data_dir = ["/var/lib/skvoz"]`)
	_, err := LoadCollectorConfig(path)
	require.Error(t, err)
}

func TestLoadAggregatorConfig(t *testing.T) {
	path := writeConfig(t, `
listen = "0.0.0.0:8888"
data_dir = "/var/lib/skvoz"
log_level = "warn"
`)
	conf, err := LoadAggregatorConfig(path)
	require.NoError(t, err)
	require.Equal(t, "tcp", conf.Listen.Network)
	require.Equal(t, "/var/lib/skvoz", conf.DataDir)
}
