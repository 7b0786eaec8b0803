// Package cfg loads the Collector/Aggregator daemon configuration from
// a TOML file, the ambient config format SPEC_FULL.md's domain stack
// commits to in place of skvoz/util/config.py's hand-rolled JSON
// Config/ListConfig pair -- the shape (address, data directory, sink
// file, rollup list) is unchanged, only the on-disk format and loader
// library are.
//
// Grounded on skvoz/util/config.py (structure) and skvoz/util/cmdline.py
// (the host:port / unix-path address parsing `to_address` performs).
package cfg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Address is a dial/listen target: either a "host:port" TCP address or
// a filesystem path to a Unix domain socket, matching cmdline.py's
// to_address and config.py's get_address "type": "tcp"|"unix" split.
type Address struct {
	Network string // "tcp" or "unix"
	Value   string // "host:port" for tcp, socket path for unix
}

func (a Address) String() string { return a.Value }

// UnmarshalText lets Address be written directly in TOML as either a
// bare "host:port" or a "/path/to.sock" string, the same single-field
// ergonomics to_address gives command-line flags.
func (a *Address) UnmarshalText(text []byte) error {
	s := string(text)
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") {
		a.Network, a.Value = "unix", s
		return nil
	}
	host, port, ok := strings.Cut(s, ":")
	if !ok {
		return fmt.Errorf("cfg: address %q is neither a unix path nor host:port", s)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("cfg: address %q has a non-numeric port: %w", s, err)
	}
	a.Network, a.Value = "tcp", host+":"+port
	return nil
}

// RollupSpec configures one live pre-aggregation window, passed
// straight through to rollup.New.
type RollupSpec struct {
	Name     string `toml:"name"`
	Function string `toml:"function"`
	Regex    string `toml:"regex"`
	OutFmt   string `toml:"out_format"`
	Interval uint   `toml:"interval_seconds"`
	Wait     uint   `toml:"wait_seconds"`
	Cache    bool   `toml:"cache"`
}

// ArchiveS3Spec optionally offloads consolidated archives to S3; the
// zero value (Bucket == "") leaves archives disk-only.
type ArchiveS3Spec struct {
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`
}

// CollectorConfig is the Collector daemon's configuration file.
type CollectorConfig struct {
	Listen    []Address      `toml:"listen"`
	DataDir   []string       `toml:"data_dir"`
	SinkConf  string         `toml:"sink_config"`
	LogFile   string         `toml:"log_file"`
	LogLevel  string         `toml:"log_level"`
	Rollups   []RollupSpec   `toml:"rollup"`
	ArchiveS3 *ArchiveS3Spec `toml:"archive_s3"`
}

// AggregatorConfig is the Aggregator daemon's configuration file.
type AggregatorConfig struct {
	Listen   Address `toml:"listen"`
	DataDir  string  `toml:"data_dir"`
	LogFile  string  `toml:"log_file"`
	LogLevel string  `toml:"log_level"`
}

// LoadCollectorConfig decodes path into a CollectorConfig.
func LoadCollectorConfig(path string) (*CollectorConfig, error) {
	var c CollectorConfig
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("cfg: failed to load %s: %w", path, err)
	}
	if len(c.Listen) == 0 {
		return nil, fmt.Errorf("cfg: %s: at least one listen address is required", path)
	}
	if len(c.DataDir) == 0 {
		return nil, fmt.Errorf("cfg: %s: data_dir is required", path)
	}
	return &c, nil
}

// LoadAggregatorConfig decodes path into an AggregatorConfig.
func LoadAggregatorConfig(path string) (*AggregatorConfig, error) {
	var c AggregatorConfig
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("cfg: failed to load %s: %w", path, err)
	}
	if c.Listen.Value == "" {
		return nil, fmt.Errorf("cfg: %s: listen address is required", path)
	}
	return &c, nil
}
