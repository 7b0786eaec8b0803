// Package tsfile implements the on-disk layout for per-key append logs
// and their consolidated, time-bounded archives (component C1): a
// Writer for the hot append-log, a background consolidator that sorts
// and merges a rotated log into a compressed archive, a Reader that
// transparently understands plain/gzip/bzip2 content, and the
// discovery helpers the Aggregator's tsfile Source uses to resolve a
// key pattern to a concrete file list.
//
// Grounded on skvoz/util/tsfile.py; the directory-per-key layout, the
// 16MiB/24MiB thresholds and the <minTs>.<span>.<uid> naming are carried
// over unchanged. Go additions: a Store can span more than one root
// directory, sharding keys across them with jump consistent hashing
// (github.com/dgryski/go-jump), the same algorithm the teacher repo uses
// to route metrics to destinations.
package tsfile

import (
	"encoding/base64"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgryski/go-jump"
	log "github.com/sirupsen/logrus"

	"github.com/skvoz/skvoz-go/internal/stats"
)

var logger = log.WithField("component", "tsfile")

const (
	// LatestName is the name of the open, unsorted per-key append log.
	LatestName = "latest"

	// RotateThreshold is the default size, in bytes, at which a
	// "latest" file is rotated out for consolidation.
	RotateThreshold int64 = 16 << 20

	// SortThreshold is the in-memory chunk size used while externally
	// sorting a rotated log during consolidation.
	SortThreshold int64 = 24 << 20
)

// filenames recognized inside a key directory:
//
//	latest                    the open append log
//	<uid>.tsc                 rotated, pending consolidation (never read)
//	<uid>.build               gzip writer in progress (never read)
//	<minTs>.<span>.<uid>      immutable consolidated archive
var (
	reArchive = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[a-z0-9]+$`)
	rePending = regexp.MustCompile(`^[a-z0-9]+\.(tsc|cts)$`)
	reBuild   = regexp.MustCompile(`^[a-z0-9]+\.build$`)
	reName    = regexp.MustCompile(`^latest$|^[a-z0-9]+\.(tsc|cts)$|^[0-9]+\.[0-9]+\.[a-z0-9]+$`)
)

var (
	metricConsolidations = stats.Counter("unit=File.direction=out.tsfile=consolidations")
)

// File describes one file discovered inside a key directory.
type File struct {
	// Path is the absolute path on disk.
	Path string
	// Consolidated is true for an immutable archive, false for "latest".
	Consolidated bool
	// MinTS/MaxTS are the archive's time bounds in seconds (UTC epoch);
	// both are zero for "latest", which has no fixed bounds.
	MinTS, MaxTS int64
}

// EncodeKey returns the URL-safe base64 directory name for a raw key.
func EncodeKey(key string) string {
	return base64.URLEncoding.EncodeToString([]byte(key))
}

// DecodeKey reverses EncodeKey. ok is false when name isn't valid
// base64 -- callers should then treat name as a raw (non-tsfile) key,
// per spec: "treat decode failures as 'not a ts key - use the raw name'".
func DecodeKey(name string) (key string, ok bool) {
	b, err := base64.URLEncoding.DecodeString(name)
	if err != nil {
		return name, false
	}
	return string(b), true
}

// Store roots a TSFile layout, optionally sharded across multiple
// directories. A single root behaves exactly like spec.md's data_dir.
type Store struct {
	Roots []string

	// ArchiveUploader, if set, is called with the absolute path of every
	// freshly consolidated archive, after it has already been renamed
	// into place and is safe to read. A failed upload is logged and
	// never removes or blocks on the local archive, which remains the
	// durable copy of record.
	ArchiveUploader func(path string) error
}

// NewStore builds a Store over one or more root directories.
func NewStore(roots ...string) *Store {
	if len(roots) == 0 {
		panic("tsfile: NewStore requires at least one root")
	}
	return &Store{Roots: roots}
}

// RootFor returns the root directory that owns key. With one root this
// is trivially that root; with several, jump.Hash spreads keys evenly
// and reshards minimally when a root is appended.
func (s *Store) RootFor(key string) string {
	if len(s.Roots) == 1 {
		return s.Roots[0]
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	idx := jump.Hash(h.Sum64(), int32(len(s.Roots)))
	return s.Roots[idx]
}

// KeyDir returns the (possibly not-yet-existing) directory for key.
func (s *Store) KeyDir(key string) string {
	return filepath.Join(s.RootFor(key), EncodeKey(key))
}

// FindKeys decodes each subdirectory name under every root and yields
// the raw key for the ones matching pattern. Directories whose name
// fails to decode are matched against their raw (encoded) name instead.
func (s *Store) FindKeys(pattern string) ([]string, error) {
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, root := range s.Roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			key, _ := DecodeKey(name)
			if key == "" {
				// an empty decoded key can never usefully match and
				// must never be surfaced to callers.
				continue
			}
			if rx.MatchString(key) && !seen[key] {
				seen[key] = true
				out = append(out, key)
			}
		}
	}
	return out, nil
}

// FindFiles enumerates the valid archive-or-latest files for one raw
// key, across whichever root(s) hold it.
func (s *Store) FindFiles(key string) ([]File, error) {
	dir := s.KeyDir(key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []File
	for _, e := range entries {
		name := e.Name()
		if !reName.MatchString(name) {
			continue
		}
		f := File{Path: filepath.Join(dir, name)}
		if reArchive.MatchString(name) {
			f.Consolidated = true
			minTS, maxTS, ok := parseArchiveName(name)
			if !ok {
				continue
			}
			f.MinTS, f.MaxTS = minTS, maxTS
		} else if rePending.MatchString(name) || reBuild.MatchString(name) {
			// recognized, but never surfaced to the query path.
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// parseArchiveName splits "<minTs>.<span>.<uid>" into its bounds.
func parseArchiveName(name string) (minTS, maxTS int64, ok bool) {
	parts := strings.SplitN(name, ".", 3)
	if len(parts) != 3 {
		return 0, 0, false
	}
	min, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	span, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return min, min + span, true
}

// FilterFilesByTime drops archives whose [minTS, maxTS] range is fully
// outside [startSec, endSec]. "latest" is never dropped, since it has
// no fixed bound and may contain in-range samples.
func FilterFilesByTime(files []File, startSec, endSec int64) []File {
	out := files[:0:0]
	for _, f := range files {
		if f.Consolidated {
			if startSec > f.MaxTS || endSec < f.MinTS {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}
