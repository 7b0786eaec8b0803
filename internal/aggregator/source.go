// Package aggregator implements component C10: the query-time engine
// that resolves a TDQL FROM clause to files, reads and merges them in
// timestamp order, and applies SPLIT/WHERE/GROUP BY/STORE.
//
// Grounded on skvoz/aggregation/server/{engine,sources}.py.
package aggregator

import (
	"os"
	"path/filepath"

	"github.com/skvoz/skvoz-go/internal/tsfile"
)

// KeyFiles is one FROM alias's resolved file set.
type KeyFiles struct {
	Group string
	Files []tsfile.File
}

// Source resolves a FROM clause's key/path patterns to concrete files
// and reads them back, the way AggregatorSource's two subclasses do for
// plain exported files versus a live tsfile Store.
type Source interface {
	FilesFromKeys(keys map[string][]string) ([]KeyFiles, error)
	ReadFiles(files []tsfile.File) (tsfile.RecordReader, error)
	FilterFilesByTime(files []tsfile.File, startSec, endSec int64) []tsfile.File
}

// FileSource resolves FROM FILES patterns as shell globs against plain
// files on disk -- exported dumps or any other "<tsMillis> <value>" text
// in Writer's wire format, optionally gzip/bzip2 compressed, not
// necessarily in timestamp order. It does not filter by time: spec.md's
// file source has no archive bounds to check against, matching
// AggregatorFile.filter_files_by_time's no-op.
type FileSource struct{}

// NewFileSource builds a Source over glob patterns resolved relative to
// the process's working directory.
func NewFileSource() *FileSource { return &FileSource{} }

func (FileSource) FilesFromKeys(keys map[string][]string) ([]KeyFiles, error) {
	out := make([]KeyFiles, 0, len(keys))
	for group, patterns := range keys {
		var files []tsfile.File
		for _, pattern := range patterns {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				if _, err := os.Stat(m); err == nil {
					// Not consolidated: glob targets are plain exports in
					// Writer's millisecond wire format, not rotated
					// archives, so they must be fully read and sorted --
					// see AggregatorFile.files_from_keys in the original.
					files = append(files, tsfile.File{Path: m, Consolidated: false})
				}
			}
		}
		out = append(out, KeyFiles{Group: group, Files: files})
	}
	return out, nil
}

func (FileSource) ReadFiles(files []tsfile.File) (tsfile.RecordReader, error) {
	return tsfile.ReadFiles(files)
}

func (FileSource) FilterFilesByTime(files []tsfile.File, startSec, endSec int64) []tsfile.File {
	return files
}

// TSFileSource resolves FROM TSFILE key patterns against a live
// tsfile.Store, discovering both the open "latest" log and any
// consolidated archives for each matching key.
type TSFileSource struct {
	store *tsfile.Store
}

// NewTSFileSource builds a Source backed by store.
func NewTSFileSource(store *tsfile.Store) *TSFileSource {
	return &TSFileSource{store: store}
}

func (s *TSFileSource) FilesFromKeys(keys map[string][]string) ([]KeyFiles, error) {
	out := make([]KeyFiles, 0, len(keys))
	for group, patterns := range keys {
		var files []tsfile.File
		for _, pattern := range patterns {
			tskeys, err := s.store.FindKeys(pattern)
			if err != nil {
				return nil, err
			}
			for _, tk := range tskeys {
				fs, err := s.store.FindFiles(tk)
				if err != nil {
					return nil, err
				}
				files = append(files, fs...)
			}
		}
		out = append(out, KeyFiles{Group: group, Files: files})
	}
	return out, nil
}

func (s *TSFileSource) ReadFiles(files []tsfile.File) (tsfile.RecordReader, error) {
	return tsfile.ReadFiles(files)
}

func (s *TSFileSource) FilterFilesByTime(files []tsfile.File, startSec, endSec int64) []tsfile.File {
	return tsfile.FilterFilesByTime(files, startSec, endSec)
}
