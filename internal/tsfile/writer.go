package tsfile

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Writer is the append-only "latest" handle for one key. It is owned
// exclusively by the Collect queue's single consumer (spec §4.2's
// TimedFdCache invariant) -- no internal locking is needed.
type Writer struct {
	store *Store
	key   string
	dir   string
	f     *os.File
	size  int64

	// OnConsolidate, if set, is invoked with the uid of every rotation
	// spawned by this writer; tests use it to wait for completion
	// instead of sleeping.
	OnConsolidate func(uid string)
}

// OpenWriter opens (creating if needed) the "latest" file for key.
func OpenWriter(store *Store, key string) (*Writer, error) {
	dir := store.KeyDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tsfile: mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, LatestName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tsfile: open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{store: store, key: key, dir: dir, f: f, size: st.Size()}, nil
}

// Write appends "<tsMillis> <value>\n" and rotates the file into
// consolidation if this write crosses RotateThreshold.
func (w *Writer) Write(tsMillis int64, value string) error {
	line := fmt.Sprintf("%d %s\n", tsMillis, value)
	n, err := w.f.WriteString(line)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("tsfile: write %s: %w", w.f.Name(), err)
	}

	if w.size > RotateThreshold {
		return w.rotate()
	}
	return nil
}

// rotate flushes and closes the current "latest", renames it to
// "<uid>.tsc", spawns a background consolidation task that owns that
// file exclusively, and reopens a fresh "latest".
func (w *Writer) rotate() error {
	if err := w.f.Sync(); err != nil {
		logger.WithError(err).Warn("flush before rotate failed")
	}
	path := w.f.Name()
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("tsfile: close before rotate: %w", err)
	}

	uid := newUID()
	tscPath := filepath.Join(w.dir, uid+".tsc")
	if err := os.Rename(path, tscPath); err != nil {
		return fmt.Errorf("tsfile: rename to tsc: %w", err)
	}

	metricConsolidations.Inc(1)
	go func() {
		consolidate(w.dir, uid, w.store.ArchiveUploader)
		if w.OnConsolidate != nil {
			w.OnConsolidate(uid)
		}
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("tsfile: reopen latest: %w", err)
	}
	w.f = f
	w.size = 0
	return nil
}

// Close flushes the writer and, if the file is over threshold,
// rotates it one final time before releasing the handle.
func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		logger.WithError(err).Warn("flush on close failed")
	}
	if w.size > RotateThreshold {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	return w.f.Close()
}

func newUID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back
		// to a degenerate-but-valid uid rather than panicking the
		// single consumer goroutine.
		logger.WithError(err).Error("crypto/rand read failed, using degraded uid")
	}
	return hex.EncodeToString(b[:])
}
