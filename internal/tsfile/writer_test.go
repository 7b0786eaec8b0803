package tsfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriterAppendsLines(t *testing.T) {
	store := NewStore(t.TempDir())
	w, err := OpenWriter(store, "hosts.web1.load")
	require.NoError(t, err)

	require.NoError(t, w.Write(1000, "1"))
	require.NoError(t, w.Write(1010, "2"))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(store.KeyDir("hosts.web1.load"), LatestName))
	require.NoError(t, err)
	require.Equal(t, "1000 1\n1010 2\n", string(data))
}

func TestRotateProducesArchiveAndUploadsIt(t *testing.T) {
	store := NewStore(t.TempDir())
	w, err := OpenWriter(store, "hosts.web1.load")
	require.NoError(t, err)
	require.NoError(t, w.Write(1000, "1"))
	require.NoError(t, w.Write(1010, "2"))

	var mu sync.Mutex
	var uploaded string
	store.ArchiveUploader = func(path string) error {
		mu.Lock()
		uploaded = path
		mu.Unlock()
		return nil
	}

	done := make(chan string, 1)
	w.OnConsolidate = func(uid string) { done <- uid }

	require.NoError(t, w.rotate())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consolidation did not complete")
	}

	files, err := store.FindFiles("hosts.web1.load")
	require.NoError(t, err)

	var sawArchive bool
	for _, f := range files {
		if f.Consolidated {
			sawArchive = true
			mu.Lock()
			require.Equal(t, f.Path, uploaded)
			mu.Unlock()
		}
	}
	require.True(t, sawArchive)

	require.NoError(t, w.Close())
}
