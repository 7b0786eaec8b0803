package tsfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeKeyRoundTrips(t *testing.T) {
	key := "hosts.web1.load"
	name := EncodeKey(key)
	got, ok := DecodeKey(name)
	require.True(t, ok)
	require.Equal(t, key, got)
}

func TestDecodeKeyRejectsGarbage(t *testing.T) {
	_, ok := DecodeKey("not valid base64!!")
	require.False(t, ok)
}

func TestKeyDirShardsAcrossMultipleRoots(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	s := NewStore(dirA, dirB)

	d1 := s.KeyDir("hosts.web1.load")
	require.True(t, d1 == filepath.Join(dirA, EncodeKey("hosts.web1.load")) || d1 == filepath.Join(dirB, EncodeKey("hosts.web1.load")))
}

func TestFindKeysMatchesPattern(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	require.NoError(t, os.MkdirAll(s.KeyDir("hosts.web1.load"), 0o755))
	require.NoError(t, os.MkdirAll(s.KeyDir("hosts.web2.load"), 0o755))
	require.NoError(t, os.MkdirAll(s.KeyDir("other.metric"), 0o755))

	keys, err := s.FindKeys(`^hosts\.`)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"hosts.web1.load", "hosts.web2.load"}, keys)
}

func TestFindFilesDistinguishesArchiveFromLatest(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	dir := s.KeyDir("hosts.web1.load")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, LatestName), []byte("1000 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1000.60.ab12cde"), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ab12cde.tsc"), []byte{}, 0o644))

	files, err := s.FindFiles("hosts.web1.load")
	require.NoError(t, err)
	require.Len(t, files, 2)

	var sawLatest, sawArchive bool
	for _, f := range files {
		if f.Consolidated {
			sawArchive = true
			require.Equal(t, int64(1000), f.MinTS)
			require.Equal(t, int64(1060), f.MaxTS)
		} else {
			sawLatest = true
		}
	}
	require.True(t, sawLatest)
	require.True(t, sawArchive)
}

func TestFilterFilesByTimeDropsOutOfRangeArchives(t *testing.T) {
	files := []File{
		{Path: "a", Consolidated: true, MinTS: 0, MaxTS: 100},
		{Path: "b", Consolidated: true, MinTS: 200, MaxTS: 300},
		{Path: "latest", Consolidated: false},
	}
	out := FilterFilesByTime(files, 150, 250)
	require.Len(t, out, 2)
}
