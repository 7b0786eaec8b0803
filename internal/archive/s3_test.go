package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArchiveKeyJoinsPrefixAndRelativePath(t *testing.T) {
	key := archiveKey("/var/lib/skvoz", "archives", "/var/lib/skvoz/aGVsbG8=/1000.60.ab12cde")
	require.Equal(t, "archives/aGVsbG8=/1000.60.ab12cde", key)
}

func TestArchiveKeyFallsBackToBaseNameWhenNotRelatable(t *testing.T) {
	// filepath.Rel errors when one path is absolute and the other
	// relative; archiveKey degrades to the bare filename in that case.
	key := archiveKey("relative/root", "archives", "/var/lib/skvoz/1000.60.ab12cde")
	require.Equal(t, "archives/1000.60.ab12cde", key)
}

func TestArchiveKeyWithEmptyPrefix(t *testing.T) {
	key := archiveKey("/var/lib/skvoz", "", "/var/lib/skvoz/k/1000.60.ab12cde")
	require.Equal(t, "k/1000.60.ab12cde", key)
}
