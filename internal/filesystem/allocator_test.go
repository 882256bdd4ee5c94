package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeStripsInvalidChars(t *testing.T) {
	require.Equal(t, "a_b_c.zip", Sanitize(`a<b>c.zip`, 248))
}

func TestSanitizeClampsLength(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	name := string(long) + ".bin"
	out := Sanitize(name, 248)
	require.LessOrEqual(t, len(out), 248)
	require.Equal(t, ".bin", filepath.Ext(out))
}

func TestUniquePathAppendsSuffix(t *testing.T) {
	dir := t.TempDir()
	first := UniquePath(dir, "file.txt")
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o644))

	second := UniquePath(dir, "file.txt")
	require.NotEqual(t, first, second)
	require.Equal(t, filepath.Join(dir, "file (2).txt"), second)
}
