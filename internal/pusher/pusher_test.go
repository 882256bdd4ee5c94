package pusher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tachyon-dl/tachyon-core/internal/rangeset"
)

func TestBufferedPusherOutOfOrderWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	p, err := NewBuffered(path, 12, 4)
	require.NoError(t, err)

	require.NoError(t, p.Push(rangeset.Range{Start: 6, End: 12}, []byte("WORLD!")))
	require.NoError(t, p.Push(rangeset.Range{Start: 0, End: 6}, []byte("HELLO ")))
	require.NoError(t, p.Flush())
	require.NoError(t, p.Finalize())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "HELLO WORLD!", string(data))
}

func TestBufferedPusherIdempotentOverlap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.bin")
	p, err := NewBuffered(path, 5, 4)
	require.NoError(t, err)

	require.NoError(t, p.Push(rangeset.Range{Start: 0, End: 5}, []byte("HELLO")))
	require.NoError(t, p.Push(rangeset.Range{Start: 0, End: 5}, []byte("HELLO"))) // speculative duplicate
	require.NoError(t, p.Finalize())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "HELLO", string(data))
}

func TestMappedPusherWritesAtOffsets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapped.bin")
	p, err := NewMapped(path, 10, 4)
	require.NoError(t, err)

	require.NoError(t, p.Push(rangeset.Range{Start: 0, End: 5}, []byte("ABCDE")))
	require.NoError(t, p.Push(rangeset.Range{Start: 5, End: 10}, []byte("FGHIJ")))
	require.NoError(t, p.Finalize())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGHIJ", string(data))
}

func TestSeqPusherRefusesNonContiguous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seq.bin")
	p, err := NewSeq(path)
	require.NoError(t, err)

	require.NoError(t, p.Push(rangeset.Range{Start: 0, End: 3}, []byte("abc")))
	err = p.Push(rangeset.Range{Start: 10, End: 13}, []byte("xyz"))
	require.Error(t, err)
	require.NoError(t, p.Finalize())
}
