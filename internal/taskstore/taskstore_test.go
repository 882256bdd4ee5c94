package taskstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tachyon-dl/tachyon-core/internal/rangeset"
)

func TestStorePutGetDelete(t *testing.T) {
	s := New()
	r := &Record{ID: "a", URL: "http://x/y", FileName: "y", Status: StatusPending}
	require.NoError(t, s.Put(r))

	got, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, "http://x/y", got.URL)

	require.NoError(t, s.Delete("a"))
	_, ok = s.Get("a")
	require.False(t, ok)
}

func TestRecordProgressRoundTrip(t *testing.T) {
	r := &Record{}
	r.SetProgress([]rangeset.Range{{Start: 0, End: 10}, {Start: 20, End: 30}})
	got := r.Progress()
	require.Equal(t, []rangeset.Range{{Start: 0, End: 10}, {Start: 20, End: 30}}, got)
}

func TestStoreQueueReordering(t *testing.T) {
	s := New()
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Put(&Record{ID: id, QueueOrder: i}))
	}

	require.NoError(t, s.MoveToFirst("c"))
	ids := idsOf(s.List())
	require.Equal(t, []string{"c", "a", "b", "d"}, ids)

	require.NoError(t, s.MoveToLast("c"))
	ids = idsOf(s.List())
	require.Equal(t, []string{"a", "b", "d", "c"}, ids)

	require.NoError(t, s.MovePrev("c"))
	ids = idsOf(s.List())
	require.Equal(t, []string{"a", "b", "c", "d"}, ids)

	require.NoError(t, s.MoveNext("a"))
	ids = idsOf(s.List())
	require.Equal(t, []string{"b", "a", "c", "d"}, ids)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(&Record{ID: "persisted", FileName: "f.bin", Status: StatusCompleted}))

	s2, err := Open(path)
	require.NoError(t, err)
	got, ok := s2.Get("persisted")
	require.True(t, ok)
	require.Equal(t, "f.bin", got.FileName)
}

func idsOf(rs []*Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
