package entry

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tachyon-dl/tachyon-core/internal/config"
	"github.com/tachyon-dl/tachyon-core/internal/progress"
	"github.com/tachyon-dl/tachyon-core/internal/rangeset"
	"github.com/tachyon-dl/tachyon-core/internal/taskstore"
)

func spawnRangeServer(content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.Header().Set("Accept-Ranges", "bytes")
			w.WriteHeader(http.StatusOK)
			w.Write(content)
			return
		}
		parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
		start, _ := strconv.Atoi(parts[0])
		end := len(content) - 1
		if len(parts) > 1 && parts[1] != "" {
			end, _ = strconv.Atoi(parts[1])
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
}

func spawnNoRangeServer(content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}))
}

func md5Of(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func testConfig() config.DownloadConfig {
	cfg := config.Default()
	cfg.Threads = 4
	cfg.MinChunkSize = 8 * 1024
	cfg.RetryGap = 10 * time.Millisecond
	cfg.RetryTimes = 3
	cfg.PullTimeout = 2 * time.Second
	cfg.ChunkWindow = 500 * time.Millisecond
	cfg.WriteQueueCap = 64
	cfg.WriteMethod = config.Buffered
	return cfg
}

func TestRunTaskDownloadsFullFileMultiRange(t *testing.T) {
	content := make([]byte, 300*1024+123)
	rand.New(rand.NewSource(1)).Read(content)
	server := spawnRangeServer(content)
	defer server.Close()

	store := taskstore.New()
	deps := Deps{Store: store, SaveDir: t.TempDir()}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var snaps []progress.Snapshot
	result := RunTask(ctx, server.URL, testConfig(), deps, nil, func(s progress.Snapshot) {
		snaps = append(snaps, s)
	})

	require.NoError(t, result.Err)
	require.False(t, result.Cancelled)

	rec, ok := store.Get(result.RecordID)
	require.True(t, ok)
	require.Equal(t, taskstore.StatusCompleted, rec.Status)

	got, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	require.Equal(t, md5Of(content), md5Of(got))
}

func TestRunTaskSingleStreamWhenRangeUnsupported(t *testing.T) {
	content := make([]byte, 64*1024)
	rand.New(rand.NewSource(2)).Read(content)
	server := spawnNoRangeServer(content)
	defer server.Close()

	store := taskstore.New()
	deps := Deps{Store: store, SaveDir: t.TempDir()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result := RunTask(ctx, server.URL, testConfig(), deps, nil, nil)

	require.NoError(t, result.Err)
	rec, ok := store.Get(result.RecordID)
	require.True(t, ok)
	require.Equal(t, taskstore.StatusCompleted, rec.Status)

	got, err := os.ReadFile(rec.FilePath)
	require.NoError(t, err)
	require.Equal(t, md5Of(content), md5Of(got))
}

func TestRunTaskResumesFromPriorRecord(t *testing.T) {
	content := make([]byte, 200*1024)
	rand.New(rand.NewSource(3)).Read(content)
	server := spawnRangeServer(content)
	defer server.Close()

	store := taskstore.New()
	dir := t.TempDir()
	deps := Deps{Store: store, SaveDir: dir}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Seed a prior record with half the bytes already on disk at a fixed
	// path.
	cfg := testConfig()
	path := filepath.Join(dir, "resume.bin")
	require.NoError(t, os.WriteFile(path, content[:100*1024], 0o644))

	prior := &taskstore.Record{
		ID:       "resume-task",
		URL:      server.URL,
		FilePath: path,
		FileSize: int64(len(content)),
		Status:   taskstore.StatusPaused,
	}
	prior.SetProgress([]rangeset.Range{{Start: 0, End: 100 * 1024}})
	require.NoError(t, store.Put(prior))

	// The mock server sets neither ETag nor Last-Modified, so the prior
	// record's zero-value FileID trivially matches and its progress is
	// trusted.
	result := RunTask(ctx, server.URL, cfg, deps, prior, nil)
	require.NoError(t, result.Err)
	require.Equal(t, "resume-task", result.RecordID)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, md5Of(content), md5Of(got))
}

func TestRunTaskPersistsElapsedAcrossResume(t *testing.T) {
	content := make([]byte, 200*1024)
	rand.New(rand.NewSource(4)).Read(content)
	server := spawnRangeServer(content)
	defer server.Close()

	store := taskstore.New()
	dir := t.TempDir()
	deps := Deps{Store: store, SaveDir: dir}

	cfg := testConfig()
	path := filepath.Join(dir, "elapsed.bin")
	require.NoError(t, os.WriteFile(path, content[:100*1024], 0o644))

	prior := &taskstore.Record{
		ID:       "elapsed-task",
		URL:      server.URL,
		FilePath: path,
		FileSize: int64(len(content)),
		Status:   taskstore.StatusPaused,
	}
	prior.SetProgress([]rangeset.Range{{Start: 0, End: 100 * 1024}})
	prior.SetElapsed(5 * time.Second)
	require.NoError(t, store.Put(prior))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result := RunTask(ctx, server.URL, cfg, deps, prior, nil)
	require.NoError(t, result.Err)

	rec, ok := store.Get(result.RecordID)
	require.True(t, ok)
	require.GreaterOrEqual(t, rec.Elapsed(), 5*time.Second)
}
