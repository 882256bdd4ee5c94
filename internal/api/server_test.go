package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	lastURL     string
	lastHeaders map[string]string
	id          string
	err         error
}

func (f *fakeEnqueuer) Enqueue(url string, headers map[string]string) (string, error) {
	f.lastURL = url
	f.lastHeaders = headers
	return f.id, f.err
}

func TestHandleDownloadReturns201OnSuccess(t *testing.T) {
	enq := &fakeEnqueuer{id: "task-123"}
	s := New(enq, nil)

	body := `{"url":"http://example.com/f.bin","headers":"X-One: a\nX-Two: b"}`
	req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "http://example.com/f.bin", enq.lastURL)
	require.Equal(t, map[string]string{"X-One": "a", "X-Two": "b"}, enq.lastHeaders)
}

func TestHandleDownloadReturns500OnEnqueueFailure(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("disk full")}
	s := New(enq, nil)

	req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(`{"url":"http://x/y"}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleDownloadReturns400OnMissingURL(t *testing.T) {
	s := New(&fakeEnqueuer{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
