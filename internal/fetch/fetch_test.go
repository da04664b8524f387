package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchWritesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png; charset=binary")
		w.Write([]byte("pngdata"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d, err := New(5*time.Second, 1024).Fetch(context.Background(), srv.URL+"/x", dir, "temp_")
	require.NoError(t, err)
	assert.Equal(t, "image/png", d.ContentType)
	assert.EqualValues(t, 7, d.Size)
	assert.True(t, strings.HasPrefix(d.Path, dir+string(os.PathSeparator)+"temp_"))

	b, err := os.ReadFile(d.Path)
	require.NoError(t, err)
	assert.Equal(t, "pngdata", string(b))
}

func TestFetchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := New(5*time.Second, 0).Fetch(context.Background(), srv.URL, dir, "temp_")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestFetchTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 64)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := New(5*time.Second, 16).Fetch(context.Background(), srv.URL, dir, "temp_")
	require.ErrorIs(t, err, ErrTooLarge)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(50*time.Millisecond, 0).Fetch(context.Background(), srv.URL, t.TempDir(), "temp_")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchUnreachable(t *testing.T) {
	_, err := New(time.Second, 0).Fetch(context.Background(), "http://127.0.0.1:1/nope", t.TempDir(), "temp_")
	require.Error(t, err)
}
