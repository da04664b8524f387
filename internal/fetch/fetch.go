// Package fetch downloads remote media into the uploads directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// ErrTooLarge is returned when the body exceeds the configured limit.
var ErrTooLarge = errors.New("response body exceeds size limit")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

// Download is a fetched body persisted to disk.
type Download struct {
	Path        string
	ContentType string
	Size        int64
}

type Fetcher struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxBytes int64
}

func New(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{Client: &http.Client{}, Timeout: timeout, MaxBytes: maxBytes}
}

// Fetch GETs url and streams the body to dir/<prefix><uuid>. The whole
// exchange, body included, is bounded by the fetcher timeout. On error no
// file is left behind.
func (f *Fetcher) Fetch(ctx context.Context, url, dir, prefix string) (*Download, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}
	if f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return nil, fmt.Errorf("fetch %s: %w (%s)", url, ErrTooLarge, humanize.IBytes(uint64(resp.ContentLength)))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, prefix+uuid.New().String())
	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	body := io.Reader(resp.Body)
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && f.MaxBytes > 0 && n > f.MaxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	ct := resp.Header.Get("Content-Type")
	if mt, _, perr := mime.ParseMediaType(ct); perr == nil {
		ct = mt
	}
	slog.Debug("media fetched", "url", url, "content_type", ct, "size", humanize.IBytes(uint64(n)))
	return &Download{Path: path, ContentType: ct, Size: n}, nil
}
