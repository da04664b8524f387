package callback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deepscan "github.com/YannKr/deepscan"
	"github.com/YannKr/deepscan/internal/db"
	"github.com/YannKr/deepscan/internal/model"
)

type captured struct {
	method string
	path   string
	sig    string
	body   []byte
}

func backend(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var reqs []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{r.Method, r.URL.Path, r.Header.Get(SignatureHeader), b})
		mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), reqs...)
	}
}

func TestReportResult(t *testing.T) {
	srv, got := backend(t, http.StatusOK)
	c := &Client{BaseURL: srv.URL + "/", Secret: "s3cret", ResultTimeout: time.Second}

	report := &model.RiskReport{Score: 0.85, Confidence: 0.7, RiskLevel: model.RiskHigh, TamperRegions: []model.TamperRegion{}}
	require.NoError(t, c.ReportResult(context.Background(), "job-1", report))

	reqs := got()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPatch, reqs[0].method)
	assert.Equal(t, "/api/job/job-1/result", reqs[0].path)
	assert.Equal(t, "sha256="+Sign("s3cret", reqs[0].body), reqs[0].sig)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].body, &decoded))
	assert.Equal(t, "HIGHRISK", decoded["riskLevel"])
	assert.Equal(t, []any{}, decoded["tamperRegions"])
}

func TestReportErrorRecordsDelivery(t *testing.T) {
	srv, got := backend(t, http.StatusBadGateway)
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.Migrate(database, deepscan.MigrationFS))

	c := &Client{BaseURL: srv.URL, ErrorTimeout: time.Second, DB: database}
	err = c.ReportError(context.Background(), "job-2", "fetch failed")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Status)

	reqs := got()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/job/job-2/error", reqs[0].path)
	assert.Empty(t, reqs[0].sig)
	assert.JSONEq(t, `{"error":"fetch failed"}`, string(reqs[0].body))

	ds, err := db.ListCallbackDeliveries(database, "job-2")
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, KindError, ds[0].Kind)
	require.NotNil(t, ds[0].ResponseStatus)
	assert.Equal(t, 502, *ds[0].ResponseStatus)
	assert.Equal(t, `{"ok":true}`, ds[0].BodyPreview)
}

func TestCallbackTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := &Client{BaseURL: srv.URL, ErrorTimeout: 50 * time.Millisecond}
	err := c.ReportError(context.Background(), "job-3", "boom")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
