// Package callback reports terminal job outcomes to the job-tracking backend.
package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YannKr/deepscan/internal/db"
	"github.com/YannKr/deepscan/internal/model"
)

const (
	KindResult = "result"
	KindError  = "error"

	// SignatureHeader carries the hex HMAC-SHA256 of the body when a
	// secret is configured.
	SignatureHeader = "X-Deepscan-Signature"

	previewLimit = 500
)

// StatusError reports a backend response outside 2xx.
type StatusError struct {
	Status  int
	Preview string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.Status)
}

type Client struct {
	BaseURL       string
	Secret        string
	ResultTimeout time.Duration
	ErrorTimeout  time.Duration
	HTTP          *http.Client

	// DB, when set, receives one callback_deliveries row per attempt.
	DB *sql.DB
}

// ReportResult PATCHes the risk report to {base}/api/job/{id}/result.
func (c *Client) ReportResult(ctx context.Context, jobID string, report *model.RiskReport) error {
	return c.send(ctx, jobID, KindResult, c.ResultTimeout, report)
}

// ReportError PATCHes {"error": msg} to {base}/api/job/{id}/error.
func (c *Client) ReportError(ctx context.Context, jobID, msg string) error {
	return c.send(ctx, jobID, KindError, c.ErrorTimeout, map[string]string{"error": msg})
}

func (c *Client) send(ctx context.Context, jobID, kind string, timeout time.Duration, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s callback: %w", kind, err)
	}

	status, preview, err := c.patch(ctx, c.endpoint(jobID, kind), timeout, payload)
	c.record(jobID, kind, status, preview, err)
	if err != nil {
		slog.Warn("backend callback failed", "job", jobID, "kind", kind, "error", err)
		return err
	}
	slog.Info("backend callback delivered", "job", jobID, "kind", kind, "status", *status)
	return nil
}

func (c *Client) endpoint(jobID, kind string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/job/" + url.PathEscape(jobID) + "/" + kind
}

func (c *Client) patch(ctx context.Context, target string, timeout time.Duration, payload []byte) (statusCode *int, preview string, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPatch, target, bytes.NewReader(payload))
	if reqErr != nil {
		return nil, "", fmt.Errorf("create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(c.Secret, payload))
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, respErr := client.Do(req)
	if respErr != nil {
		return nil, "", fmt.Errorf("patch: %w", respErr)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, previewLimit))
	preview = string(b)
	code := resp.StatusCode
	statusCode = &code

	if code < 200 || code > 299 {
		return statusCode, preview, &StatusError{Status: code, Preview: preview}
	}
	return statusCode, preview, nil
}

func (c *Client) record(jobID, kind string, status *int, preview string, sendErr error) {
	if c.DB == nil {
		return
	}
	d := &model.CallbackDelivery{
		ID:             uuid.New().String(),
		JobID:          jobID,
		Kind:           kind,
		ResponseStatus: status,
		BodyPreview:    preview,
		AttemptedAt:    time.Now(),
	}
	if sendErr != nil {
		d.ErrorMessage = sendErr.Error()
	}
	if err := db.CreateCallbackDelivery(c.DB, d); err != nil {
		slog.Error("callback: record delivery", "job", jobID, "error", err)
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
