// Package client talks to the server of record on behalf of the mobile sync engine.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/fieldops/resilience/internal/errors"
	"github.com/fieldops/resilience/internal/provider"
	syncDomain "github.com/fieldops/resilience/internal/sync/domain"
)

const maxResponseBytes = 4 << 20

// ErrResponseTooLarge is returned when a response body exceeds MaxResponseBytes.
var ErrResponseTooLarge = apperrors.New("server response too large")

// Config configures the HTTP client.
type Config struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	// MaxResponseBytes bounds a response body. Zero selects 4 MiB.
	MaxResponseBytes int64
}

// HTTPClient implements the pull and push endpoints of the server of record.
type HTTPClient struct {
	baseURL   string
	authToken string
	maxBytes  int64
	http      *http.Client
}

// NewHTTPClient creates a client. A zero timeout selects 15 seconds.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = maxResponseBytes
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authToken: cfg.AuthToken,
		maxBytes:  cfg.MaxResponseBytes,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

// Pull returns every entity changed after since.
func (c *HTTPClient) Pull(ctx context.Context, since time.Time) (*syncDomain.ChangeSetPage, error) {
	endpoint := c.baseURL + "/v1/sync/changes"
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Permanent(apperrors.Wrap(err, "failed to build pull request"))
	}

	var page syncDomain.ChangeSetPage
	if err := c.do(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Push submits mutation. The server deduplicates on idempotencyKey, so a push that
// lost its acknowledgement can be repeated.
func (c *HTTPClient) Push(
	ctx context.Context,
	mutation syncDomain.Mutation,
	idempotencyKey string,
) (*syncDomain.Ack, error) {
	body, err := json.Marshal(mutation)
	if err != nil {
		return nil, apperrors.Permanent(apperrors.Wrap(err, "failed to marshal mutation"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sync/mutations", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Permanent(apperrors.Wrap(err, "failed to build push request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(provider.IdempotencyKeyHeader, idempotencyKey)

	var ack syncDomain.Ack
	if err := c.do(req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Transient(apperrors.Wrap(err, "server unreachable"))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// one byte past the limit tells a full body apart from a cut one
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return apperrors.Transient(apperrors.Wrap(err, "failed to read server response"))
	}
	if int64(len(body)) > c.maxBytes {
		return apperrors.Permanent(apperrors.Wrapf(ErrResponseTooLarge, "%s exceeded %d bytes", req.URL.Path, c.maxBytes))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return provider.ClassifyResponse(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Permanent(apperrors.Wrap(err, "failed to decode server response"))
	}
	return nil
}
