// Package provider adapts external services (tax authority, payments, messaging) to
// fallback operations and supplies their default fallbacks.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/fieldops/resilience/internal/errors"
	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
)

// IdempotencyKeyHeader carries the ledger key to providers that deduplicate on their side.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxResponseBytes = 1 << 20

// HTTPOperation POSTs the payload to endpoint and classifies the response.
//
// 2xx returns the body. 408, 425, 429, 5xx and network failures are transient. Any
// other status is a permanent rejection.
func HTTPOperation(client *http.Client, endpoint string) fallbackDomain.Operation {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, apperrors.Permanent(apperrors.Wrap(err, "failed to build provider request"))
		}
		req.Header.Set("Content-Type", "application/json")
		if key, ok := fallbackDomain.IdempotencyKeyFromContext(ctx); ok {
			req.Header.Set(IdempotencyKeyHeader, key)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, apperrors.Transient(apperrors.Wrap(err, "provider unreachable"))
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, apperrors.Transient(apperrors.Wrap(err, "failed to read provider response"))
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}
		return nil, ClassifyResponse(resp.StatusCode, body)
	}
}

// ClassifyResponse turns a non-2xx response into a transient or permanent error.
func ClassifyResponse(status int, body []byte) error {
	err := fmt.Errorf("provider responded %d: %s", status, truncate(body, 256))
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return apperrors.Transient(err)
	default:
		return apperrors.Permanent(err)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
