package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/pubsub"

	apperrors "github.com/fieldops/resilience/internal/errors"
	fallbackDomain "github.com/fieldops/resilience/internal/fallback/domain"
)

// DraftArtifact is returned to the caller while the tax authority is unavailable. It
// is a provisional document; the stamped version replaces it once the queued job runs.
type DraftArtifact struct {
	Status         string          `json:"status"`
	DraftID        string          `json:"draft_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Document       json.RawMessage `json:"document,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TaxDraftFallback issues a draft artifact for the document in the payload.
func TaxDraftFallback(nowFn func() time.Time) fallbackDomain.Fallback {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		draft := DraftArtifact{
			Status:    "draft",
			DraftID:   uuid.Must(uuid.NewV7()).String(),
			CreatedAt: nowFn().UTC(),
		}
		draft.IdempotencyKey, _ = fallbackDomain.IdempotencyKeyFromContext(ctx)
		if json.Valid(payload) {
			draft.Document = payload
		}
		out, err := json.Marshal(draft)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to marshal draft artifact")
		}
		return out, nil
	}
}

// AlternateEndpointFallback sends the payload through a secondary channel of the same
// provider, for example a cash or transfer instruction instead of a card charge.
func AlternateEndpointFallback(client *http.Client, endpoint string) fallbackDomain.Fallback {
	op := HTTPOperation(client, endpoint)
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		return op(ctx, payload)
	}
}

// BackupChannelReceipt acknowledges a message handed to the backup channel.
type BackupChannelReceipt struct {
	Channel        string    `json:"channel"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// TopicFallback publishes the payload to a backup pub/sub channel. The idempotency key
// travels as metadata so the consumer can deduplicate against the primary channel.
func TopicFallback(topic *pubsub.Topic, nowFn func() time.Time) fallbackDomain.Fallback {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		key, _ := fallbackDomain.IdempotencyKeyFromContext(ctx)
		msg := &pubsub.Message{Body: payload, Metadata: map[string]string{}}
		if key != "" {
			msg.Metadata["idempotency_key"] = key
		}
		if err := topic.Send(ctx, msg); err != nil {
			return nil, apperrors.Wrap(err, "failed to publish to backup channel")
		}
		out, err := json.Marshal(BackupChannelReceipt{
			Channel:        "backup",
			IdempotencyKey: key,
			SentAt:         nowFn().UTC(),
		})
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to marshal backup receipt")
		}
		return out, nil
	}
}
