package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/fieldops/resilience/internal/errors"
	idempotencyDomain "github.com/fieldops/resilience/internal/idempotency/domain"
)

// maxWatchRetries bounds optimistic transaction retries under contention.
const maxWatchRetries = 5

// RedisStore keeps each record as a JSON string whose Redis TTL is the record TTL.
// Creation is SET NX; takeover, completion and release are WATCH/MULTI transactions.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	nowFn  func() time.Time
}

// NewRedisStore creates a Redis idempotency store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "idempotency:",
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

type redisRecord struct {
	Status        idempotencyDomain.Status `json:"status"`
	Result        []byte                   `json:"result,omitempty"`
	LockToken     string                   `json:"lock_token,omitempty"`
	LockExpiresAt *time.Time               `json:"lock_expires_at,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	ExpiresAt     time.Time                `json:"expires_at"`
}

func (r redisRecord) toDomain(key string) *idempotencyDomain.Record {
	return &idempotencyDomain.Record{
		Key:           key,
		Status:        r.Status,
		Result:        r.Result,
		LockToken:     r.LockToken,
		LockExpiresAt: r.LockExpiresAt,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}

func (s *RedisStore) Acquire(
	ctx context.Context,
	key, token string,
	lockTTL, ttl time.Duration,
) (*idempotencyDomain.Record, bool, error) {
	now := s.nowFn()
	lockExpiresAt := now.Add(lockTTL)
	fresh := redisRecord{
		Status:        idempotencyDomain.StatusInProgress,
		LockToken:     token,
		LockExpiresAt: &lockExpiresAt,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	data, err := json.Marshal(fresh)
	if err != nil {
		return nil, false, apperrors.Wrap(err, "failed to encode idempotency record")
	}

	redisKey := s.prefix + key
	created, err := s.client.SetNX(ctx, redisKey, data, ttl).Result()
	if err != nil {
		return nil, false, apperrors.Wrap(err, "failed to create idempotency record")
	}
	if created {
		return fresh.toDomain(key), true, nil
	}

	var (
		current  *idempotencyDomain.Record
		acquired bool
	)
	err = s.watch(ctx, redisKey, func(tx *redis.Tx) error {
		existing, err := getRedisRecord(ctx, tx, redisKey)
		if err != nil {
			return err
		}
		if existing == nil {
			// Expired between SET NX and WATCH; the next Acquire creates it.
			current = nil
			return nil
		}
		current = existing.toDomain(key)
		if !current.Acquirable(now) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, ttl)
			return nil
		})
		if err == nil {
			current = fresh.toDomain(key)
			acquired = true
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return current, acquired, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, token string, result []byte) error {
	return s.updateOwned(ctx, key, token, func(r *redisRecord) {
		r.Status = idempotencyDomain.StatusCompleted
		r.Result = result
		r.LockToken = ""
		r.LockExpiresAt = nil
	})
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	return s.updateOwned(ctx, key, token, func(r *redisRecord) {
		r.LockToken = ""
		r.LockExpiresAt = nil
	})
}

// updateOwned rewrites the record if token owns it, keeping its remaining TTL.
func (s *RedisStore) updateOwned(ctx context.Context, key, token string, mutate func(r *redisRecord)) error {
	redisKey := s.prefix + key
	return s.watch(ctx, redisKey, func(tx *redis.Tx) error {
		existing, err := getRedisRecord(ctx, tx, redisKey)
		if err != nil {
			return err
		}
		if existing == nil || existing.LockToken != token {
			return idempotencyDomain.ErrLockLost
		}
		mutate(existing)
		data, err := json.Marshal(existing)
		if err != nil {
			return apperrors.Wrap(err, "failed to encode idempotency record")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, redis.KeepTTL)
			return nil
		})
		return err
	})
}

func (s *RedisStore) watch(ctx context.Context, redisKey string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, fn, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, idempotencyDomain.ErrLockLost) {
			return apperrors.Wrap(err, "idempotency store transaction failed")
		}
		return err
	}
	return apperrors.Wrap(redis.TxFailedErr, "idempotency store contention")
}

func (s *RedisStore) Get(ctx context.Context, key string) (*idempotencyDomain.Record, error) {
	record, err := getRedisRecord(ctx, s.client, s.prefix+key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, idempotencyDomain.ErrRecordNotFound
	}
	return record.toDomain(key), nil
}

// DeleteExpired is a no-op: Redis expires keys itself.
func (s *RedisStore) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRedisRecord(ctx context.Context, c stringGetter, redisKey string) (*redisRecord, error) {
	data, err := c.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get idempotency record")
	}
	var record redisRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode idempotency record")
	}
	return &record, nil
}
