package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const snapshotListKey = "riskcore:snapshots"

// RedisStore keeps snapshots in a Redis list, newest first
type RedisStore struct {
	client  redis.Cmdable
	timeout time.Duration
	logger  zerolog.Logger
}

func NewRedisStore(client redis.Cmdable, timeout time.Duration, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "persistence").Str("store", "redis").Logger(),
	}
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot record: %w", err)
	}
	if err := s.client.LPush(ctx, snapshotListKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	s.logger.Debug().Str("snapshot_id", rec.ID).Msg("snapshot stored")
	return nil
}

func (s *RedisStore) Latest(ctx context.Context) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := s.client.LIndex(ctx, snapshotListKey, 0).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest snapshot: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) History(ctx context.Context, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		return nil, nil
	}
	payloads, err := s.client.LRange(ctx, snapshotListKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot history: %w", err)
	}
	records := make([]Record, 0, len(payloads))
	for _, p := range payloads {
		var rec Record
		if err := json.Unmarshal([]byte(p), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisStore) Prune(ctx context.Context, keep int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if keep < 1 {
		keep = 1
	}
	total, err := s.client.LLen(ctx, snapshotListKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to size snapshot history: %w", err)
	}
	if total <= int64(keep) {
		return 0, nil
	}
	if err := s.client.LTrim(ctx, snapshotListKey, 0, int64(keep-1)).Err(); err != nil {
		return 0, fmt.Errorf("failed to prune snapshot history: %w", err)
	}
	removed := int(total) - keep
	s.logger.Info().Int("removed", removed).Int("kept", keep).Msg("snapshot history pruned")
	return removed, nil
}
