package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "agentproxy:query:"

	// maxTxAttempts bounds optimistic retries when a watched key changes
	// between read and write.
	maxTxAttempts = 3
)

// NewRedis connects to the server at url (redis://...) and verifies it answers.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps records as JSON values, so several agentproxy processes
// can share previews. A zero ttl keeps records forever.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func recordKey(id string) string {
	return keyPrefix + id
}

func (s *RedisStore) Insert(ctx context.Context, rec domain.QueryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding query record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, recordKey(rec.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("storing query record: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, rec.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.QueryRecord, error) {
	return s.read(ctx, s.client, id)
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status domain.RecordStatus, rowsAffected int64) (domain.QueryRecord, error) {
	key := recordKey(id)
	var updated domain.QueryRecord

	txf := func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := applyStatus(&rec, status, rowsAffected, s.now()); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding query record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		updated = rec
		return nil
	}

	for range maxTxAttempts {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.QueryRecord{}, err
		}
		return updated, nil
	}
	return domain.QueryRecord{}, fmt.Errorf("updating query %s: %w", id, redis.TxFailedErr)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c getter, id string) (domain.QueryRecord, error) {
	data, err := c.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.QueryRecord{}, fmt.Errorf("query %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.QueryRecord{}, fmt.Errorf("loading query record: %w", err)
	}
	var rec domain.QueryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.QueryRecord{}, fmt.Errorf("decoding query record: %w", err)
	}
	return rec, nil
}
