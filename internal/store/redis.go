package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const maxUpsertRetries = 5

// RedisConfig selects the server and key namespace of a RedisStore.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps one table in a Redis hash keyed by identity, plus a
// list preserving insertion order.
type RedisStore struct {
	client   *redis.Client
	hashKey  string
	orderKey string
}

// NewRedisClient connects using cfg.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisStore returns the table named table on client.
func NewRedisStore(client *redis.Client, keyPrefix, table string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "gateway:"
	}
	base := keyPrefix + table
	return &RedisStore{
		client:   client,
		hashKey:  base,
		orderKey: base + ":order",
	}
}

func (s *RedisStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	stored := rec.clone()
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored[IDField] = id
	}

	var result Record
	txf := func(tx *redis.Tx) error {
		merged := stored.clone()
		isNew := true

		raw, err := tx.HGet(ctx, s.hashKey, id).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			isNew = false
			var existing Record
			if err := json.Unmarshal([]byte(raw), &existing); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", id, err)
			}
			for k, v := range stored {
				existing[k] = v
			}
			merged = existing
		}

		encoded, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.hashKey, id, encoded)
			if isNew {
				pipe.RPush(ctx, s.orderKey, id)
			}
			return nil
		})
		if err == nil {
			result = merged
		}
		return err
	}

	for i := 0; i < maxUpsertRetries; i++ {
		err := s.client.Watch(ctx, txf, s.hashKey)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil, fmt.Errorf("failed to upsert record %s: too many concurrent writers", id)
}

func (s *RedisStore) Find(ctx context.Context, selector Selector, order *Order) ([]Record, error) {
	ids, err := s.client.LRange(ctx, s.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	results := make([]Record, 0)
	if len(ids) == 0 {
		return results, nil
	}

	values, err := s.client.HMGet(ctx, s.hashKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", ids[i], err)
		}
		if selector.Matches(rec) {
			results = append(results, rec)
		}
	}

	sortRecords(results, order)
	return results, nil
}

// Ping checks the connection to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Clear removes every record of the table.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.hashKey, s.orderKey).Err()
}
