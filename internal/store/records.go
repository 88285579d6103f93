package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scoring-service/internal/common"
)

// maxUpdateAttempts bounds how often Update re-runs after a concurrent write
// invalidated its WATCH.
const maxUpdateAttempts = 5

// Records is a key-value store of JSON documents in Redis with per-key TTL.
type Records struct {
	client *redis.Client
}

func NewRecords(client *redis.Client) *Records {
	return &Records{client: client}
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", op, key, common.ErrStoreUnavailable, err)
}

// Put stores data under key, expiring after ttl.
func (r *Records) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return unavailable("put", key, err)
	}
	return nil
}

// Get returns the stored document or common.ErrNotFound when absent or expired.
func (r *Records) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	return data, nil
}

// Update loads key, passes it to fn and writes the result back with the
// existing TTL kept. The write is rejected if key changed in between; fn is
// then re-run on the fresh value, up to maxUpdateAttempts times before
// common.ErrConflict. Errors returned by fn abort the update unchanged.
func (r *Records) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) ([]byte, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var out []byte
		var abort error
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				abort = fmt.Errorf("%s: %w", key, common.ErrNotFound)
				return abort
			}
			if err != nil {
				return err
			}
			next, err := fn(current)
			if err != nil {
				abort = err
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, redis.KeepTTL)
				return nil
			})
			out = next
			return err
		}, key)
		switch {
		case abort != nil:
			return nil, abort
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err != nil:
			return nil, unavailable("update", key, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("update %s: %w", key, common.ErrConflict)
}

func (r *Records) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return unavailable("delete", key, err)
	}
	return nil
}

// TTL reports the remaining lifetime of key.
func (r *Records) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", key, err)
	}
	if d == -2 {
		return 0, fmt.Errorf("%s: %w", key, common.ErrNotFound)
	}
	return d, nil
}

// putJSON encodes v and stores it under key.
func putJSON(ctx context.Context, r *Records, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.Put(ctx, key, data, ttl)
}

func getJSON[T any](ctx context.Context, r *Records, key string) (T, error) {
	var out T
	data, err := r.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

// updateJSON decodes key into a fresh T on every attempt, applies mutate and
// writes the result back.
func updateJSON[T any](ctx context.Context, r *Records, key string, mutate func(*T) error) (T, error) {
	var result T
	_, err := r.Update(ctx, key, func(current []byte) ([]byte, error) {
		var v T
		if err := json.Unmarshal(current, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if err := mutate(&v); err != nil {
			return nil, err
		}
		next, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		result = v
		return next, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
