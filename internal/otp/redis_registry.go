package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry shares pending records between server instances. Records
// carry a native TTL up to their expiry, so Redis evicts them on its own.
type RedisRegistry struct {
	client *redis.Client
	now    func() time.Time
}

// maxTxRetries bounds optimistic-lock retries when another instance
// changes the same record between WATCH and EXEC.
const maxTxRetries = 10

// RedisOption customises a RedisRegistry.
type RedisOption func(*RedisRegistry)

// WithRedisClock sets the clock used to turn ExpiresAt into a key TTL. Pass
// the same clock the Manager uses.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisRegistry) { r.now = now }
}

func NewRedisRegistry(client *redis.Client, opts ...RedisOption) *RedisRegistry {
	r := &RedisRegistry{client: client, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Registry = (*RedisRegistry)(nil)

func (r *RedisRegistry) Get(ctx context.Context, phone string) (*Record, error) {
	data, err := r.client.Get(ctx, recordKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("redis get otp failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal otp failed: %w", err)
	}
	return &rec, nil
}

func (r *RedisRegistry) Put(ctx context.Context, rec Record) error {
	ttl := rec.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.Delete(ctx, rec.Phone)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal otp failed: %w", err)
	}
	if err := r.client.Set(ctx, recordKey(rec.Phone), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set otp failed: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Delete(ctx context.Context, phone string) error {
	if err := r.client.Del(ctx, recordKey(phone)).Err(); err != nil {
		return fmt.Errorf("redis delete otp failed: %w", err)
	}
	return nil
}

// IncrAttempts bumps the attempt counter inside a WATCH/MULTI transaction so
// wrong guesses sent to different instances are all counted. The key keeps
// its TTL.
func (r *RedisRegistry) IncrAttempts(ctx context.Context, phone string) (int, error) {
	key := recordKey(phone)

	for i := 0; i < maxTxRetries; i++ {
		var attempts int
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNoRecord
			}
			if err != nil {
				return fmt.Errorf("redis get otp failed: %w", err)
			}

			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("unmarshal otp failed: %w", err)
			}
			rec.Attempts++
			attempts = rec.Attempts

			updated, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal otp failed: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return attempts, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return 0, err
		}
	}
	return 0, fmt.Errorf("redis incr otp attempts failed: %w", redis.TxFailedErr)
}

// SweepExpired is a no-op: expired keys are already gone.
func (r *RedisRegistry) SweepExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func recordKey(phone string) string {
	return fmt.Sprintf("otp:%s", phone)
}
