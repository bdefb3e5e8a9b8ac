package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mdagg:"

// Redis implements Cache on a Redis server. Sorted streams (candles) use a
// ZSET scored by bucket timestamp; everything else is a plain JSON string.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) AddSorted(ctx context.Context, key string, score int64, value interface{}, maxLen int, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	full := keyPrefix + key

	// Same-score members replace each other so an in-flight candle that
	// completes overwrites its earlier write for the bucket.
	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, full, fmt.Sprintf("%d", score), fmt.Sprintf("%d", score))
	pipe.ZAdd(ctx, full, redis.Z{Score: float64(score), Member: data})
	if maxLen > 0 {
		pipe.ZRemRangeByRank(ctx, full, 0, int64(-maxLen-1))
	}
	if ttl > 0 {
		pipe.Expire(ctx, full, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis zadd %s: %w", key, err)
	}
	return nil
}

func (r *Redis) LatestSorted(ctx context.Context, key string, limit int) ([][]byte, error) {
	vals, err := r.client.ZRange(ctx, keyPrefix+key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange %s: %w", key, err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
