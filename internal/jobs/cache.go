package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "job:"
)

// StatusCache はジョブ照会結果の書き込みスルーキャッシュです。
type StatusCache interface {
	Get(ctx context.Context, jobID string) (*JobView, error)
	Put(ctx context.Context, view *JobView) error
	Delete(ctx context.Context, jobID string) error
}

// RedisCache は JobView を Redis に JSON で保存します。
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache は RedisCache を作成します。
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get はキャッシュされた JobView を返します。存在しない場合は nil, nil を返します。
func (c *RedisCache) Get(ctx context.Context, jobID string) (*JobView, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := c.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var view JobView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Put は JobView を保存します。既存の値の方が新しい場合は上書きしません。
func (c *RedisCache) Put(ctx context.Context, view *JobView) error {
	if view == nil {
		return fmt.Errorf("view is nil")
	}
	key := jobKey(view.ID)
	payload, err := json.Marshal(view)
	if err != nil {
		return err
	}
	for {
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var current JobView
				if json.Unmarshal(data, &current) == nil && isNewer(&current, view) {
					return nil
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, c.ttl)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
}

// Delete はキャッシュを削除します。
func (c *RedisCache) Delete(ctx context.Context, jobID string) error {
	return c.rdb.Del(ctx, jobKey(jobID)).Err()
}

// isNewer は current が next より後の状態を表す場合に true を返します。
func isNewer(current, next *JobView) bool {
	if current.Status.IsTerminal() && !next.Status.IsTerminal() {
		return true
	}
	return current.UpdatedAt.After(next.UpdatedAt)
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
