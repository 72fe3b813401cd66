package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"QFMBot/model"

	"github.com/go-redis/redis/v8"
)

const (
	trackingStateKey    = "tracking:%s:state" // String: TrackingSnapshot JSON
	trackingSessionsKey = "tracking:sessions" // Set: 正在检测的会话
	trackingTTL         = 6 * time.Hour
)

// TrackingCache 空闲检测状态的 Redis 快照，供管理接口读取
type TrackingCache struct {
	client *redis.Client
}

// NewTrackingCache 创建空闲检测缓存
func NewTrackingCache(client *redis.Client) *TrackingCache {
	return &TrackingCache{client: client}
}

// Publish 写入会话最新快照
func (c *TrackingCache) Publish(ctx context.Context, snap model.TrackingSnapshot) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal tracking snapshot: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(trackingStateKey, snap.SessionID), data, trackingTTL)
	pipe.SAdd(ctx, trackingSessionsKey, snap.SessionID)
	pipe.Expire(ctx, trackingSessionsKey, trackingTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Get 读取快照，不存在时返回 nil
func (c *TrackingCache) Get(ctx context.Context, sessionID string) (*model.TrackingSnapshot, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	data, err := c.client.Get(ctx, fmt.Sprintf(trackingStateKey, sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var snap model.TrackingSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tracking snapshot: %w", err)
	}
	return &snap, nil
}

// Remove 会话结束后删除快照
func (c *TrackingCache) Remove(ctx context.Context, sessionID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf(trackingStateKey, sessionID))
	pipe.SRem(ctx, trackingSessionsKey, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Sessions 列出有快照的会话
func (c *TrackingCache) Sessions(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}
	return c.client.SMembers(ctx, trackingSessionsKey).Result()
}
