package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"docqa/internal/model"
)

// HistoryPage is the cached first page of a user's QA history.
type HistoryPage struct {
	Sessions []model.QASession `json:"sessions"`
	Total    int64             `json:"total"`
}

// HistoryCache stores the first history page per user and limit. A dirty
// marker set on every new session keeps readers on the database until
// in-flight writes have settled.
type HistoryCache struct {
	client         redisv9.UniversalClient
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewHistoryCache(client redisv9.UniversalClient, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *HistoryCache) GetHistory(ctx context.Context, userID uint, limit int) (*HistoryPage, bool, error) {
	raw, err := c.client.Get(ctx, c.historyKey(userID, limit)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var page HistoryPage
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return &page, true, nil
}

func (c *HistoryCache) SetHistory(ctx context.Context, userID uint, limit int, page *HistoryPage) error {
	payload, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.historyKey(userID, limit), payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

// Invalidate drops every cached page of the user and marks the history dirty.
func (c *HistoryCache) Invalidate(ctx context.Context, userID uint) error {
	pattern := fmt.Sprintf("qa:history:%d:*", userID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan history failed: %w", err)
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Set(ctx, c.dirtyKey(userID), "1", c.dirtyMarkerTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, userID uint) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *HistoryCache) historyKey(userID uint, limit int) string {
	return fmt.Sprintf("qa:history:%d:%d", userID, limit)
}

func (c *HistoryCache) dirtyKey(userID uint) string {
	return fmt.Sprintf("qa:history-dirty:%d", userID)
}
