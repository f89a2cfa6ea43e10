package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusTTL = 10 * time.Minute

// snapshot matches the JSON shape the API service reads back on polls.
type snapshot struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func (c *StatusCache) Set(ctx context.Context, jobID, userID, status string, progress int) error {
	data, err := json.Marshal(snapshot{UserID: userID, Status: status, Progress: progress})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "job:status:"+jobID, data, statusTTL).Err()
}
