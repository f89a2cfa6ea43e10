package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meetingScribe/api/database"
	"meetingScribe/api/models"
)

const (
	statusKeyPrefix = "job:status:"
	statusTTL       = 10 * time.Minute
)

// Snapshot is the cached projection of a job used to serve polling requests
// without hitting Postgres on every GET /status call. UserID rides along so
// ownership can be enforced on a cache hit; terminal jobs fall through to
// the database for the full projection.
type Snapshot struct {
	UserID   string           `json:"userId"`
	Status   models.JobStatus `json:"status"`
	Progress int              `json:"progress"`
}

type StatusCache struct {
	cache *database.Cache
}

func NewStatusCache(cache *database.Cache) *StatusCache {
	return &StatusCache{cache: cache}
}

func (sc *StatusCache) Get(ctx context.Context, jobID string) (*Snapshot, error) {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, jobID)

	data, err := sc.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, err
	}

	return &snap, nil
}

func (sc *StatusCache) Set(ctx context.Context, jobID, userID string, status models.JobStatus, progress int) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, jobID)

	data, err := json.Marshal(Snapshot{UserID: userID, Status: status, Progress: progress})
	if err != nil {
		return err
	}

	return sc.cache.Set(ctx, key, data, statusTTL)
}

func (sc *StatusCache) Delete(ctx context.Context, jobID string) error {
	key := fmt.Sprintf("%s%s", statusKeyPrefix, jobID)
	return sc.cache.Del(ctx, key)
}
