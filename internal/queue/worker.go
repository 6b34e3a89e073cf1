// Package queue runs background log syncs off a Redis list, so the HTTP
// surface can hand heavy sync work over instead of blocking the request.
package queue

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/dataops-hub/flowbridge/internal/logsync"
	"github.com/dataops-hub/flowbridge/utils"
)

const SyncQueueKey = "flowbridge:syncs"

type SyncRequest struct {
	JobID uint `json:"job_id"`
}

func NewRedisClient(cfg *utils.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// Enqueue schedules a background log sync for the job.
func Enqueue(ctx context.Context, rdb *redis.Client, jobID uint) error {
	payload, err := json.Marshal(SyncRequest{JobID: jobID})
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, SyncQueueKey, payload).Err()
}

// StartSyncWorker blocks on the sync queue and runs each requested bulk sync.
func StartSyncWorker(rdb *redis.Client, syncer *logsync.Syncer) {
	ctx := context.Background()
	for {
		res, err := rdb.BLPop(ctx, 0, SyncQueueKey).Result()
		if err != nil {
			log.Println("Redis error:", err)
			continue
		}
		if len(res) < 2 {
			continue
		}
		var req SyncRequest
		if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
			log.Println("Failed to unmarshal sync request:", err)
			continue
		}
		log.Printf("Dequeued log sync for job %d", req.JobID)
		go func(r SyncRequest) {
			inserted, err := syncer.SyncJobLogs(context.Background(), r.JobID)
			if err != nil {
				log.Printf("Background sync for job %d failed: %v", r.JobID, err)
				return
			}
			log.Printf("Background sync for job %d inserted %d rows", r.JobID, inserted)
		}(req)
	}
}
