package logsync

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/apperr"
	"github.com/dataops-hub/flowbridge/internal/cache"
	"github.com/dataops-hub/flowbridge/internal/db"
	"github.com/dataops-hub/flowbridge/internal/engine"
	"github.com/dataops-hub/flowbridge/internal/models"
)

const (
	logPageSize    = 100
	logFetchCap    = 1000
	runFetchLimit  = 100
	windowBefore   = 15 * time.Minute
	windowAfterEnd = 90 * time.Minute
	windowFallback = time.Hour
)

// Fingerprint is the content hash that makes log ingestion idempotent:
// md5 over job id, task-run handle, timestamp and message.
func Fingerprint(jobID uint, taskRunID, timestamp, message string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d|%s|%s|%s", jobID, taskRunID, timestamp, message)))
	return hex.EncodeToString(sum[:])
}

type Syncer struct {
	DB      *gorm.DB
	Engine  *engine.Client
	Seen    cache.SeenStore
	Workers int
}

func NewSyncer(gdb *gorm.DB, client *engine.Client, seen cache.SeenStore, workers int) *Syncer {
	if workers <= 0 {
		workers = 5
	}
	return &Syncer{DB: gdb, Engine: client, Seen: seen, Workers: workers}
}

type runLogs struct {
	RunID string
	Logs  []engine.LogEntry
}

// SyncJobLogs resolves the job's run and deployment, fetches logs for every
// run under that deployment with a bounded worker pool, and persists each
// entry guarded by its fingerprint. Re-running against an unchanged remote
// log set inserts nothing. Returns the number of rows actually written.
func (s *Syncer) SyncJobLogs(ctx context.Context, jobID uint) (int, error) {
	batch := uuid.NewString()
	job, err := db.GetJob(s.DB, jobID)
	if err != nil {
		return 0, err
	}
	if job.FlowRunID == "" {
		return 0, apperr.Newf(apperr.NotFound, "logsync.sync", "job %d has no active run", jobID)
	}
	initial, err := s.Engine.FlowRun(ctx, job.FlowRunID)
	if err != nil {
		return 0, err
	}
	var runs []engine.FlowRun
	if initial.DeploymentID != "" {
		runs, err = s.Engine.FlowRunsByDeployment(ctx, initial.DeploymentID, runFetchLimit, 0)
		if err != nil {
			return 0, err
		}
	} else {
		runs = []engine.FlowRun{*initial}
	}
	log.Printf("sync %s: job %d, %d runs to fetch", batch, jobID, len(runs))

	results := s.fetchAll(ctx, runs)

	inserted := 0
	for _, res := range results {
		for _, entry := range res.Logs {
			fp := Fingerprint(jobID, entry.TaskRunID, entry.Timestamp, entry.Message)
			seen, err := s.Seen.Seen(ctx, fp)
			if err != nil {
				// A broken cache only costs us a duplicate attempt; the
				// unique index still holds the line.
				log.Printf("sync %s: seen-store error: %v", batch, err)
			} else if seen {
				continue
			}
			flowRunID := entry.FlowRunID
			if flowRunID == "" {
				flowRunID = res.RunID
			}
			row := models.JobTaskLog{
				JobID:       jobID,
				TaskRunID:   entry.TaskRunID,
				FlowRunID:   flowRunID,
				Logger:      entry.Name,
				LogLevel:    entry.LevelLabel(),
				Message:     entry.Message,
				LogID:       entry.ID,
				Fingerprint: fp,
			}
			if ts, ok := engine.ParseTime(entry.Timestamp); ok {
				row.LogTimestamp = &ts
			}
			ok, err := db.InsertLogIfAbsent(s.DB, &row)
			if err != nil {
				return inserted, err
			}
			if ok {
				inserted++
			}
			// Marked only after the insert attempt succeeded; a failed
			// write stays retryable on the next sync.
			if err := s.Seen.Mark(ctx, fp); err != nil {
				log.Printf("sync %s: seen-store mark failed: %v", batch, err)
			}
		}
	}
	log.Printf("sync %s: job %d, %d new log rows", batch, jobID, inserted)
	return inserted, nil
}

// fetchAll maps one worker task per run over a bounded pool. A failed fetch
// degrades to an empty result for that run instead of aborting the sync.
func (s *Syncer) fetchAll(ctx context.Context, runs []engine.FlowRun) []runLogs {
	jobs := make(chan engine.FlowRun)
	results := make([]runLogs, 0, len(runs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < s.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for run := range jobs {
				logs := s.fetchRunLogs(ctx, run)
				mu.Lock()
				results = append(results, runLogs{RunID: run.ID, Logs: logs})
				mu.Unlock()
			}
		}()
	}
	for _, run := range runs {
		jobs <- run
	}
	close(jobs)
	wg.Wait()
	return results
}

func (s *Syncer) fetchRunLogs(ctx context.Context, run engine.FlowRun) []engine.LogEntry {
	start, end, ok := runWindow(run, windowFallback)
	if !ok {
		return nil
	}
	logs, err := s.Engine.LogsForRun(ctx, run.ID, start, end, logPageSize, logFetchCap)
	if err != nil {
		log.Printf("sync: log fetch for run %s failed: %v", run.ID, err)
		return nil
	}
	return logs
}

// runWindow brackets the run's lifetime: 15 minutes before its (expected)
// start through its end, or a fixed fallback beyond start when the run has
// not ended.
func runWindow(run engine.FlowRun, afterStart time.Duration) (start, end time.Time, ok bool) {
	if t, found := engine.ParseTime(run.StartTime); found {
		start = t
	} else if t, found := engine.ParseTime(run.ExpectedStartTime); found {
		start = t.Add(-windowBefore)
	} else {
		return time.Time{}, time.Time{}, false
	}
	if t, found := engine.ParseTime(run.EndTime); found {
		end = t.Add(windowAfterEnd)
	} else {
		end = start.Add(afterStart)
	}
	return start, end, true
}
