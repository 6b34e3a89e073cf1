// Package logsync synchronizes run state and logs from the external engine:
// a polling live stream per client connection, and an idempotent bulk sync
// into durable storage.
package logsync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/db"
	"github.com/dataops-hub/flowbridge/internal/engine"
)

const (
	EventInfo  = "info"
	EventLog   = "log"
	EventError = "error"
)

// Event is one server-sent stream frame.
type Event struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type Streamer struct {
	DB           *gorm.DB
	Engine       *engine.Client
	MaxRetries   int
	RetryDelay   time.Duration
	PollInterval time.Duration
	Clock        Clock
}

func NewStreamer(gdb *gorm.DB, client *engine.Client, maxRetries int, retryDelay, pollInterval time.Duration) *Streamer {
	return &Streamer{
		DB:           gdb,
		Engine:       client,
		MaxRetries:   maxRetries,
		RetryDelay:   retryDelay,
		PollInterval: pollInterval,
		Clock:        NewClock(),
	}
}

// epoch start; the engine's ISO timestamps sort lexicographically, so plain
// string comparison is the newer-than check.
const streamEpoch = "1970-01-01T00:00:00.000000+00:00"

// Stream polls the engine for a job's run and emits one event per new log
// line until the run reaches a terminal state or ctx is cancelled (client
// disconnect). Triggering is asynchronous, so the run handle is resolved with
// a bounded retry before giving up with a terminal error event.
func (s *Streamer) Stream(ctx context.Context, jobID uint, emit func(Event) error) error {
	flowRunID, err := s.resolveRunHandle(ctx, jobID)
	if err != nil {
		return err
	}
	if flowRunID == "" {
		return emit(Event{
			Message: "Could not find a running flow for this job after multiple attempts.",
			Type:    EventError,
		})
	}
	if err := emit(Event{
		Message: fmt.Sprintf("Connected to log stream for flow run: %s", flowRunID),
		Type:    EventInfo,
	}); err != nil {
		return err
	}

	lastTimestamp := streamEpoch
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logs, err := s.Engine.FlowRunLogs(ctx, flowRunID)
		if err != nil {
			// Partial log visibility beats none; skip this poll's logs
			// and keep going on the state check.
			log.Printf("stream: log fetch for run %s failed: %v", flowRunID, err)
			logs = nil
		}
		fresh := logs[:0]
		for _, l := range logs {
			if l.Timestamp > lastTimestamp {
				fresh = append(fresh, l)
			}
		}
		sort.Slice(fresh, func(i, j int) bool { return fresh[i].Timestamp < fresh[j].Timestamp })
		for _, l := range fresh {
			if err := emit(Event{Message: l.Message, Type: EventLog}); err != nil {
				return err
			}
		}
		if len(fresh) > 0 {
			lastTimestamp = fresh[len(fresh)-1].Timestamp
		}

		run, err := s.Engine.FlowRun(ctx, flowRunID)
		if err != nil {
			return emit(Event{Message: fmt.Sprintf("Polling error: %v", err), Type: EventError})
		}
		state := run.StateTypeOrNested()
		if engine.IsTerminalState(state) {
			return emit(Event{Message: fmt.Sprintf("Flow finished with state: %s", state), Type: EventInfo})
		}
		if err := s.Clock.Sleep(ctx, s.PollInterval); err != nil {
			return err
		}
	}
}

func (s *Streamer) resolveRunHandle(ctx context.Context, jobID uint) (string, error) {
	for attempt := 0; attempt < s.MaxRetries; attempt++ {
		job, err := db.GetJob(s.DB, jobID)
		if err != nil {
			return "", err
		}
		if job.FlowRunID != "" {
			return job.FlowRunID, nil
		}
		if err := s.Clock.Sleep(ctx, s.RetryDelay); err != nil {
			return "", err
		}
	}
	return "", nil
}
