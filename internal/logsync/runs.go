package logsync

import (
	"context"
	"log"
	"sync"
)

// LogLine is the compact shape returned by the bulk run-log endpoint.
type LogLine struct {
	Ts     string `json:"ts"`
	Logger string `json:"logger"`
	Level  string `json:"level"`
	Msg    string `json:"msg"`
}

const (
	runsLogPageSize = 25
	runsLogFetchCap = 200
)

// LogsForRuns fetches logs for a list of run handles with the bounded worker
// pool and groups them by run. With dedupe set, lines already seen within the
// TTL window are dropped so repeated calls do not replay old output.
// Individual run failures degrade to an empty list for that run.
func (s *Syncer) LogsForRuns(ctx context.Context, runIDs []string, dedupe bool) map[string][]LogLine {
	jobs := make(chan string)
	out := make(map[string][]LogLine, len(runIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < s.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for runID := range jobs {
				lines := s.fetchRunLines(ctx, runID, dedupe)
				mu.Lock()
				for _, r := range lines {
					out[r.runID] = append(out[r.runID], r.lines...)
				}
				mu.Unlock()
			}
		}()
	}
	for _, id := range runIDs {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
	return out
}

type groupedLines struct {
	runID string
	lines []LogLine
}

func (s *Syncer) fetchRunLines(ctx context.Context, runID string, dedupe bool) []groupedLines {
	run, err := s.Engine.FlowRun(ctx, runID)
	if err != nil {
		log.Printf("logs: run %s lookup failed: %v", runID, err)
		return nil
	}
	start, end, ok := runWindow(*run, windowAfterEnd)
	if !ok {
		return nil
	}
	entries, err := s.Engine.LogsForRun(ctx, runID, start, end, runsLogPageSize, runsLogFetchCap)
	if err != nil {
		log.Printf("logs: fetch for run %s failed: %v", runID, err)
		return nil
	}
	byRun := map[string][]LogLine{}
	for _, e := range entries {
		if dedupe && e.ID != "" {
			key := "logid:" + e.ID
			if seen, err := s.Seen.Seen(ctx, key); err == nil && seen {
				continue
			}
			if err := s.Seen.Mark(ctx, key); err != nil {
				log.Printf("logs: seen-store mark failed: %v", err)
			}
		}
		owner := e.FlowRunID
		if owner == "" {
			owner = runID
		}
		ts := e.Timestamp
		if ts == "" {
			ts = e.Created
		}
		byRun[owner] = append(byRun[owner], LogLine{
			Ts:     ts,
			Logger: e.Name,
			Level:  e.LevelLabel(),
			Msg:    e.Message,
		})
	}
	out := make([]groupedLines, 0, len(byRun))
	for id, lines := range byRun {
		out = append(out, groupedLines{runID: id, lines: lines})
	}
	return out
}
