package logsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/db"
	"github.com/dataops-hub/flowbridge/internal/engine"
	"github.com/dataops-hub/flowbridge/internal/models"
)

type fakeClock struct {
	sleeps int
	now    time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	return ctx.Err()
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func collectEvents(events *[]Event) func(Event) error {
	return func(ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func TestStreamGivesUpWithoutRunHandle(t *testing.T) {
	gdb := openTestDB(t)
	job, err := db.CreateJobWithTasks(gdb, models.CreateJobRequest{Name: "never-ran"}, nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	clock := &fakeClock{}
	s := NewStreamer(gdb, engine.NewClient("http://127.0.0.1:0"), 5, time.Second, time.Second)
	s.Clock = clock

	var events []Event
	if err := s.Stream(context.Background(), job.ID, collectEvents(&events)); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if clock.sleeps != 5 {
		t.Errorf("retried %d times, want 5", clock.sleeps)
	}
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want one terminal error", events)
	}
}

func TestStreamEmitsNewLogsUntilTerminal(t *testing.T) {
	gdb := openTestDB(t)
	job, err := db.CreateJobWithTasks(gdb, models.CreateJobRequest{Name: "live"}, nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := db.PersistRunHandles(gdb, job.ID, "run-1", "dep-1"); err != nil {
		t.Fatalf("persist handles: %v", err)
	}

	// First poll sees a running flow; second sees it completed with the same
	// log lines, which must not be re-emitted.
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /flow_runs/run-1/logs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]engine.LogEntry{
			{Message: "second", Timestamp: "2026-03-01T10:00:02.000000+00:00"},
			{Message: "first", Timestamp: "2026-03-01T10:00:01.000000+00:00"},
		})
	})
	mux.HandleFunc("GET /flow_runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		state := "RUNNING"
		if polls > 1 {
			state = engine.StateCompleted
		}
		json.NewEncoder(w).Encode(engine.FlowRun{ID: "run-1", StateType: state})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	clock := &fakeClock{}
	s := NewStreamer(gdb, engine.NewClient(srv.URL), 5, time.Second, time.Second)
	s.Clock = clock

	var events []Event
	if err := s.Stream(context.Background(), job.ID, collectEvents(&events)); err != nil {
		t.Fatalf("stream: %v", err)
	}
	// connect info, two logs in ascending order, final info.
	if len(events) != 4 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	if events[0].Type != EventInfo {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Message != "first" || events[2].Message != "second" {
		t.Errorf("log order: %q then %q", events[1].Message, events[2].Message)
	}
	if events[3].Type != EventInfo || events[3].Message != "Flow finished with state: COMPLETED" {
		t.Errorf("final event = %+v", events[3])
	}
	if clock.sleeps != 1 {
		t.Errorf("slept %d times, want 1", clock.sleeps)
	}
}

func TestStreamStateErrorIsTerminal(t *testing.T) {
	gdb := openTestDB(t)
	job, _ := db.CreateJobWithTasks(gdb, models.CreateJobRequest{Name: "broken"}, nil)
	db.PersistRunHandles(gdb, job.ID, "run-x", "dep-x")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /flow_runs/run-x/logs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]engine.LogEntry{})
	})
	mux.HandleFunc("GET /flow_runs/run-x", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewStreamer(gdb, engine.NewClient(srv.URL), 5, time.Second, time.Second)
	s.Clock = &fakeClock{}

	var events []Event
	if err := s.Stream(context.Background(), job.ID, collectEvents(&events)); err != nil {
		t.Fatalf("stream: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Errorf("last event = %+v, want error", last)
	}
}
