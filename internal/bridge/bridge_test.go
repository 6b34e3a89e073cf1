package bridge

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

func TestConcurrencyTag(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Daily ETL Job", "job-daily-etl-job"},
		{"daily_etl_job", "job-daily-etl-job"},
		{"Job#1 (prod)", "job-job1-prod"},
		{"", "job-"},
	}
	for _, c := range cases {
		if got := ConcurrencyTag(c.in); got != c.want {
			t.Errorf("ConcurrencyTag(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBuildSchedules(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tz := "Asia/Ho_Chi_Minh"

	cron := &models.Job{ScheduleType: models.ScheduleCron, ScheduleValue: "0 2 * * *"}
	got := BuildSchedules(cron, tz, now)
	if len(got) != 1 {
		t.Fatalf("cron: got %d schedules, want 1", len(got))
	}
	cs, ok := got[0].Schedule.(engine.CronSchedule)
	if !ok {
		t.Fatalf("cron: schedule has type %T", got[0].Schedule)
	}
	if cs.Cron != "0 2 * * *" || cs.Timezone != tz {
		t.Errorf("cron: got %+v", cs)
	}

	interval := &models.Job{ScheduleType: models.ScheduleInterval, ScheduleValue: "5", ScheduleUnit: "minutes"}
	got = BuildSchedules(interval, tz, now)
	if len(got) != 1 {
		t.Fatalf("interval: got %d schedules, want 1", len(got))
	}
	is, ok := got[0].Schedule.(engine.IntervalSchedule)
	if !ok {
		t.Fatalf("interval: schedule has type %T", got[0].Schedule)
	}
	if is.Interval != 300 {
		t.Errorf("interval: got %d seconds, want 300", is.Interval)
	}
	if is.AnchorDate != now.Format(time.RFC3339) {
		t.Errorf("interval: anchor %q", is.AnchorDate)
	}

	for _, job := range []*models.Job{
		{ScheduleType: models.ScheduleInterval, ScheduleValue: "0", ScheduleUnit: "minutes"},
		{ScheduleType: models.ScheduleInterval, ScheduleValue: "-3", ScheduleUnit: "hours"},
		{ScheduleType: models.ScheduleInterval, ScheduleValue: "abc", ScheduleUnit: "days"},
		{ScheduleType: models.ScheduleInterval, ScheduleValue: "5", ScheduleUnit: "fortnights"},
		{ScheduleType: models.ScheduleNone, ScheduleValue: "5"},
		{},
	} {
		if got := BuildSchedules(job, tz, now); len(got) != 0 {
			t.Errorf("job %+v: got %d schedules, want none", job, len(got))
		}
	}
}

// fakeEngine serves just enough of the engine API for a full trigger sequence.
func fakeEngine(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /flows/filter", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "flows/filter")
		json.NewEncoder(w).Encode([]engine.Flow{{ID: "flow-1", Name: "entrypoint_dynamic_job"}})
	})
	mux.HandleFunc("POST /variables/filter", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "variables/filter")
		json.NewEncoder(w).Encode([]engine.Variable{})
	})
	mux.HandleFunc("POST /variables/", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "variables/create")
		json.NewEncoder(w).Encode(map[string]string{"id": "var-1"})
	})
	mux.HandleFunc("DELETE /concurrency_limits/tag/", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "limits/delete")
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("POST /concurrency_limits/", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "limits/create")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /deployments/", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "deployments/create")
		var req engine.DeploymentRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.FlowID != "flow-1" {
			t.Errorf("deployment created for flow %q, want flow-1", req.FlowID)
		}
		json.NewEncoder(w).Encode(engine.Deployment{ID: "dep-1", Name: req.Name})
	})
	mux.HandleFunc("POST /deployments/dep-1/create_flow_run", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "flow_run/create")
		json.NewEncoder(w).Encode(engine.FlowRun{ID: "run-1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
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

func TestTrigger(t *testing.T) {
	gdb := openTestDB(t)
	srv, calls := fakeEngine(t)

	job, err := db.CreateJobWithTasks(gdb, models.CreateJobRequest{
		Name:       "Nightly Report",
		Concurrent: 2,
		Tasks: []models.TaskSpec{
			{Name: "extract", ScriptType: "python", ScriptContent: "print('x')"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	b := New(gdb, engine.NewClient(srv.URL), Config{
		FlowName:    "entrypoint_dynamic_job",
		WorkPool:    "local-process-pool",
		Entrypoint:  "my_flows.py:multi_task_job_flow",
		FlowPath:    "/app",
		Timezone:    "Asia/Ho_Chi_Minh",
		SettleDelay: 5 * time.Second,
	})
	b.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	res, err := b.Trigger(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if res.FlowRunID != "run-1" || res.DeploymentID != "dep-1" {
		t.Errorf("got handles %q/%q, want run-1/dep-1", res.FlowRunID, res.DeploymentID)
	}
	if res.Tag != "job-nightly-report" {
		t.Errorf("got tag %q", res.Tag)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning: %s", res.Warning)
	}

	stored, err := db.GetJob(gdb, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if stored.Status != "running" || stored.FlowRunID != "run-1" || stored.DeploymentID != "dep-1" {
		t.Errorf("handles not persisted: %+v", stored)
	}

	// Step ordering: flow resolution, variables, limit, deployment, run.
	want := []string{
		"flows/filter",
		"variables/filter", "variables/create",
		"variables/filter", "variables/create",
		"limits/delete", "limits/create",
		"deployments/create",
		"flow_run/create",
	}
	if len(*calls) != len(want) {
		t.Fatalf("engine saw %v, want %v", *calls, want)
	}
	for i := range want {
		if (*calls)[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, (*calls)[i], want[i])
		}
	}
}

func TestTriggerMissingFlowHalts(t *testing.T) {
	gdb := openTestDB(t)
	mux := http.NewServeMux()
	var deployed bool
	mux.HandleFunc("POST /flows/filter", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]engine.Flow{})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		deployed = true
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	job, err := db.CreateJobWithTasks(gdb, models.CreateJobRequest{Name: "orphan", Concurrent: 1}, nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	b := New(gdb, engine.NewClient(srv.URL), Config{FlowName: "entrypoint_dynamic_job"})
	b.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	if _, err := b.Trigger(context.Background(), job.ID); err == nil {
		t.Fatal("expected error when the entry flow is missing")
	}
	if deployed {
		t.Error("sequence continued past flow resolution")
	}
	stored, _ := db.GetJob(gdb, job.ID)
	if stored.FlowRunID != "" {
		t.Errorf("run handle written despite failed trigger: %q", stored.FlowRunID)
	}
}
