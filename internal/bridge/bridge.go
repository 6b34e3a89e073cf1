// Package bridge turns a stored job into a running execution on the external
// workflow engine: it resolves the entry flow, publishes the job's parameters
// as engine variables, replaces the concurrency limit for the job's tag,
// creates a deployment and triggers the first run, then records the handles
// back onto the job row.
package bridge

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/apperr"
	"github.com/dataops-hub/flowbridge/internal/db"
	"github.com/dataops-hub/flowbridge/internal/engine"
	"github.com/dataops-hub/flowbridge/internal/models"
)

var tagStrip = regexp.MustCompile(`[^a-z0-9-]`)

// ConcurrencyTag derives the engine-side concurrency tag from a job name:
// lowercase, spaces and underscores become hyphens, everything else outside
// [a-z0-9-] is stripped, prefixed "job-".
func ConcurrencyTag(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	return "job-" + tagStrip.ReplaceAllString(s, "")
}

var intervalFactors = map[string]int{
	"seconds": 1,
	"minutes": 60,
	"hours":   3600,
	"days":    86400,
}

// BuildSchedules translates a job's schedule descriptor into deployment
// schedule entries. Cron expressions pass through verbatim with the fixed
// timezone; interval values are converted to seconds. Anything non-positive
// or unparseable yields no schedule, leaving the job manual/run-once.
func BuildSchedules(job *models.Job, timezone string, now time.Time) []engine.DeploymentSchedule {
	if job.ScheduleType == "" || job.ScheduleType == models.ScheduleNone || job.ScheduleValue == "" {
		return []engine.DeploymentSchedule{}
	}
	switch job.ScheduleType {
	case models.ScheduleCron:
		return []engine.DeploymentSchedule{{
			Schedule: engine.CronSchedule{Cron: job.ScheduleValue, Timezone: timezone},
			Active:   true,
		}}
	case models.ScheduleInterval:
		n, err := strconv.Atoi(job.ScheduleValue)
		if err != nil {
			return []engine.DeploymentSchedule{}
		}
		seconds := n * intervalFactors[strings.ToLower(job.ScheduleUnit)]
		if seconds <= 0 {
			return []engine.DeploymentSchedule{}
		}
		return []engine.DeploymentSchedule{{
			Schedule: engine.IntervalSchedule{
				Interval:   seconds,
				AnchorDate: now.UTC().Format(time.RFC3339),
				Timezone:   timezone,
			},
			Active: true,
		}}
	}
	return []engine.DeploymentSchedule{}
}

type Config struct {
	FlowName    string
	WorkPool    string
	Entrypoint  string
	FlowPath    string
	Timezone    string
	SettleDelay time.Duration
}

type Bridge struct {
	DB     *gorm.DB
	Engine *engine.Client
	Cfg    Config
	// Sleep is injectable so the settling delay can be skipped in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func New(gdb *gorm.DB, client *engine.Client, cfg Config) *Bridge {
	return &Bridge{
		DB:     gdb,
		Engine: client,
		Cfg:    cfg,
		Sleep:  sleepCtx,
		Now:    time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type TriggerResult struct {
	JobID        uint   `json:"job_id"`
	FlowRunID    string `json:"flow_run_id"`
	DeploymentID string `json:"deployment_id"`
	Tag          string `json:"tag"`
	// Warning is set when the run is live on the engine but the handle write
	// back to the store failed. The run is an orphan until the next sync.
	Warning string `json:"warning,omitempty"`
}

// Trigger runs the provisioning sequence for one job. The steps are strictly
// ordered; the first unrecoverable failure halts the sequence and the error
// names the step that failed.
func (b *Bridge) Trigger(ctx context.Context, jobID uint) (*TriggerResult, error) {
	ctx, span := otel.Tracer("flowbridge/bridge").Start(ctx, "bridge.trigger")
	defer span.End()

	job, err := db.GetJob(b.DB, jobID)
	if err != nil {
		return nil, err
	}
	tasks, err := db.OrderedTaskPayload(b.DB, jobID)
	if err != nil {
		return nil, err
	}

	// Step 1: resolve the entry flow. The engine must be pre-provisioned
	// with it.
	flowID, err := b.Engine.FlowIDByName(ctx, b.Cfg.FlowName)
	if err != nil {
		return nil, err
	}

	// Step 2: publish the ordered task list and the concurrency bound as
	// named variables keyed by job id.
	if _, err := b.Engine.UpsertVariable(ctx, fmt.Sprintf("job_%d_tasks", jobID), tasks); err != nil {
		return nil, err
	}
	if _, err := b.Engine.UpsertVariable(ctx, fmt.Sprintf("job_%d_concurrent", jobID), job.Concurrent); err != nil {
		return nil, err
	}

	// Step 3: replace the concurrency limit for the job's tag.
	tag := ConcurrencyTag(job.Name)
	if err := b.Engine.SetConcurrencyLimit(ctx, tag, job.Concurrent); err != nil {
		return nil, err
	}

	// Step 4: create the deployment carrying the translated schedule.
	dep, err := b.Engine.CreateDeployment(ctx, engine.DeploymentRequest{
		Name:                   fmt.Sprintf("job_%d_deployment", jobID),
		FlowID:                 flowID,
		WorkPoolName:           b.Cfg.WorkPool,
		Entrypoint:             b.Cfg.Entrypoint,
		Path:                   b.Cfg.FlowPath,
		Tags:                   []string{"auto-deploy", fmt.Sprintf("job-%d", jobID), tag},
		ParameterOpenAPISchema: parameterSchema(),
		EnforceParameterSchema: false,
		Schedules:              BuildSchedules(job, b.Cfg.Timezone, b.Now()),
		Parameters:             map[string]any{"jobId": jobID},
	})
	if err != nil {
		return nil, err
	}
	if dep.ID == "" {
		return nil, apperr.New(apperr.ExternalEngine, "engine.create_deployment", "engine returned no deployment id")
	}

	// Step 5: the engine registers deployments asynchronously; wait before
	// the first trigger.
	if err := b.Sleep(ctx, b.Cfg.SettleDelay); err != nil {
		return nil, err
	}
	run, err := b.Engine.CreateFlowRun(ctx, dep.ID, map[string]any{"jobId": jobID}, nil)
	if err != nil {
		return nil, err
	}
	if run.ID == "" {
		return nil, apperr.New(apperr.ExternalEngine, "engine.create_flow_run", "engine returned no run id")
	}

	// Step 6: record the handles. Best effort only; the remote run cannot
	// be undone, so a failure here is a warning, not a rollback.
	result := &TriggerResult{
		JobID:        jobID,
		FlowRunID:    run.ID,
		DeploymentID: dep.ID,
		Tag:          tag,
	}
	if err := db.PersistRunHandles(b.DB, jobID, run.ID, dep.ID); err != nil {
		log.Printf("warning: job %d run %s is live but handle persistence failed: %v", jobID, run.ID, err)
		result.Warning = err.Error()
	}
	return result, nil
}

// parameterSchema describes the flow's expected parameters so the engine can
// render them; enforcement stays off.
func parameterSchema() map[string]any {
	return map[string]any{
		"title": "Parameters",
		"type":  "object",
		"properties": map[string]any{
			"jobId": map[string]any{"type": "integer"},
			"tasks": map[string]any{
				"type":  "array",
				"items": map[string]any{"$ref": "#/components/schemas/TaskDict"},
			},
			"concurrent": map[string]any{"type": "integer"},
		},
		"required": []string{"jobId", "tasks", "concurrent"},
		"components": map[string]any{
			"schemas": map[string]any{
				"TaskDict": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":           map[string]any{"type": "string"},
						"script_type":    map[string]any{"type": "string"},
						"script_content": map[string]any{"type": "string"},
					},
					"required": []string{"name", "script_type", "script_content"},
				},
			},
		},
	}
}
