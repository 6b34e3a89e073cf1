package engine

import (
	"encoding/json"
	"time"
)

// Terminal run states reported by the engine.
const (
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
	StateCancelled = "CANCELLED"
	StateCrashed   = "CRASHED"
)

// IsTerminalState reports whether a run in this state will never progress.
func IsTerminalState(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled, StateCrashed:
		return true
	}
	return false
}

type Flow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RunState struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
}

// FlowRun is one execution instance of a deployment. The engine reports the
// state both nested and flattened depending on the endpoint, so both are kept.
type FlowRun struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	FlowID            string    `json:"flow_id"`
	DeploymentID      string    `json:"deployment_id"`
	DeploymentName    string    `json:"deployment_name,omitempty"`
	WorkPoolName      string    `json:"work_pool_name,omitempty"`
	StateType         string    `json:"state_type"`
	StateName         string    `json:"state_name"`
	State             *RunState `json:"state,omitempty"`
	StartTime         string    `json:"start_time,omitempty"`
	EndTime           string    `json:"end_time,omitempty"`
	ExpectedStartTime string    `json:"expected_start_time,omitempty"`
	Created           string    `json:"created,omitempty"`
	TotalRunTime      float64   `json:"total_run_time,omitempty"`
}

// StateTypeOrNested prefers the flattened state type and falls back to the
// nested state object.
func (r *FlowRun) StateTypeOrNested() string {
	if r.StateType != "" {
		return r.StateType
	}
	if r.State != nil {
		return r.State.Type
	}
	return ""
}

type TaskRun struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	FlowRunID    string  `json:"flow_run_id"`
	StateType    string  `json:"state_type"`
	StateName    string  `json:"state_name"`
	StartTime    string  `json:"start_time,omitempty"`
	EndTime      string  `json:"end_time,omitempty"`
	TotalRunTime float64 `json:"total_run_time,omitempty"`
	TaskKey      string  `json:"task_key,omitempty"`
	DynamicKey   string  `json:"dynamic_key,omitempty"`
	Created      string  `json:"created,omitempty"`
}

type LogEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"` // logger name
	Level     int    `json:"level"`
	LevelName string `json:"level_name,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Created   string `json:"created,omitempty"`
	FlowRunID string `json:"flow_run_id"`
	TaskRunID string `json:"task_run_id,omitempty"`
}

// LevelLabel resolves the severity label, deriving it from the numeric level
// when the engine omits level_name.
func (l *LogEntry) LevelLabel() string {
	if l.LevelName != "" {
		return l.LevelName
	}
	switch {
	case l.Level >= 40:
		return "ERROR"
	case l.Level >= 30:
		return "WARNING"
	case l.Level >= 20:
		return "INFO"
	default:
		return "DEBUG"
	}
}

type Variable struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type Deployment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	FlowID       string `json:"flow_id"`
	WorkPoolName string `json:"work_pool_name,omitempty"`
}

// CronSchedule and IntervalSchedule are the two schedule shapes a deployment
// accepts; exactly one is set per entry.
type CronSchedule struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone"`
}

type IntervalSchedule struct {
	Interval   int    `json:"interval"` // seconds
	AnchorDate string `json:"anchor_date"`
	Timezone   string `json:"timezone"`
}

type DeploymentSchedule struct {
	Schedule any  `json:"schedule"`
	Active   bool `json:"active"`
}

type DeploymentRequest struct {
	Name                   string               `json:"name"`
	FlowID                 string               `json:"flow_id"`
	WorkPoolName           string               `json:"work_pool_name"`
	Entrypoint             string               `json:"entrypoint"`
	Path                   string               `json:"path"`
	Tags                   []string             `json:"tags"`
	ParameterOpenAPISchema map[string]any       `json:"parameter_openapi_schema,omitempty"`
	EnforceParameterSchema bool                 `json:"enforce_parameter_schema"`
	Schedules              []DeploymentSchedule `json:"schedules"`
	Parameters             map[string]any       `json:"parameters,omitempty"`
}

// ParseTime parses the engine's ISO-8601 timestamps.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
