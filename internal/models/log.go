package models

import "time"

// JobTaskLog is one engine-reported log line persisted locally. Rows are
// append-only; the fingerprint makes re-ingestion idempotent.
type JobTaskLog struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	JobID        uint       `gorm:"index;not null" json:"job_id"`
	TaskRunID    string     `json:"task_run_id,omitempty"`
	FlowRunID    string     `gorm:"index" json:"flow_run_id,omitempty"`
	Logger       string     `json:"logger,omitempty"`
	LogLevel     string     `json:"log_level,omitempty"`
	Message      string     `gorm:"type:text" json:"log"`
	LogTimestamp *time.Time `json:"log_timestamp,omitempty"`
	LogID        string     `json:"log_id,omitempty"` // the engine's own log identifier
	// Fingerprint is md5(jobID|taskRunID|timestamp|message); the unique index
	// is what keeps bulk sync re-runnable without duplicate rows.
	Fingerprint string `gorm:"uniqueIndex;size:32;not null" json:"-"`
}
