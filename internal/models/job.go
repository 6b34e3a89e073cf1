package models

import "time"

// Schedule kinds understood by the deployment builder.
const (
	ScheduleNone     = "none"
	ScheduleCron     = "cron"
	ScheduleInterval = "interval"
)

type Job struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"uniqueIndex;not null" json:"name"`
	Concurrent   int    `gorm:"default:1" json:"concurrent"`
	ScheduleType string `json:"schedule_type,omitempty"`
	// ScheduleValue is a cron expression for cron schedules or a numeric
	// count for interval schedules.
	ScheduleValue string    `json:"schedule_value,omitempty"`
	ScheduleUnit  string    `json:"schedule_unit,omitempty"`
	Status        string    `json:"status"` // mirror of the engine's last reported run state
	FlowRunID     string    `gorm:"index" json:"flow_run_id,omitempty"`
	DeploymentID  string    `json:"deployment_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
