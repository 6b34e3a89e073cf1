package models

import "encoding/json"

// ScheduleSpec is the operator-supplied schedule descriptor.
type ScheduleSpec struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value,omitempty"`
	Unit  string `json:"unit,omitempty"`
}

// TaskSpec describes one task reference inside a job payload. Parameters are
// opaque structured data forwarded to the engine at run time.
type TaskSpec struct {
	Name          string          `json:"name"`
	ScriptType    string          `json:"script_type"`
	ScriptContent string          `json:"script_content"`
	Description   string          `json:"description,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
}

type CreateJobRequest struct {
	Name       string       `json:"name"`
	Concurrent int          `json:"concurrent"`
	Schedule   ScheduleSpec `json:"schedule"`
	Tasks      []TaskSpec   `json:"tasks"`
}

type UpdateJobRequest struct {
	Name          string `json:"name"`
	Concurrent    int    `json:"concurrent"`
	ScheduleType  string `json:"schedule_type"`
	ScheduleValue string `json:"schedule_value"`
	ScheduleUnit  string `json:"schedule_unit"`
}

// JobTaskView is the nested task entry returned when listing jobs.
type JobTaskView struct {
	JobTaskID      uint   `json:"job_task_id"`
	TaskID         uint   `json:"task_id"`
	TaskName       string `json:"task_name"`
	Status         string `json:"status,omitempty"`
	ExecutionOrder int    `json:"execution_order"`
	ScriptType     string `json:"script_type"`
}

type JobWithTasks struct {
	Job
	Tasks []JobTaskView `json:"tasks"`
}

// JobTaskDetail joins a link row with its underlying task template.
type JobTaskDetail struct {
	TaskTemplateID uint   `json:"task_template_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	ScriptType     string `json:"script_type"`
	ScriptContent  string `json:"script_content"`
	JobTaskID      uint   `json:"job_task_id"`
	ExecutionOrder int    `json:"execution_order"`
	TaskStatus     string `json:"task_status,omitempty"`
	Parameters     string `json:"parameters,omitempty"`
}
