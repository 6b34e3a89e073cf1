package models

// Task is a reusable named unit of executable script content. Jobs reference
// tasks by name; the first job to mention a name creates it.
type Task struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	Name          string `gorm:"uniqueIndex;not null" json:"name"`
	ScriptType    string `json:"script_type"`
	ScriptContent string `gorm:"type:text" json:"script_content"`
	Description   string `json:"description,omitempty"`
}

// JobTask binds a task into a job at a fixed execution order. The same task
// may appear in one job at several orders. Orders are assigned server-side
// and may have gaps after deletions; they are only used for sorting.
type JobTask struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	JobID          uint   `gorm:"index;not null" json:"job_id"`
	TaskID         uint   `gorm:"index;not null" json:"task_id"`
	ExecutionOrder int    `json:"execution_order"`
	Parameters     string `gorm:"type:text" json:"parameters,omitempty"` // opaque JSON passed to the engine
	Status         string `json:"status,omitempty"`
}
