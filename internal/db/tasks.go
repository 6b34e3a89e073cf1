package db

import (
	"database/sql"
	"errors"

	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/apperr"
	"github.com/dataops-hub/flowbridge/internal/models"
	"github.com/dataops-hub/flowbridge/internal/reconcile"
)

// upsertTaskKeepExisting inserts the task if the name is new and otherwise
// returns the stored row untouched. Creating a job never silently overwrites
// another job's task script.
func upsertTaskKeepExisting(tx *gorm.DB, spec models.TaskSpec) (*models.Task, error) {
	var task models.Task
	err := tx.Where("name = ?", spec.Name).First(&task).Error
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	task = models.Task{
		Name:          spec.Name,
		ScriptType:    spec.ScriptType,
		ScriptContent: spec.ScriptContent,
		Description:   spec.Description,
	}
	if err := tx.Create(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTasksByJobID returns the job's task links joined with their templates,
// sorted by execution order.
func GetTasksByJobID(db *gorm.DB, jobID uint) ([]models.JobTaskDetail, error) {
	var rows []models.JobTaskDetail
	err := db.Table("job_tasks AS jt").
		Select("t.id AS task_template_id, t.name, t.description, t.script_type, t.script_content, jt.id AS job_task_id, jt.execution_order, jt.status AS task_status, jt.parameters").
		Joins("JOIN tasks t ON t.id = jt.task_id").
		Where("jt.job_id = ?", jobID).
		Order("jt.execution_order ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if _, err := GetJob(db, jobID); err != nil {
			return nil, err
		}
		rows = []models.JobTaskDetail{}
	}
	return rows, nil
}

func nextExecutionOrder(tx *gorm.DB, jobID uint) (int, error) {
	var max sql.NullInt64
	err := tx.Model(&models.JobTask{}).
		Where("job_id = ?", jobID).
		Select("MAX(execution_order)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// AddTaskToJob upserts the task by name, overwriting its script (the
// operator is explicitly editing it here, unlike job creation), and appends
// the link after the job's current highest order.
func AddTaskToJob(db *gorm.DB, jobID uint, spec models.TaskSpec) (*models.JobTask, error) {
	var link models.JobTask
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := GetJob(tx, jobID); err != nil {
			return err
		}
		var task models.Task
		err := tx.Where("name = ?", spec.Name).First(&task).Error
		switch {
		case err == nil:
			task.ScriptType = spec.ScriptType
			task.ScriptContent = spec.ScriptContent
			if spec.Description != "" {
				task.Description = spec.Description
			}
			if err := tx.Save(&task).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			task = models.Task{
				Name:          spec.Name,
				ScriptType:    spec.ScriptType,
				ScriptContent: spec.ScriptContent,
				Description:   spec.Description,
			}
			if err := tx.Create(&task).Error; err != nil {
				return err
			}
		default:
			return err
		}
		order, err := nextExecutionOrder(tx, jobID)
		if err != nil {
			return err
		}
		link = models.JobTask{JobID: jobID, TaskID: task.ID, ExecutionOrder: order}
		if len(spec.Parameters) > 0 {
			link.Parameters = string(spec.Parameters)
		}
		return tx.Create(&link).Error
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// UpdateJobTask edits the task template behind a job-task link.
func UpdateJobTask(db *gorm.DB, jobTaskID uint, spec models.TaskSpec) (*models.Task, error) {
	var link models.JobTask
	if err := db.First(&link, jobTaskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.NotFound, "db.update_job_task", "job-task link %d not found", jobTaskID)
		}
		return nil, err
	}
	var task models.Task
	if err := db.First(&task, link.TaskID).Error; err != nil {
		return nil, err
	}
	task.Name = spec.Name
	task.ScriptType = spec.ScriptType
	task.ScriptContent = spec.ScriptContent
	task.Description = spec.Description
	if err := db.Save(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func RemoveJobTask(db *gorm.DB, jobTaskID uint) error {
	res := db.Delete(&models.JobTask{}, jobTaskID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.NotFound, "db.remove_job_task", "job-task link %d not found", jobTaskID)
	}
	return nil
}

// ReplaceJobTasks reconciles the job's task membership against the desired
// task-id set. Added tasks are appended after the current highest order;
// removing a task drops every link it holds in this job.
func ReplaceJobTasks(db *gorm.DB, jobID uint, desired []uint) (reconcile.Result[uint], error) {
	if _, err := GetJob(db, jobID); err != nil {
		return reconcile.Result[uint]{}, err
	}
	var current []uint
	err := db.Model(&models.JobTask{}).
		Where("job_id = ?", jobID).
		Distinct().
		Pluck("task_id", &current).Error
	if err != nil {
		return reconcile.Result[uint]{}, err
	}
	order, err := nextExecutionOrder(db, jobID)
	if err != nil {
		return reconcile.Result[uint]{}, err
	}
	return reconcile.Apply(db, desired, current,
		func(tx *gorm.DB, taskID uint) error {
			var task models.Task
			if err := tx.First(&task, taskID).Error; err != nil {
				return err
			}
			link := models.JobTask{JobID: jobID, TaskID: taskID, ExecutionOrder: order}
			order++
			return tx.Create(&link).Error
		},
		func(tx *gorm.DB, taskID uint) error {
			return tx.Where("job_id = ? AND task_id = ?", jobID, taskID).Delete(&models.JobTask{}).Error
		},
	)
}

// OrderedTaskPayload returns the job's tasks in execution order in the shape
// the engine's flow expects as its task-list variable.
func OrderedTaskPayload(db *gorm.DB, jobID uint) ([]map[string]string, error) {
	details, err := GetTasksByJobID(db, jobID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]string, 0, len(details))
	for _, d := range details {
		payload = append(payload, map[string]string{
			"name":           d.Name,
			"script_type":    d.ScriptType,
			"script_content": d.ScriptContent,
		})
	}
	return payload, nil
}
