package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/apperr"
	"github.com/dataops-hub/flowbridge/internal/models"
)

func GetJob(db *gorm.DB, id uint) (*models.Job, error) {
	var job models.Job
	if err := db.First(&job, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.NotFound, "db.get_job", "job %d not found", id)
		}
		return nil, err
	}
	return &job, nil
}

// CreateJobWithTasks inserts the job and, for each task in list order, upserts
// the task template by name (insert-or-keep; an existing task's script is
// never overwritten here) and links it at its position. The onCreated hook
// runs inside the same transaction, so an engine-side failure there rolls the
// whole creation back.
func CreateJobWithTasks(db *gorm.DB, req models.CreateJobRequest, onCreated func(job *models.Job) error) (*models.Job, error) {
	job := models.Job{
		Name:          req.Name,
		Concurrent:    req.Concurrent,
		ScheduleType:  req.Schedule.Type,
		ScheduleValue: req.Schedule.Value,
		ScheduleUnit:  req.Schedule.Unit,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		var existing models.Job
		if err := tx.Where("name = ?", req.Name).First(&existing).Error; err == nil {
			return apperr.Newf(apperr.Conflict, "db.create_job", "job with name %q already exists", req.Name)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(&job).Error; err != nil {
			return err
		}
		for i, spec := range req.Tasks {
			task, err := upsertTaskKeepExisting(tx, spec)
			if err != nil {
				return err
			}
			link := models.JobTask{
				JobID:          job.ID,
				TaskID:         task.ID,
				ExecutionOrder: i,
			}
			if len(spec.Parameters) > 0 {
				link.Parameters = string(spec.Parameters)
			}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		if onCreated != nil {
			return onCreated(&job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

type jobTaskRow struct {
	JobID          uint
	JobTaskID      uint
	TaskID         uint
	TaskName       string
	Status         string
	ExecutionOrder int
	ScriptType     string
}

// GetJobsWithTasks lists every job, newest first, with its ordered task links
// nested.
func GetJobsWithTasks(db *gorm.DB) ([]models.JobWithTasks, error) {
	var jobs []models.Job
	if err := db.Order("id DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	var rows []jobTaskRow
	err := db.Table("job_tasks AS jt").
		Select("jt.job_id, jt.id AS job_task_id, jt.task_id, t.name AS task_name, jt.status, jt.execution_order, t.script_type").
		Joins("JOIN tasks t ON t.id = jt.task_id").
		Order("jt.execution_order ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	byJob := make(map[uint][]models.JobTaskView, len(jobs))
	for _, r := range rows {
		byJob[r.JobID] = append(byJob[r.JobID], models.JobTaskView{
			JobTaskID:      r.JobTaskID,
			TaskID:         r.TaskID,
			TaskName:       r.TaskName,
			Status:         r.Status,
			ExecutionOrder: r.ExecutionOrder,
			ScriptType:     r.ScriptType,
		})
	}
	out := make([]models.JobWithTasks, 0, len(jobs))
	for _, j := range jobs {
		tasks := byJob[j.ID]
		if tasks == nil {
			tasks = []models.JobTaskView{}
		}
		out = append(out, models.JobWithTasks{Job: j, Tasks: tasks})
	}
	return out, nil
}

// GetJobWithTasks returns one job with its ordered task links nested.
func GetJobWithTasks(db *gorm.DB, id uint) (*models.JobWithTasks, error) {
	job, err := GetJob(db, id)
	if err != nil {
		return nil, err
	}
	var rows []jobTaskRow
	err = db.Table("job_tasks AS jt").
		Select("jt.job_id, jt.id AS job_task_id, jt.task_id, t.name AS task_name, jt.status, jt.execution_order, t.script_type").
		Joins("JOIN tasks t ON t.id = jt.task_id").
		Where("jt.job_id = ?", id).
		Order("jt.execution_order ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	tasks := make([]models.JobTaskView, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, models.JobTaskView{
			JobTaskID:      r.JobTaskID,
			TaskID:         r.TaskID,
			TaskName:       r.TaskName,
			Status:         r.Status,
			ExecutionOrder: r.ExecutionOrder,
			ScriptType:     r.ScriptType,
		})
	}
	return &models.JobWithTasks{Job: *job, Tasks: tasks}, nil
}

func UpdateJob(db *gorm.DB, id uint, req models.UpdateJobRequest) (*models.Job, error) {
	// Cron schedules carry no unit.
	unit := req.ScheduleUnit
	if req.ScheduleType == models.ScheduleCron {
		unit = ""
	}
	res := db.Model(&models.Job{}).Where("id = ?", id).Updates(map[string]any{
		"name":           req.Name,
		"concurrent":     req.Concurrent,
		"schedule_type":  req.ScheduleType,
		"schedule_value": req.ScheduleValue,
		"schedule_unit":  unit,
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Newf(apperr.NotFound, "db.update_job", "job %d not found", id)
	}
	return GetJob(db, id)
}

// DeleteJob removes the job's task links and then the job row inside one
// transaction, so no orphan links can survive.
func DeleteJob(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.First(&job, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.Newf(apperr.NotFound, "db.delete_job", "job %d not found", id)
			}
			return err
		}
		if err := tx.Where("job_id = ?", id).Delete(&models.JobTask{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Job{}, id).Error
	})
}

// PersistRunHandles writes the run and deployment handles back onto the job
// row and marks it running. This is the final provisioning step; failures
// here are surfaced as warnings, never rolled back, since the run is already
// live on the engine.
func PersistRunHandles(db *gorm.DB, jobID uint, flowRunID, deploymentID string) error {
	res := db.Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"status":        "running",
		"flow_run_id":   flowRunID,
		"deployment_id": deploymentID,
		"updated_at":    time.Now().UTC(),
	})
	if res.Error != nil {
		return apperr.Wrap(apperr.PersistenceWarning, "db.persist_run_handles", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.PersistenceWarning, "db.persist_run_handles", "job %d vanished before handle write", jobID)
	}
	return nil
}

// UpdateJobStatusByFlowRun mirrors the engine's reported state onto whichever
// job owns the run handle.
func UpdateJobStatusByFlowRun(db *gorm.DB, flowRunID, status string) error {
	return db.Model(&models.Job{}).Where("flow_run_id = ?", flowRunID).Updates(map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}).Error
}
