package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/bridge"
	"github.com/dataops-hub/flowbridge/internal/db"
	"github.com/dataops-hub/flowbridge/internal/engine"
	"github.com/dataops-hub/flowbridge/internal/models"
)

type JobHandler struct {
	DB     *gorm.DB
	Engine *engine.Client
}

func NewJobHandler(gdb *gorm.DB, client *engine.Client) *JobHandler {
	return &JobHandler{DB: gdb, Engine: client}
}

// POST /jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req models.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Invalid input: "name" is a required field.`})
		return
	}
	tag := bridge.ConcurrencyTag(req.Name)
	job, err := db.CreateJobWithTasks(h.DB, req, func(job *models.Job) error {
		if h.Engine == nil {
			return nil
		}
		return h.Engine.SetConcurrencyLimit(c.Request.Context(), tag, job.Concurrent)
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":     "Job and its tasks created successfully!",
		"jobId":       job.ID,
		"jobName":     job.Name,
		"tasksLinked": len(req.Tasks),
		"engine": gin.H{
			"tag":              tag,
			"concurrencyLimit": job.Concurrent,
		},
	})
}

// GET /jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := db.GetJobsWithTasks(h.DB)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// GET /jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	job, err := db.GetJobWithTasks(h.DB, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// PUT /jobs/:id
func (h *JobHandler) UpdateJob(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req models.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	job, err := db.UpdateJob(h.DB, id, req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// DELETE /jobs/:id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := db.DeleteJob(h.DB, id); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /jobs/:id/logs
func (h *JobHandler) GetJobLogs(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	logs, err := db.GetJobLogs(h.DB, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GET /jobs/:id/tasks
func (h *JobHandler) GetJobTasks(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	tasks, err := db.GetTasksByJobID(h.DB, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// PUT /jobs/:id/tasks reconciles the job's task membership against a
// desired task-id set.
func (h *JobHandler) ReplaceJobTasks(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req struct {
		TaskIDs []uint `json:"task_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	res, err := db.ReplaceJobTasks(h.DB, id, req.TaskIDs)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": res.Added, "removed": res.Removed})
}
