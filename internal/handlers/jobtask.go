package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/db"
	"github.com/dataops-hub/flowbridge/internal/models"
)

type JobTaskHandler struct {
	DB *gorm.DB
}

func NewJobTaskHandler(gdb *gorm.DB) *JobTaskHandler {
	return &JobTaskHandler{DB: gdb}
}

// POST /job-tasks/:id where :id is the job. The task is upserted by name and
// appended after the job's current highest order.
func (h *JobTaskHandler) AddTaskToJob(c *gin.Context) {
	jobID, ok := paramID(c)
	if !ok {
		return
	}
	var spec models.TaskSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if spec.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task name is required"})
		return
	}
	link, err := db.AddTaskToJob(h.DB, jobID, spec)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"job_task_id":     link.ID,
		"job_id":          link.JobID,
		"task_id":         link.TaskID,
		"execution_order": link.ExecutionOrder,
	})
}

// PUT /job-tasks/:id where :id is the job-task link. Edits the underlying task.
func (h *JobTaskHandler) UpdateJobTask(c *gin.Context) {
	linkID, ok := paramID(c)
	if !ok {
		return
	}
	var spec models.TaskSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	task, err := db.UpdateJobTask(h.DB, linkID, spec)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// DELETE /job-tasks/:id
func (h *JobTaskHandler) RemoveJobTask(c *gin.Context) {
	linkID, ok := paramID(c)
	if !ok {
		return
	}
	if err := db.RemoveJobTask(h.DB, linkID); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
