package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/db"
	"github.com/dataops-hub/flowbridge/internal/engine"
	"github.com/dataops-hub/flowbridge/internal/logsync"
)

type RunsHandler struct {
	DB     *gorm.DB
	Engine *engine.Client
	Syncer *logsync.Syncer
}

func NewRunsHandler(gdb *gorm.DB, client *engine.Client, syncer *logsync.Syncer) *RunsHandler {
	return &RunsHandler{DB: gdb, Engine: client, Syncer: syncer}
}

const (
	defaultRunLimit = 100
	taskRunPageSize = 25
	taskRunMaxCap   = 200
)

// GET /deployments/:id/flow-runs?limit=&page=
func (h *RunsHandler) DeploymentFlowRuns(c *gin.Context) {
	deploymentID := c.Param("id")
	limit := queryInt(c, "limit", defaultRunLimit)
	page := queryInt(c, "page", 1)
	runs, err := h.Engine.FlowRunsByDeployment(c.Request.Context(), deploymentID, limit, (page-1)*limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deployment_id": deploymentID,
		"page":          page,
		"limit":         limit,
		"flow_runs":     runs,
	})
}

// GET /deployments/:id/task-runs?max=
func (h *RunsHandler) DeploymentTaskRuns(c *gin.Context) {
	deploymentID := c.Param("id")
	max := queryInt(c, "max", taskRunMaxCap)
	if max > taskRunMaxCap {
		max = taskRunMaxCap
	}
	runs, err := h.Engine.TaskRunsByDeployment(c.Request.Context(), deploymentID, max, taskRunPageSize)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deployment_id": deploymentID,
		"count":         len(runs),
		"task_runs":     runs,
	})
}

// POST /logs takes {"flow_run_ids": [...]} and fetches fresh log lines per run.
func (h *RunsHandler) LogsForRuns(c *gin.Context) {
	var req struct {
		FlowRunIDs []string `json:"flow_run_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.FlowRunIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "flow_run_ids is required"})
		return
	}
	logs := h.Syncer.LogsForRuns(c.Request.Context(), req.FlowRunIDs, true)
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// GET /jobs/:id/info returns the job's engine-side identity: run, flow,
// deployment and work pool, fanned out from the stored run handle.
func (h *RunsHandler) JobInfo(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	job, err := db.GetJob(h.DB, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if job.FlowRunID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("job %d has never been triggered", id)})
		return
	}
	ctx := c.Request.Context()
	run, err := h.Engine.FlowRun(ctx, job.FlowRunID)
	if err != nil {
		respondErr(c, err)
		return
	}
	info := gin.H{
		"job_id": job.ID,
		"status": job.Status,
		"flow_run": gin.H{
			"id":    run.ID,
			"name":  run.Name,
			"state": run.StateTypeOrNested(),
		},
	}
	if run.FlowID != "" {
		if flow, err := h.Engine.Flow(ctx, run.FlowID); err == nil {
			info["flow"] = flow
		} else {
			log.Printf("info: flow %s lookup failed: %v", run.FlowID, err)
		}
	}
	if run.DeploymentID != "" {
		if dep, err := h.Engine.DeploymentByID(ctx, run.DeploymentID); err == nil {
			info["deployment"] = dep
			if dep.WorkPoolName != "" {
				if pool, err := h.Engine.WorkPool(ctx, dep.WorkPoolName); err == nil {
					info["work_pool"] = pool
				}
			}
		} else {
			log.Printf("info: deployment %s lookup failed: %v", run.DeploymentID, err)
		}
	}
	c.JSON(http.StatusOK, info)
}

// GET /jobs/:id/variables returns the two engine variables provisioned per job.
func (h *RunsHandler) JobVariables(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if _, err := db.GetJob(h.DB, id); err != nil {
		respondErr(c, err)
		return
	}
	names := []string{
		fmt.Sprintf("job_%d_tasks", id),
		fmt.Sprintf("job_%d_concurrent", id),
	}
	vars, err := h.Engine.VariablesByNames(c.Request.Context(), names)
	if err != nil {
		respondErr(c, err)
		return
	}
	out := gin.H{}
	for _, v := range vars {
		var value any
		if err := json.Unmarshal(v.Value, &value); err != nil {
			value = string(v.Value)
		}
		out[v.Name] = value
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "variables": out})
}

// GET /jobs/:id/tasks/detail backs the dashboard: run history stats, task
// runs grouped per flow run, their logs and the job's engine-side settings.
func (h *RunsHandler) JobTasksDetail(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	job, err := db.GetJob(h.DB, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if job.DeploymentID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("job %d has no deployment yet", id)})
		return
	}
	ctx := c.Request.Context()
	flowRuns, err := h.Engine.FlowRunsByDeployment(ctx, job.DeploymentID, defaultRunLimit, 0)
	if err != nil {
		respondErr(c, err)
		return
	}
	taskRuns, err := h.Engine.TaskRunsByDeployment(ctx, job.DeploymentID, taskRunMaxCap, taskRunPageSize)
	if err != nil {
		respondErr(c, err)
		return
	}

	stateCounts := map[string]int{}
	runsPerDay := map[string]int{}
	runIDs := make([]string, 0, len(flowRuns))
	for _, r := range flowRuns {
		stateCounts[r.StateTypeOrNested()]++
		if len(r.Created) >= 10 {
			runsPerDay[r.Created[:10]]++
		}
		runIDs = append(runIDs, r.ID)
	}
	tasksByRun := map[string][]engine.TaskRun{}
	taskStateCounts := map[string]int{}
	for _, t := range taskRuns {
		tasksByRun[t.FlowRunID] = append(tasksByRun[t.FlowRunID], t)
		taskStateCounts[t.StateType]++
	}

	// Dashboard reads must stay repeatable, so no seen-set dedup here.
	logs := h.Syncer.LogsForRuns(ctx, runIDs, false)

	detail := gin.H{
		"job_id":            job.ID,
		"job_name":          job.Name,
		"status":            job.Status,
		"deployment_id":     job.DeploymentID,
		"flow_runs":         flowRuns,
		"state_counts":      stateCounts,
		"runs_per_day":      runsPerDay,
		"task_runs_by_run":  tasksByRun,
		"task_state_counts": taskStateCounts,
		"task_run_total":    len(taskRuns),
		"logs":              logs,
	}

	if dep, err := h.Engine.DeploymentByID(ctx, job.DeploymentID); err == nil && dep.WorkPoolName != "" {
		if pool, err := h.Engine.WorkPool(ctx, dep.WorkPoolName); err == nil {
			detail["work_pool"] = pool
		}
	}
	names := []string{
		fmt.Sprintf("job_%d_tasks", id),
		fmt.Sprintf("job_%d_concurrent", id),
	}
	if vars, err := h.Engine.VariablesByNames(ctx, names); err == nil {
		varsOut := gin.H{}
		for _, v := range vars {
			var value any
			if err := json.Unmarshal(v.Value, &value); err != nil {
				value = string(v.Value)
			}
			varsOut[v.Name] = value
		}
		detail["variables"] = varsOut
	}
	if params, err := db.OrderedTaskPayload(h.DB, id); err == nil {
		detail["parameters"] = gin.H{"jobId": fmt.Sprintf("%d", id), "tasks": params}
	}

	c.JSON(http.StatusOK, detail)
}
