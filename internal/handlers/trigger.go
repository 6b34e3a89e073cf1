package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/bridge"
	"github.com/dataops-hub/flowbridge/internal/db"
	"github.com/dataops-hub/flowbridge/internal/engine"
)

type TriggerHandler struct {
	DB     *gorm.DB
	Bridge *bridge.Bridge
	Engine *engine.Client
}

func NewTriggerHandler(gdb *gorm.DB, b *bridge.Bridge, client *engine.Client) *TriggerHandler {
	return &TriggerHandler{DB: gdb, Bridge: b, Engine: client}
}

// POST /jobs/:id/trigger
func (h *TriggerHandler) Trigger(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	res, err := h.Bridge.Trigger(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	body := gin.H{
		"message":       fmt.Sprintf("Job %d triggered successfully.", id),
		"deployment_id": res.DeploymentID,
		"flow_run_id":   res.FlowRunID,
	}
	if res.Warning != "" {
		body["warning"] = res.Warning
	}
	c.JSON(http.StatusOK, body)
}

// GET /flow-run-status/:id fetches the run's state from the engine and
// mirrors it onto whichever job owns the handle.
func (h *TriggerHandler) FlowRunStatus(c *gin.Context) {
	flowRunID := c.Param("id")
	run, err := h.Engine.FlowRun(c.Request.Context(), flowRunID)
	if err != nil {
		respondErr(c, err)
		return
	}
	status := run.StateTypeOrNested()
	if err := db.UpdateJobStatusByFlowRun(h.DB, flowRunID, status); err != nil {
		respondErr(c, err)
		return
	}
	body := gin.H{
		"id":     run.ID,
		"name":   run.Name,
		"status": status,
	}
	if run.State != nil {
		body["timestamp"] = run.State.Timestamp
	}
	c.JSON(http.StatusOK, body)
}
