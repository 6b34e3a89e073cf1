package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/dataops-hub/flowbridge/internal/logsync"
	"github.com/dataops-hub/flowbridge/internal/queue"
)

type StreamHandler struct {
	Streamer *logsync.Streamer
	Syncer   *logsync.Syncer
	RDB      *redis.Client
}

func NewStreamHandler(streamer *logsync.Streamer, syncer *logsync.Syncer, rdb *redis.Client) *StreamHandler {
	return &StreamHandler{Streamer: streamer, Syncer: syncer, RDB: rdb}
}

// GET /jobs/:id/stream serves server-sent events until the run finishes or
// the client hangs up.
func (h *StreamHandler) StreamLogs(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	emit := func(ev logsync.Event) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}
	// Headers are already out; stream errors surface as error events, not
	// status codes.
	if err := h.Streamer.Stream(c.Request.Context(), id, emit); err != nil {
		_ = emit(logsync.Event{Message: err.Error(), Type: logsync.EventError})
	}
}

// POST /jobs/:id/logs/sync runs a bulk sync, synchronous by default.
// ?async=1 hands the sync to the queue worker and returns immediately.
func (h *StreamHandler) SyncLogs(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if c.Query("async") == "1" {
		if h.RDB == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async sync requires the queue"})
			return
		}
		if err := queue.Enqueue(c.Request.Context(), h.RDB, id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Log sync queued.", "jobId": id})
		return
	}
	inserted, err := h.Syncer.SyncJobLogs(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Log sync completed.",
		"jobId":    id,
		"inserted": inserted,
	})
}
