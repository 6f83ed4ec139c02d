package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/flowforge/pkg/models"
)

// CreateExecutionRequest carries the optional trigger payload.
type CreateExecutionRequest struct {
	TriggerData map[string]interface{} `json:"trigger_data"`
}

// TerminateRequest carries the optional termination reason.
type TerminateRequest struct {
	Reason string `json:"reason"`
}

// ReplayRequest optionally names the node to replay from.
type ReplayRequest struct {
	FromNodeID string `json:"from_node_id"`
}

// EmitSignalRequest delivers a signal to one execution.
type EmitSignalRequest struct {
	SignalType string                 `json:"signal_type" validate:"required"`
	SignalData map[string]interface{} `json:"signal_data"`
}

func (s *Server) handleCreateExecution(c *gin.Context) {
	var req CreateExecutionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	execution, err := s.engine.CreateExecution(c.Request.Context(), c.Param("workflow_id"), req.TriggerData)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, execution)
}

func (s *Server) handleListExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	executions, err := s.store.Executions().List(c.Request.Context(), c.Param("workflow_id"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions, "count": len(executions)})
}

func (s *Server) handleGetExecution(c *gin.Context) {
	execution, err := s.engine.GetExecution(c.Request.Context(), c.Param("execution_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (s *Server) handleExecutionLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	logs, err := s.store.Logs().ListByExecution(c.Request.Context(), c.Param("execution_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// handleExecutionTimeline renders the per-node attempt history in step
// order.
func (s *Server) handleExecutionTimeline(c *gin.Context) {
	execution, err := s.engine.GetExecution(c.Request.Context(), c.Param("execution_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	type timelineEntry struct {
		NodeID      string                  `json:"node_id"`
		Status      models.NodeResultStatus `json:"status"`
		Error       string                  `json:"error,omitempty"`
		DurationMs  int64                   `json:"duration_ms"`
		StartedAt   interface{}             `json:"started_at"`
		CompletedAt interface{}             `json:"completed_at,omitempty"`
	}

	timeline := make([]timelineEntry, 0)
	if execution.State != nil {
		for _, result := range execution.State.NodeHistory {
			entry := timelineEntry{
				NodeID:     result.NodeID,
				Status:     result.Status,
				Error:      result.Error,
				DurationMs: result.DurationMs,
				StartedAt:  result.StartedAt,
			}
			if result.CompletedAt != nil {
				entry.CompletedAt = result.CompletedAt
			}
			timeline = append(timeline, entry)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_id": execution.ID,
		"status":       execution.Status,
		"timeline":     timeline,
	})
}

func (s *Server) handleExecutionEvents(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event streaming is not enabled"})
		return
	}
	s.hub.Serve(c.Writer, c.Request, c.Param("execution_id"))
}

func (s *Server) handlePauseExecution(c *gin.Context) {
	if err := s.engine.Pause(c.Request.Context(), c.Param("execution_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.ExecutionStatusPaused)})
}

func (s *Server) handleResumeExecution(c *gin.Context) {
	if err := s.engine.Resume(c.Request.Context(), c.Param("execution_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.ExecutionStatusRunning)})
}

func (s *Server) handleTerminateExecution(c *gin.Context) {
	var req TerminateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	if err := s.engine.Terminate(c.Request.Context(), c.Param("execution_id"), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.ExecutionStatusTerminated)})
}

func (s *Server) handleReplayExecution(c *gin.Context) {
	var req ReplayRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	execution, err := s.engine.ReplayExecution(c.Request.Context(), c.Param("execution_id"), req.FromNodeID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, execution)
}

func (s *Server) handleEmitSignal(c *gin.Context) {
	var req EmitSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.ProcessSignal(c.Request.Context(), c.Param("execution_id"), req.SignalType, req.SignalData); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
