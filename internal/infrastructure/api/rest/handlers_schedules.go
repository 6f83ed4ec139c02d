package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/flowforge/internal/application/schedule"
)

// CreateScheduleRequest carries the cron rule.
type CreateScheduleRequest struct {
	CronExpr string `json:"cron_expr" validate:"required"`
}

// UpdateScheduleRequest mutates the rule or active flag.
type UpdateScheduleRequest struct {
	CronExpr string `json:"cron_expr"`
	Active   *bool  `json:"active"`
}

func (s *Server) handleCreateSchedule(c *gin.Context) {
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.scheduler.CreateSchedule(c.Request.Context(), c.Param("workflow_id"), req.CronExpr)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleListSchedules(c *gin.Context) {
	schedules, err := s.store.Schedules().List(c.Request.Context(), c.Param("workflow_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules, "count": len(schedules)})
}

func (s *Server) handleGetSchedule(c *gin.Context) {
	found, err := s.store.Schedules().Get(c.Request.Context(), c.Param("schedule_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (s *Server) handleUpdateSchedule(c *gin.Context) {
	var req UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	existing, err := s.store.Schedules().Get(c.Request.Context(), c.Param("schedule_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if req.CronExpr != "" && req.CronExpr != existing.CronExpr {
		nextFire, err := schedule.NextFire(req.CronExpr, existing.NextFireAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		existing.CronExpr = req.CronExpr
		existing.NextFireAt = nextFire
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}

	if err := s.store.Schedules().Update(c.Request.Context(), existing); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, existing)
}

func (s *Server) handleDeleteSchedule(c *gin.Context) {
	if err := s.store.Schedules().Delete(c.Request.Context(), c.Param("schedule_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
