package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/smilemakc/flowforge/pkg/models"
)

var validate = validator.New()

// CreateWorkflowRequest is the create payload.
type CreateWorkflowRequest struct {
	Name          string                 `json:"name" validate:"required,min=1,max=200"`
	Description   string                 `json:"description"`
	OwnerID       string                 `json:"owner_id"`
	Nodes         []*models.Node         `json:"nodes" validate:"required,min=1"`
	Edges         []*models.Edge         `json:"edges"`
	TriggerConfig map[string]interface{} `json:"trigger_config"`
	IsActive      *bool                  `json:"is_active"`
}

// UpdateWorkflowRequest is the update payload; updates create a new
// immutable version.
type UpdateWorkflowRequest struct {
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Nodes         []*models.Node         `json:"nodes" validate:"required,min=1"`
	Edges         []*models.Edge         `json:"edges"`
	TriggerConfig map[string]interface{} `json:"trigger_config"`
	IsActive      *bool                  `json:"is_active"`
}

func (s *Server) handleCreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := time.Now()
	workflow := &models.Workflow{
		ID:            uuid.New().String(),
		Name:          req.Name,
		Description:   req.Description,
		Version:       1,
		IsActive:      active,
		OwnerID:       req.OwnerID,
		Nodes:         req.Nodes,
		Edges:         req.Edges,
		TriggerConfig: req.TriggerConfig,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.engine.ValidateWorkflow(workflow); err != nil {
		respondError(c, err)
		return
	}
	if err := s.store.Workflows().Create(c.Request.Context(), workflow); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, workflow)
}

func (s *Server) handleListWorkflows(c *gin.Context) {
	workflows, err := s.store.Workflows().List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": workflows, "count": len(workflows)})
}

func (s *Server) handleGetWorkflow(c *gin.Context) {
	workflow, err := s.store.Workflows().FindByID(c.Request.Context(), c.Param("workflow_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflow)
}

func (s *Server) handleUpdateWorkflow(c *gin.Context) {
	var req UpdateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workflow, err := s.store.Workflows().FindByID(c.Request.Context(), c.Param("workflow_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if req.Name != "" {
		workflow.Name = req.Name
	}
	workflow.Description = req.Description
	workflow.Nodes = req.Nodes
	workflow.Edges = req.Edges
	if req.TriggerConfig != nil {
		workflow.TriggerConfig = req.TriggerConfig
	}
	if req.IsActive != nil {
		workflow.IsActive = *req.IsActive
	}
	workflow.Version++

	if err := s.engine.ValidateWorkflow(workflow); err != nil {
		respondError(c, err)
		return
	}
	if err := s.store.Workflows().Update(c.Request.Context(), workflow); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflow)
}

func (s *Server) handleDeleteWorkflow(c *gin.Context) {
	if err := s.store.Workflows().SoftDelete(c.Request.Context(), c.Param("workflow_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
