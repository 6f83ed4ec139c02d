package rest

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/smilemakc/flowforge/pkg/models"
)

// SignatureHeader is the conventional header carrying the webhook HMAC.
const SignatureHeader = "X-Webhook-Signature"

// handleWebhook is the signal ingress: POST /:connector/webhook?trigger_id=…
// The raw body is verified against every matching subscription before any
// state is written; the response is a receipt with the matched count.
func (s *Server) handleWebhook(c *gin.Context) {
	connector := c.Param("connector")
	triggerID := c.Query("trigger_id")
	if triggerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trigger_id query parameter is required"})
		return
	}

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	matched, err := s.signals.IngestWebhook(
		c.Request.Context(),
		connector,
		triggerID,
		rawBody,
		c.GetHeader(SignatureHeader),
	)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"matched_subscriptions": matched,
		"message":               "signal accepted",
	})
}

// CreateSubscriptionRequest declares a webhook subscription.
type CreateSubscriptionRequest struct {
	ConnectorSlug string            `json:"connector_slug" validate:"required"`
	TriggerID     string            `json:"trigger_id" validate:"required"`
	Secret        string            `json:"secret" validate:"required,min=8"`
	Algorithm     string            `json:"algorithm"`
	SignalType    string            `json:"signal_type" validate:"required"`
	Mapping       map[string]string `json:"mapping"`
	ExecutionID   string            `json:"execution_id"`
}

// UpdateSubscriptionRequest mutates a subscription.
type UpdateSubscriptionRequest struct {
	Secret     string            `json:"secret"`
	Algorithm  string            `json:"algorithm"`
	SignalType string            `json:"signal_type"`
	Mapping    map[string]string `json:"mapping"`
	Active     *bool             `json:"active"`
}

func (s *Server) handleCreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub := &models.WebhookSubscription{
		ID:            uuid.New().String(),
		ConnectorSlug: req.ConnectorSlug,
		TriggerID:     req.TriggerID,
		Secret:        req.Secret,
		Algorithm:     req.Algorithm,
		SignalType:    req.SignalType,
		Mapping:       req.Mapping,
		ExecutionID:   req.ExecutionID,
		Active:        true,
		CreatedAt:     time.Now(),
	}
	if err := s.store.Subscriptions().Create(c.Request.Context(), sub); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) handleGetSubscription(c *gin.Context) {
	sub, err := s.store.Subscriptions().Get(c.Request.Context(), c.Param("subscription_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleUpdateSubscription(c *gin.Context) {
	var req UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	sub, err := s.store.Subscriptions().Get(c.Request.Context(), c.Param("subscription_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Secret != "" {
		sub.Secret = req.Secret
	}
	if req.Algorithm != "" {
		sub.Algorithm = req.Algorithm
	}
	if req.SignalType != "" {
		sub.SignalType = req.SignalType
	}
	if req.Mapping != nil {
		sub.Mapping = req.Mapping
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}

	if err := s.store.Subscriptions().Update(c.Request.Context(), sub); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleDeleteSubscription(c *gin.Context) {
	if err := s.store.Subscriptions().Delete(c.Request.Context(), c.Param("subscription_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
