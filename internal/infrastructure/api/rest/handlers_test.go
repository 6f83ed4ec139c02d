package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowforge/internal/application/engine"
	"github.com/smilemakc/flowforge/internal/application/observer"
	"github.com/smilemakc/flowforge/internal/application/schedule"
	signallayer "github.com/smilemakc/flowforge/internal/application/signal"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
	"github.com/smilemakc/flowforge/internal/infrastructure/storage"
	"github.com/smilemakc/flowforge/internal/infrastructure/websocket"
	"github.com/smilemakc/flowforge/pkg/credentials"
	"github.com/smilemakc/flowforge/pkg/executor"
	"github.com/smilemakc/flowforge/pkg/executor/builtin"
	"github.com/smilemakc/flowforge/pkg/models"
)

type apiEnv struct {
	store  *storage.MemoryStore
	engine *engine.Manager
	server *httptest.Server
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	registry := executor.NewRegistry()
	dispatcher := executor.NewDispatcher(registry, 10*time.Second)
	observers := observer.NewManager()
	eng := engine.NewManager(store, dispatcher, engine.DefaultRetryManager(), observers, logger.Nop(), engine.Config{})
	require.NoError(t, builtin.Register(registry, builtin.Deps{
		Credentials: &credentials.StaticProvider{},
		SubWorkflow: eng,
	}))

	signals := signallayer.NewService(store, observers, logger.Nop(), signallayer.Config{})
	scheduler := schedule.NewScheduler(store, eng, observers, logger.Nop())
	hub := websocket.NewHub(logger.Nop())

	apiServer := NewServer(store, eng, scheduler, signals, hub, logger.Nop(), Config{})
	ts := httptest.NewServer(apiServer.Router())
	t.Cleanup(ts.Close)

	return &apiEnv{store: store, engine: eng, server: ts}
}

func (e *apiEnv) request(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func validWorkflowPayload() map[string]interface{} {
	return map[string]interface{}{
		"name": "api-test",
		"nodes": []map[string]interface{}{
			{"id": "trigger", "type": "trigger", "config": map[string]interface{}{}},
		},
	}
}

func TestCreateAndGetWorkflow(t *testing.T) {
	env := newAPIEnv(t)

	resp, body := env.request(t, http.MethodPost, "/api/v1/workflows", validWorkflowPayload(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	workflowID, _ := body["id"].(string)
	require.NotEmpty(t, workflowID)
	assert.EqualValues(t, 1, body["version"])

	resp, body = env.request(t, http.MethodGet, "/api/v1/workflows/"+workflowID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "api-test", body["name"])
}

func TestCreateWorkflowRejectsBadGraph(t *testing.T) {
	env := newAPIEnv(t)

	payload := validWorkflowPayload()
	payload["nodes"] = []map[string]interface{}{
		{"id": "x", "type": "teleport", "config": map[string]interface{}{}},
	}
	resp, _ := env.request(t, http.MethodPost, "/api/v1/workflows", payload, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	payload = validWorkflowPayload()
	payload["nodes"] = []map[string]interface{}{}
	resp, _ = env.request(t, http.MethodPost, "/api/v1/workflows", payload, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecutionLifecycleOverAPI(t *testing.T) {
	env := newAPIEnv(t)

	_, body := env.request(t, http.MethodPost, "/api/v1/workflows", validWorkflowPayload(), nil)
	workflowID := body["id"].(string)

	resp, body := env.request(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/executions",
		map[string]interface{}{"trigger_data": map[string]interface{}{"k": "v"}}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	executionID := body["id"].(string)
	assert.Equal(t, "running", body["status"])

	resp, _ = env.request(t, http.MethodPost, "/api/v1/executions/"+executionID+"/pause", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// pause from paused is an invalid transition
	resp, _ = env.request(t, http.MethodPost, "/api/v1/executions/"+executionID+"/pause", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/v1/executions/"+executionID+"/resume", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/v1/executions/"+executionID+"/terminate",
		map[string]interface{}{"reason": "user abort"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.request(t, http.MethodGet, "/api/v1/executions/"+executionID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "terminated", body["status"])
	assert.Equal(t, "user abort", body["error"])

	// terminating a terminal execution conflicts
	resp, _ = env.request(t, http.MethodPost, "/api/v1/executions/"+executionID+"/terminate", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.request(t, http.MethodGet, "/api/v1/executions/"+executionID+"/logs", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotZero(t, body["count"])
}

func TestWebhookIngress(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Subscriptions().Create(ctx, &models.WebhookSubscription{
		ID:            "sub-1",
		ConnectorSlug: "github",
		TriggerID:     "trig-1",
		Secret:        "hook-secret",
		SignalType:    "push",
		Mapping:       map[string]string{"ref": "ref"},
		Active:        true,
		CreatedAt:     time.Now(),
	}))

	payload := []byte(`{"ref": "refs/heads/main"}`)
	signature := signallayer.Sign("hook-secret", "sha256", payload)

	resp, body := env.request(t, http.MethodPost, "/github/webhook?trigger_id=trig-1", payload,
		map[string]string{SignatureHeader: signature})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.EqualValues(t, 1, body["matched_subscriptions"])

	stored, err := env.store.Signals().OldestUnrouted(ctx, "push")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "refs/heads/main", stored.SignalData["ref"])
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Subscriptions().Create(ctx, &models.WebhookSubscription{
		ID:            "sub-1",
		ConnectorSlug: "github",
		TriggerID:     "trig-1",
		Secret:        "hook-secret",
		SignalType:    "push",
		Active:        true,
		CreatedAt:     time.Now(),
	}))

	resp, _ := env.request(t, http.MethodPost, "/github/webhook?trigger_id=trig-1",
		[]byte(`{}`), map[string]string{SignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// no state was written
	stored, err := env.store.Signals().OldestUnrouted(ctx, "push")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestWebhookUnknownTriggerIs404(t *testing.T) {
	env := newAPIEnv(t)
	resp, _ := env.request(t, http.MethodPost, "/github/webhook?trigger_id=ghost", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScheduleCRUDOverAPI(t *testing.T) {
	env := newAPIEnv(t)

	_, body := env.request(t, http.MethodPost, "/api/v1/workflows", validWorkflowPayload(), nil)
	workflowID := body["id"].(string)

	resp, body := env.request(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/schedules",
		map[string]interface{}{"cron_expr": "*/10 * * * *"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	scheduleID := body["id"].(string)

	resp, _ = env.request(t, http.MethodPost, "/api/v1/workflows/"+workflowID+"/schedules",
		map[string]interface{}{"cron_expr": "whenever"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	active := false
	resp, body = env.request(t, http.MethodPut, "/api/v1/schedules/"+scheduleID,
		map[string]interface{}{"active": active}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["active"])

	resp, _ = env.request(t, http.MethodDelete, "/api/v1/schedules/"+scheduleID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	resp, body := env.request(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
