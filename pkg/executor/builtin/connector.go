package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/smilemakc/flowforge/pkg/credentials"
	"github.com/smilemakc/flowforge/pkg/executor"
)

// ConnectorExecutor resolves connector slug + action + credentials and
// invokes the action over HTTP with a bearer token. Credential refresh is
// the provider's responsibility, not the engine's.
type ConnectorExecutor struct {
	*executor.BaseExecutor
	provider credentials.Provider
	client   *http.Client
}

// NewConnectorExecutor creates a connector handler over the given credential
// provider.
func NewConnectorExecutor(provider credentials.Provider) *ConnectorExecutor {
	return &ConnectorExecutor{
		BaseExecutor: executor.NewBaseExecutor("connector"),
		provider:     provider,
		client:       &http.Client{},
	}
}

// Execute invokes config.action_url for config.connector with the resolved
// token. config.params (or the blackboard under "params") becomes the JSON
// body.
func (e *ConnectorExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	slug, err := e.GetString(config, "connector")
	if err != nil {
		return nil, err
	}
	actionURL, err := e.GetString(config, "action_url")
	if err != nil {
		return nil, err
	}
	userID := e.GetStringDefault(config, "user_id", "")

	bundle, err := e.provider.Get(ctx, slug, userID)
	if err != nil {
		return nil, fmt.Errorf("credential resolution failed for %s: %w", slug, err)
	}

	params, _ := config["params"].(map[string]interface{})
	if params == nil {
		params, _ = input["params"].(map[string]interface{})
	}
	var body io.Reader
	if params != nil {
		encoded, mErr := json.Marshal(params)
		if mErr != nil {
			return nil, fmt.Errorf("failed to marshal action params: %w", mErr)
		}
		body = bytes.NewReader(encoded)
	}

	method := e.GetStringDefault(config, "method", http.MethodPost)
	req, err := http.NewRequestWithContext(ctx, method, actionURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create action request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bundle.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connector action failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read action response: %w", err)
	}

	output := map[string]interface{}{
		"connector":   slug,
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}
	var decoded interface{}
	if json.Unmarshal(respBody, &decoded) == nil {
		output["json"] = decoded
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			output[executor.OutputPermanent] = true
		}
		return output, fmt.Errorf("connector %s returned HTTP %d", slug, resp.StatusCode)
	}
	return output, nil
}

// Validate checks the connector node config.
func (e *ConnectorExecutor) Validate(config map[string]interface{}) error {
	return e.ValidateRequired(config, "connector", "action_url")
}
