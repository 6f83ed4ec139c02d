// Package builtin provides the built-in activity handlers.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/smilemakc/flowforge/pkg/executor"
)

// HTTPRequestExecutor performs an HTTP call. Output always includes
// status_code, headers and the raw body; json carries the decoded body when
// the response parses. Non-2xx responses fail the node with the status code
// preserved in the output, and 4xx responses are additionally hinted
// permanent so the engine skips retry scheduling.
type HTTPRequestExecutor struct {
	*executor.BaseExecutor
	client *http.Client
}

// NewHTTPRequestExecutor creates the handler with its own client. The
// per-request deadline comes from the dispatcher context, not the client.
func NewHTTPRequestExecutor() *HTTPRequestExecutor {
	return &HTTPRequestExecutor{
		BaseExecutor: executor.NewBaseExecutor("http_request"),
		client:       &http.Client{Timeout: 0},
	}
}

// Execute performs the request described by config, falling back to input
// fields for url/headers/body the way the upstream platform does.
func (e *HTTPRequestExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	url := e.GetStringDefault(config, "url", "")
	if url == "" {
		if v, ok := input["url"].(string); ok {
			url = v
		}
	}
	if url == "" {
		return nil, fmt.Errorf("url is required for http_request node")
	}

	method := e.GetStringDefault(config, "method", http.MethodGet)

	var body io.Reader
	if raw := config["body"]; raw != nil {
		var data []byte
		switch v := raw.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			data = encoded
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if headers, err := e.GetMap(config, "headers"); err == nil {
		for key, value := range headers {
			if strVal, ok := value.(string); ok {
				req.Header.Set(key, strVal)
			}
		}
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	output := map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(respBody),
		"url":         url,
		"method":      method,
	}
	var decoded interface{}
	if json.Unmarshal(respBody, &decoded) == nil {
		output["json"] = decoded
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			output[executor.OutputPermanent] = true
		}
		return output, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return output, nil
}

// Validate checks the minimal request config.
func (e *HTTPRequestExecutor) Validate(config map[string]interface{}) error {
	if err := e.ValidateRequired(config, "url"); err != nil {
		return err
	}
	method := e.GetStringDefault(config, "method", http.MethodGet)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
		return nil
	default:
		return fmt.Errorf("unsupported method: %s", method)
	}
}
