package builtin

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smilemakc/flowforge/pkg/executor"
)

// ChatClient is the slice of the OpenAI-compatible client the agent handler
// needs. Satisfied by *openai.Client.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AgentExecutor runs a single LLM completion over an OpenAI-compatible API.
// Prompt templates interpolate blackboard values via {{key}} placeholders.
type AgentExecutor struct {
	*executor.BaseExecutor
	client       ChatClient
	defaultModel string
}

// NewAgentExecutor creates an agent handler.
func NewAgentExecutor(client ChatClient, defaultModel string) *AgentExecutor {
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	return &AgentExecutor{
		BaseExecutor: executor.NewBaseExecutor("agent"),
		client:       client,
		defaultModel: defaultModel,
	}
}

// Execute sends the interpolated prompt and returns the completion text
// together with token usage.
func (e *AgentExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	if e.client == nil {
		return nil, fmt.Errorf("agent node requires a configured LLM client")
	}

	prompt, err := e.GetString(config, "prompt")
	if err != nil {
		return nil, err
	}
	prompt = interpolate(prompt, input)

	messages := []openai.ChatCompletionMessage{}
	if system := e.GetStringDefault(config, "system_prompt", ""); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: interpolate(system, input),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    e.GetStringDefault(config, "model", e.defaultModel),
		Messages: messages,
	}
	if maxTokens := e.GetIntDefault(config, "max_tokens", 0); maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("agent completion returned no choices")
	}

	return map[string]interface{}{
		"response":          resp.Choices[0].Message.Content,
		"model":             resp.Model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}, nil
}

// Validate checks the agent node config.
func (e *AgentExecutor) Validate(config map[string]interface{}) error {
	return e.ValidateRequired(config, "prompt")
}

// interpolate replaces {{key}} placeholders with blackboard values.
func interpolate(template string, data map[string]interface{}) string {
	out := template
	for key, value := range data {
		placeholder := "{{" + key + "}}"
		if strings.Contains(out, placeholder) {
			out = strings.ReplaceAll(out, placeholder, fmt.Sprint(value))
		}
	}
	return out
}
