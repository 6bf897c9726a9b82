// Package groq implements triage.Provider for OpenAI-compatible chat
// completion APIs. Groq Cloud is the default endpoint; any service that
// speaks the same function-calling dialect works by changing the base URL.
package groq

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/arovia/internal/tools"
	"github.com/linnemanlabs/arovia/internal/triage"
)

const (
	// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	// DefaultModel is the reasoning model used when none is configured.
	DefaultModel = "llama-3.3-70b-versatile"

	temperature = 0.1
)

// Client implements triage.Provider over go-openai.
type Client struct {
	client   *openai.Client
	model    string
	provider string
}

// Option configures a Client.
type Option func(*openai.ClientConfig)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *openai.ClientConfig) { c.BaseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *openai.ClientConfig) { c.HTTPClient = hc }
}

// New creates a client for apiKey and model.
func New(apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = DefaultModel
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = DefaultBaseURL
	for _, o := range opts {
		o(&cfg)
	}

	provider := "groq"
	if !strings.Contains(cfg.BaseURL, "groq.com") {
		provider = "openai-compatible"
	}
	return &Client{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		provider: provider,
	}
}

// Info implements triage.Describer.
func (c *Client) Info() triage.ModelInfo {
	return triage.ModelInfo{Provider: c.provider, Model: c.model}
}

// Send implements triage.Provider.
func (c *Client) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	creq := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
		Messages:    toChatMessages(req.System, req.Messages),
		Tools:       toChatTools(req.Tools),
	}
	if req.ToolChoice != "" {
		creq.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.ToolChoice},
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, c.classify(err)
	}
	return fromChatResponse(&resp), nil
}

func (c *Client) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status != 0 {
		return &triage.BackendError{Provider: c.provider, StatusCode: status, Retryable: triage.RetryableStatus(status), Err: err}
	}
	var netErr net.Error
	retryable := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &triage.BackendError{Provider: c.provider, Retryable: retryable, Err: err}
}

func toChatMessages(system string, msgs []triage.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			var text []string
			for _, b := range m.Content {
				switch b.Type {
				case "text":
					text = append(text, b.Text)
				case "tool_use":
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   b.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      b.Name,
							Arguments: string(b.Input),
						},
					})
				}
			}
			msg.Content = strings.Join(text, "\n")
			out = append(out, msg)
		default:
			var text []string
			for _, b := range m.Content {
				switch b.Type {
				case "text":
					text = append(text, b.Text)
				case "tool_result":
					content := b.Content
					if b.IsError {
						content = "ERROR: " + content
					}
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    content,
						ToolCallID: b.ToolUseID,
					})
				}
			}
			if len(text) > 0 {
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: strings.Join(text, "\n"),
				})
			}
		}
	}
	return out
}

func toChatTools(defs []tools.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  json.RawMessage(d.InputSchema),
			},
		})
	}
	return out
}

func fromChatResponse(resp *openai.ChatCompletionResponse) *triage.LLMResponse {
	out := &triage.LLMResponse{
		Usage: triage.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		Model: resp.Model,
	}
	if len(resp.Choices) == 0 {
		out.StopReason = triage.StopEnd
		return out
	}

	choice := resp.Choices[0]
	if choice.Message.Content != "" {
		out.Content = append(out.Content, triage.ContentBlock{Type: "text", Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Content = append(out.Content, triage.ContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}

	switch choice.FinishReason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		out.StopReason = triage.StopToolUse
	case openai.FinishReasonLength:
		out.StopReason = triage.StopMaxTokens
	default:
		out.StopReason = triage.StopEnd
		if len(choice.Message.ToolCalls) > 0 {
			out.StopReason = triage.StopToolUse
		}
	}
	return out
}

var _ triage.Provider = (*Client)(nil)
