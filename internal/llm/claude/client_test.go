package claude

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/arovia/internal/tools"
	"github.com/linnemanlabs/arovia/internal/triage"
)

func TestToSDKMessages_TextBlock(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role:    "user",
		Content: []triage.ContentBlock{{Type: "text", Text: "hello"}},
	}}

	result := toSDKMessages(msgs)

	if len(result) != 1 {
		t.Fatalf("len = %d, want 1", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("role = %q, want %q", result[0].Role, "user")
	}
	if len(result[0].Content) != 1 {
		t.Fatalf("content len = %d, want 1", len(result[0].Content))
	}
	if result[0].Content[0].OfText == nil {
		t.Fatal("expected OfText to be set")
	}
	if result[0].Content[0].OfText.Text != "hello" {
		t.Errorf("text = %q, want %q", result[0].Content[0].OfText.Text, "hello")
	}
}

func TestToSDKMessages_ToolUseBlock(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role: "assistant",
		Content: []triage.ContentBlock{{
			Type:  "tool_use",
			ID:    "tu-1",
			Name:  "record_triage",
			Input: json.RawMessage(`{"chief_complaint":"cough"}`),
		}},
	}}

	result := toSDKMessages(msgs)

	block := result[0].Content[0]
	if block.OfToolUse == nil {
		t.Fatal("expected OfToolUse to be set")
	}
	if block.OfToolUse.ID != "tu-1" {
		t.Errorf("ID = %q, want %q", block.OfToolUse.ID, "tu-1")
	}
	if block.OfToolUse.Name != "record_triage" {
		t.Errorf("Name = %q, want %q", block.OfToolUse.Name, "record_triage")
	}
}

func TestToSDKMessages_ToolResultBlock(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role: "user",
		Content: []triage.ContentBlock{{
			Type:      "tool_result",
			ToolUseID: "tu-1",
			Content:   "record_triage arguments rejected",
			IsError:   true,
		}},
	}}

	result := toSDKMessages(msgs)

	block := result[0].Content[0]
	if block.OfToolResult == nil {
		t.Fatal("expected OfToolResult to be set")
	}
	if block.OfToolResult.ToolUseID != "tu-1" {
		t.Errorf("ToolUseID = %q, want %q", block.OfToolResult.ToolUseID, "tu-1")
	}
	if !block.OfToolResult.IsError.Valid() || !block.OfToolResult.IsError.Value {
		t.Error("expected IsError to be true")
	}
}

func TestToSDKMessages_MixedBlocks(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role: "assistant",
		Content: []triage.ContentBlock{
			{Type: "text", Text: "let me check"},
			{Type: "tool_use", ID: "tu-2", Name: "record_triage", Input: json.RawMessage(`{}`)},
		},
	}}

	result := toSDKMessages(msgs)

	if len(result[0].Content) != 2 {
		t.Fatalf("content len = %d, want 2", len(result[0].Content))
	}
	if result[0].Content[0].OfText == nil {
		t.Error("first block should be text")
	}
	if result[0].Content[1].OfToolUse == nil {
		t.Error("second block should be tool_use")
	}
}

func TestToSDKTools(t *testing.T) {
	t.Parallel()

	defs := []tools.ToolDef{{
		Name:        "test_tool",
		Description: "a test tool",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
	}}

	result := toSDKTools(defs)

	if len(result) != 1 {
		t.Fatalf("len = %d, want 1", len(result))
	}
	if result[0].OfTool == nil {
		t.Fatal("expected OfTool to be set")
	}
	if result[0].OfTool.Name != "test_tool" {
		t.Errorf("name = %q, want %q", result[0].OfTool.Name, "test_tool")
	}
	if !result[0].OfTool.Description.Valid() || result[0].OfTool.Description.Value != "a test tool" {
		t.Errorf("description = %v, want %q", result[0].OfTool.Description, "a test tool")
	}
}

func TestFromSDKResponse_TextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "assessment recorded"},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 100, OutputTokens: 50},
	}

	result := fromSDKResponse(msg)

	if len(result.Content) != 1 {
		t.Fatalf("content len = %d, want 1", len(result.Content))
	}
	if result.Content[0].Type != "text" {
		t.Errorf("type = %q, want %q", result.Content[0].Type, "text")
	}
	if result.Content[0].Text != "assessment recorded" {
		t.Errorf("text = %q, want %q", result.Content[0].Text, "assessment recorded")
	}
}

func TestFromSDKResponse_ToolUseContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{
				Type:  "tool_use",
				ID:    "tu-99",
				Name:  "record_triage",
				Input: json.RawMessage(`{"chief_complaint":"cough"}`),
			},
		},
		StopReason: anthropic.StopReasonToolUse,
		Usage:      anthropic.Usage{InputTokens: 200, OutputTokens: 100},
	}

	result := fromSDKResponse(msg)

	if len(result.Content) != 1 {
		t.Fatalf("content len = %d, want 1", len(result.Content))
	}
	if result.Content[0].Type != "tool_use" {
		t.Errorf("type = %q, want %q", result.Content[0].Type, "tool_use")
	}
	if result.Content[0].ID != "tu-99" {
		t.Errorf("id = %q, want %q", result.Content[0].ID, "tu-99")
	}
	if result.Content[0].Name != "record_triage" {
		t.Errorf("name = %q, want %q", result.Content[0].Name, "record_triage")
	}
}

func TestFromSDKResponse_StopReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sdk      anthropic.StopReason
		expected triage.StopReason
	}{
		{"end_turn", anthropic.StopReasonEndTurn, triage.StopEnd},
		{"tool_use", anthropic.StopReasonToolUse, triage.StopToolUse},
		{"unknown", anthropic.StopReason("max_tokens"), triage.StopReason("max_tokens")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := &anthropic.Message{
				StopReason: tt.sdk,
				Usage:      anthropic.Usage{},
			}
			result := fromSDKResponse(msg)
			if result.StopReason != tt.expected {
				t.Errorf("stop reason = %q, want %q", result.StopReason, tt.expected)
			}
		})
	}
}

func TestFromSDKResponse_Usage(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	result := fromSDKResponse(msg)

	if result.Usage.InputTokens != 1234 {
		t.Errorf("input tokens = %d, want 1234", result.Usage.InputTokens)
	}
	if result.Usage.OutputTokens != 567 {
		t.Errorf("output tokens = %d, want 567", result.Usage.OutputTokens)
	}
}

func TestSend_ForcedToolCall(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("X-Api-Key"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "tool_use", "id": "tu-1", "name": "record_triage", "input": {"chief_complaint": "cough"}}],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 42, "output_tokens": 7}
		}`)
	}))
	defer srv.Close()

	c := New("test-key", "", option.WithBaseURL(srv.URL))
	resp, err := c.Send(context.Background(), &triage.LLMRequest{
		MaxTokens:  512,
		System:     "be careful",
		Messages:   []triage.Message{{Role: "user", Content: []triage.ContentBlock{{Type: "text", Text: "I have a cough"}}}},
		Tools:      []tools.ToolDef{{Name: "record_triage", Description: "d", InputSchema: json.RawMessage(`{"type":"object","properties":{"chief_complaint":{"type":"string"}},"required":["chief_complaint"]}`)}},
		ToolChoice: "record_triage",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if resp.StopReason != triage.StopToolUse {
		t.Errorf("stop reason = %q, want tool_use", resp.StopReason)
	}
	if len(resp.Content) != 1 || resp.Content[0].Name != "record_triage" {
		t.Fatalf("content = %+v", resp.Content)
	}
	if resp.Usage.InputTokens != 42 || resp.Model != DefaultModel {
		t.Errorf("usage/model = %+v / %q", resp.Usage, resp.Model)
	}

	choice, _ := got["tool_choice"].(map[string]any)
	if choice["type"] != "tool" || choice["name"] != "record_triage" {
		t.Errorf("tool_choice = %v, want forced record_triage", got["tool_choice"])
	}
	if got["model"] != DefaultModel {
		t.Errorf("model = %v, want %s", got["model"], DefaultModel)
	}
}

func TestSend_ClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"overloaded", 529, true},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"nope"}}`)
			}))
			defer srv.Close()

			c := New("k", "m", option.WithBaseURL(srv.URL))
			_, err := c.Send(context.Background(), &triage.LLMRequest{MaxTokens: 10})

			var be *triage.BackendError
			if !errors.As(err, &be) {
				t.Fatalf("err = %v, want *triage.BackendError", err)
			}
			if be.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", be.StatusCode, tt.status)
			}
			if be.Retryable != tt.retryable {
				t.Errorf("retryable = %t, want %t", be.Retryable, tt.retryable)
			}
			if be.Provider != "anthropic" {
				t.Errorf("provider = %q", be.Provider)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()

	info := New("k", "claude-x").Info()
	if info.Provider != "anthropic" || info.Model != "claude-x" {
		t.Errorf("Info = %+v", info)
	}
}
