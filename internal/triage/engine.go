package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/arovia/internal/tools"
)

const (
	// MaxRepairAttempts is how many corrective re-prompts follow an invalid answer.
	MaxRepairAttempts = 2
	ResponseTokens    = 2048
)

const tracerName = "github.com/linnemanlabs/arovia/internal/triage"

// CompleteEvent is emitted once per assessment.
type CompleteEvent struct {
	Status    string // complete, failed, canceled
	Model     string
	Category  Category
	Emergency bool
	Duration  float64
	LLMTime   float64
	TokensIn  int
	TokensOut int
	Attempts  int
}

// EngineHooks are optional callbacks for metrics.
type EngineHooks struct {
	OnLLMCall   func(inputTokens, outputTokens int, duration float64)
	OnRepair    func(attempt int)
	OnComplete  func(e *CompleteEvent)
	OnRelevance func(outcome string)

	// Used by the voice adapter and the facility matcher.
	OnTranscription  func(status string, duration float64)
	OnFacilityLookup func(outcome string, results int)
}

// Engine is the Triage Reasoner: one forced tool call, corrective
// re-prompts on invalid output, then the scoring policy.
type Engine struct {
	provider Provider
	registry *tools.Registry
	policy   ScoringPolicy
	retry    RetryPolicy
	logger   log.Logger
	hooks    EngineHooks
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithScoringPolicy replaces the default scoring policy.
func WithScoringPolicy(p ScoringPolicy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithRetryPolicy replaces the default backend retry policy.
func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *Engine) { e.retry = p }
}

// WithClock overrides the clock used to timestamp results.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a reasoner over provider.
func NewEngine(provider Provider, logger log.Logger, hooks EngineHooks, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	registry := tools.NewRegistry().MustRegister(newRecordTriageTool())

	e := &Engine{
		provider: provider,
		registry: registry,
		policy:   DefaultScoringPolicy(),
		retry:    DefaultRetryPolicy(),
		logger:   logger,
		hooks:    hooks,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Info reports the provider and model behind the engine.
func (e *Engine) Info() ModelInfo {
	if d, ok := e.provider.(Describer); ok {
		return d.Info()
	}
	return ModelInfo{Provider: "unknown"}
}

// Assess produces a validated Result for text. On any failure it returns
// nil and an error; a partially built result is never returned.
func (e *Engine) Assess(ctx context.Context, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "triage.assess")
	defer span.End()

	start := time.Now()
	ev := &CompleteEvent{Model: e.Info().Model}
	defer func() {
		ev.Duration = time.Since(start).Seconds()
		if e.hooks.OnComplete != nil {
			e.hooks.OnComplete(ev)
		}
	}()

	detected := DetectRedFlags(text)
	L := e.logger.With("detected_flags", len(detected))

	messages := []Message{userText(buildInitialPrompt(text, detected))}
	defs := e.registry.ToToolDefs()

	var d *draft
	for attempt := 1; ; attempt++ {
		ev.Attempts = attempt

		llmStart := time.Now()
		resp, err := Retry(ctx, e.retry, func(ctx context.Context) (*LLMResponse, error) {
			return e.provider.Send(ctx, &LLMRequest{
				MaxTokens:  ResponseTokens,
				System:     systemPrompt,
				Messages:   messages,
				Tools:      defs,
				ToolChoice: RecordTriageTool,
			})
		})
		llmDur := time.Since(llmStart).Seconds()
		ev.LLMTime += llmDur

		if err != nil {
			if ctx.Err() != nil {
				ev.Status = "canceled"
				return nil, ctx.Err()
			}
			ev.Status = "failed"
			L.Error(ctx, err, "llm call failed", "attempt", attempt)
			span.RecordError(err)
			span.SetStatus(codes.Error, "llm call failed")
			return nil, &TriageGenerationError{Attempts: attempt, Err: err}
		}

		ev.TokensIn += resp.Usage.InputTokens
		ev.TokensOut += resp.Usage.OutputTokens
		if resp.Model != "" {
			ev.Model = resp.Model
		}
		if e.hooks.OnLLMCall != nil {
			e.hooks.OnLLMCall(resp.Usage.InputTokens, resp.Usage.OutputTokens, llmDur)
		}

		L.Info(ctx, "llm response",
			"attempt", attempt,
			"stop_reason", resp.StopReason,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)

		messages = append(messages, Message{Role: "assistant", Content: resp.Content})

		var verr error
		d, verr = e.decode(ctx, resp)
		if verr == nil {
			break
		}

		if attempt > MaxRepairAttempts {
			ev.Status = "failed"
			L.Warn(ctx, "triage output still invalid after repairs", "attempts", attempt, "err", verr)
			span.SetStatus(codes.Error, "invalid output")
			return nil, &TriageGenerationError{Attempts: attempt, Err: verr}
		}

		L.Info(ctx, "requesting corrected triage output", "attempt", attempt, "reason", verr.Error())
		if e.hooks.OnRepair != nil {
			e.hooks.OnRepair(attempt)
		}
		messages = append(messages, correction(resp, verr))
	}

	result := e.policy.Apply(d, detected, text, e.now().UTC())
	if err := result.Validate(); err != nil {
		ev.Status = "failed"
		return nil, &TriageGenerationError{Attempts: ev.Attempts, Err: fmt.Errorf("result invariant: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		ev.Status = "canceled"
		return nil, err
	}

	ev.Status = "complete"
	ev.Category = result.TriageCategory
	ev.Emergency = result.EmergencyDetected
	span.SetAttributes(
		attribute.Int("triage.urgency_score", result.UrgencyScore),
		attribute.String("triage.category", string(result.TriageCategory)),
		attribute.Bool("triage.emergency", result.EmergencyDetected),
		attribute.Int("triage.attempts", ev.Attempts),
	)
	L.Info(ctx, "triage complete",
		"urgency_score", result.UrgencyScore,
		"category", result.TriageCategory,
		"emergency", result.EmergencyDetected,
		"low_information", result.LowInformation,
		"attempts", ev.Attempts,
	)
	return result, nil
}

var errNoToolCall = errors.New("the response did not call " + RecordTriageTool + "; answer only by calling that tool")

// decode runs the tool call in resp through the registry and returns the draft.
func (e *Engine) decode(ctx context.Context, resp *LLMResponse) (*draft, error) {
	block, ok := resp.toolUse(RecordTriageTool)
	if !ok {
		return nil, errNoToolCall
	}
	out, err := e.registry.Call(ctx, block.Name, block.Input)
	if err != nil {
		return nil, err
	}
	var d draft
	if err := json.Unmarshal(out, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// correction builds the corrective turn. When the model did call a tool
// the error goes back as its tool_result so the exchange stays well-formed.
func correction(resp *LLMResponse, verr error) Message {
	msg := fmt.Sprintf("Your previous answer was rejected.\n%v\nCall %s again with a corrected, complete assessment.", verr, RecordTriageTool)

	var results []ContentBlock
	for _, b := range resp.Content {
		if b.Type == "tool_use" {
			results = append(results, ContentBlock{
				Type:      "tool_result",
				ToolUseID: b.ID,
				Content:   msg,
				IsError:   true,
			})
		}
	}
	if len(results) == 0 {
		return userText(msg)
	}
	return Message{Role: "user", Content: results}
}

const systemPrompt = `You are Arovia, a medical triage assistant for India's healthcare system. You do not diagnose; you structure what the patient reports so a clinician can prioritise care.

Record your assessment by calling the record_triage tool exactly once.

Urgency guidelines for suggested_urgency_score:
- 1-3: minor symptoms, self-care possible
- 4-6: moderate symptoms, see a doctor within 24-48 hours
- 7-8: urgent symptoms, see a doctor within 4-6 hours
- 9-10: emergency, immediate medical attention required

Red flag criteria:
- cardiac: chest pain, heart attack symptoms, severe palpitations
- neurological: stroke symptoms, sudden severe headache, loss of consciousness
- respiratory: severe breathing difficulty, choking, blue lips
- trauma: severe bleeding, head injury, major trauma
- mental_health: suicidal thoughts, self-harm intentions

Every action_required must be a concrete instruction, never a template placeholder. Always favour patient safety. Consider the resources available in Indian healthcare settings.`

// buildInitialPrompt frames the patient's text and any keyword findings.
func buildInitialPrompt(text string, detected []RedFlag) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PATIENT INPUT: %q\n", text)
	if len(detected) > 0 {
		b.WriteString("\nEMERGENCY KEYWORDS DETECTED:\n")
		for _, f := range detected {
			fmt.Fprintf(&b, "- %s: %s\n", strings.ToUpper(string(f.FlagType)), strings.TrimPrefix(f.Description, "Reported "))
		}
	}
	b.WriteString("\nAssess the patient's symptoms and record the triage assessment.")
	return b.String()
}
