package triage

import (
	"context"
	"errors"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linnemanlabs/arovia/internal/tools"
)

// ClassifyRelevanceTool is the forced tool the gate answers through.
const ClassifyRelevanceTool = "classify_relevance"

type relevanceAnswer struct {
	IsRelevant bool   `json:"is_relevant" jsonschema:"true when the text describes a health concern, symptom, injury or medical question"`
	Reason     string `json:"reason" jsonschema:"one short sentence explaining the verdict"`
}

func validateRelevance(a *relevanceAnswer) error {
	if strings.TrimSpace(a.Reason) == "" {
		return errors.New("reason must not be empty")
	}
	return nil
}

// Gate is the Relevance Gate. It never blocks care-seeking text on a
// backend failure: the verdict degrades to relevant and is logged.
type Gate struct {
	provider Provider
	tool     *tools.SchemaTool[relevanceAnswer]
	retry    RetryPolicy
	logger   log.Logger
	hooks    EngineHooks
}

// NewGate creates a relevance gate. A nil provider makes every non-empty
// input pass through as degraded.
func NewGate(provider Provider, logger log.Logger, hooks EngineHooks, retry RetryPolicy) *Gate {
	if logger == nil {
		logger = log.Nop()
	}
	return &Gate{
		provider: provider,
		tool: tools.MustSchemaTool[relevanceAnswer](
			ClassifyRelevanceTool,
			"Classify whether the text is a medical or health-related description that warrants triage.",
			nil,
			validateRelevance,
		),
		retry:  retry,
		logger: logger,
		hooks:  hooks,
	}
}

// Info reports the provider and model behind the gate.
func (g *Gate) Info() ModelInfo {
	if d, ok := g.provider.(Describer); ok {
		return d.Info()
	}
	return ModelInfo{Provider: "none"}
}

// Check classifies text. It returns an error only when ctx is done.
func (g *Gate) Check(ctx context.Context, text string) (Relevance, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		g.observe("empty")
		return Relevance{IsRelevant: false, Reason: ErrEmptyInput.Error()}, nil
	}
	if flags := DetectRedFlags(text); len(flags) > 0 {
		g.observe("red_flag")
		return Relevance{IsRelevant: true, Reason: "emergency keywords detected: " + string(flags[0].FlagType)}, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "triage.relevance")
	defer span.End()

	if g.provider == nil {
		return g.degrade(ctx, &RelevanceCheckError{Err: errors.New("no classifier configured")}), nil
	}

	resp, err := Retry(ctx, g.retry, func(ctx context.Context) (*LLMResponse, error) {
		return g.provider.Send(ctx, &LLMRequest{
			MaxTokens:  256,
			System:     gatePrompt,
			Messages:   []Message{userText(text)},
			Tools:      []tools.ToolDef{tools.Def(g.tool)},
			ToolChoice: ClassifyRelevanceTool,
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return Relevance{}, ctx.Err()
		}
		return g.degrade(ctx, &RelevanceCheckError{Err: err}), nil
	}

	block, ok := resp.toolUse(ClassifyRelevanceTool)
	if !ok {
		return g.degrade(ctx, &RelevanceCheckError{Err: errors.New("classifier did not call " + ClassifyRelevanceTool)}), nil
	}
	ans, err := g.tool.Decode(block.Input)
	if err != nil {
		return g.degrade(ctx, &RelevanceCheckError{Err: err}), nil
	}

	span.SetAttributes(attribute.Bool("triage.relevant", ans.IsRelevant))
	if ans.IsRelevant {
		g.observe("relevant")
	} else {
		g.observe("rejected")
	}
	return Relevance{IsRelevant: ans.IsRelevant, Reason: strings.TrimSpace(ans.Reason)}, nil
}

func (g *Gate) degrade(ctx context.Context, err *RelevanceCheckError) Relevance {
	g.logger.Warn(ctx, "relevance gate degraded", "err", err.Error())
	g.observe("degraded")
	return Relevance{
		IsRelevant: true,
		Reason:     "relevance check unavailable; passed through for assessment",
		Degraded:   true,
	}
}

func (g *Gate) observe(outcome string) {
	if g.hooks.OnRelevance != nil {
		g.hooks.OnRelevance(outcome)
	}
}

const gatePrompt = `You screen messages sent to a medical triage assistant. Decide whether the message describes symptoms, an injury, a health concern or a medical question about the sender or someone they care for. Greetings, general knowledge questions, jokes and unrelated requests are not relevant. When in doubt, classify as relevant. Answer only by calling classify_relevance.`
