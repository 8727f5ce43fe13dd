package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/model"
	"github.com/hupe1980/llmflow/runner"
)

// handlerFunc adapts a function to the Handler interface for tests.
type handlerFunc func(ctx context.Context, input string, conv *core.ConversationState) (string, error)

func (f handlerFunc) Handle(ctx context.Context, input string, conv *core.ConversationState) (string, error) {
	return f(ctx, input, conv)
}

func staticHandler(out string) Handler {
	return handlerFunc(func(context.Context, string, *core.ConversationState) (string, error) {
		return out, nil
	})
}

func classifyStep(input string) core.Step {
	return core.NewStep("classify", model.TierFast, "classify:"+input)
}

func newTestRouter(port *model.MockPort, threshold float64) *Router {
	r := runner.New(port)
	rt := NewRouter(r, classifyStep, func(o *RouterOptions) {
		o.Threshold = threshold
		o.Policy = fastPolicy(0)
	})
	rt.Register("product", staticHandler("product-answer"))
	rt.Register("warranty", staticHandler("warranty-answer"))
	rt.SetClarification(staticHandler("please-clarify"))
	return rt
}

func TestRouter_DispatchesToRegisteredHandler(t *testing.T) {
	port := model.NewMockPort()
	port.AddResponse("classify:how much is the hat?",
		`{"category": "product", "confidence": 0.9, "rationale": "asks about a product"}`)

	rt := newTestRouter(port, 0.6)

	res, err := rt.Route(context.Background(), "how much is the hat?", nil)

	require.NoError(t, err)
	assert.Equal(t, "product", res.Classification.Category)
	assert.InDelta(t, 0.9, res.Classification.Confidence, 1e-9)
	assert.Equal(t, "product-answer", res.Output)
}

func TestRouter_LowConfidenceAsksForClarification(t *testing.T) {
	port := model.NewMockPort()
	rt := newTestRouter(port, 0.7)

	// Just below the threshold routes to clarification...
	port.AddResponse("classify:hm", `{"category": "product", "confidence": 0.69}`)
	res, err := rt.Route(context.Background(), "hm", nil)
	require.NoError(t, err)
	assert.Equal(t, "please-clarify", res.Output)

	// ...while exactly at the threshold reaches the specialist.
	port.AddResponse("classify:hm2", `{"category": "product", "confidence": 0.7}`)
	res, err = rt.Route(context.Background(), "hm2", nil)
	require.NoError(t, err)
	assert.Equal(t, "product-answer", res.Output)
}

func TestRouter_UnknownCategoryAsksForClarification(t *testing.T) {
	port := model.NewMockPort()
	port.AddResponse("classify:q", `{"category": "shipping", "confidence": 0.95}`)

	rt := newTestRouter(port, 0.6)

	res, err := rt.Route(context.Background(), "q", nil)

	require.NoError(t, err)
	assert.Equal(t, "please-clarify", res.Output)
}

func TestRouter_ConfidenceTieAsksForClarification(t *testing.T) {
	port := model.NewMockPort()
	port.AddResponse("classify:q", `{
		"category": "product",
		"confidence": 0.8,
		"candidates": [
			{"category": "product", "confidence": 0.8},
			{"category": "warranty", "confidence": 0.8}
		]
	}`)

	rt := newTestRouter(port, 0.6)

	res, err := rt.Route(context.Background(), "q", nil)

	require.NoError(t, err)
	assert.Equal(t, "please-clarify", res.Output)
}

func TestRouter_NormalizesPercentConfidence(t *testing.T) {
	port := model.NewMockPort()
	port.AddResponse("classify:q", `{"category": "warranty", "confidence": 85}`)

	rt := newTestRouter(port, 0.6)

	cls, err := rt.Classify(context.Background(), "q")

	require.NoError(t, err)
	assert.InDelta(t, 0.85, cls.Confidence, 1e-9)
}

func TestRouter_MissingCategoryIsValidationError(t *testing.T) {
	port := model.NewMockPort()
	port.AddResponse("classify:q", `{"confidence": 0.9}`)

	rt := newTestRouter(port, 0.6)

	_, err := rt.Classify(context.Background(), "q")

	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestRouter_ParsesFencedClassification(t *testing.T) {
	port := model.NewMockPort()
	port.AddResponse("classify:q", "Here you go:\n```json\n{\"category\": \"product\", \"confidence\": 0.9}\n```")

	rt := newTestRouter(port, 0.6)

	cls, err := rt.Classify(context.Background(), "q")

	require.NoError(t, err)
	assert.Equal(t, "product", cls.Category)
}

func TestRouter_StepHandlerAppendsConversation(t *testing.T) {
	port := model.NewMockPort()
	port.AddResponse("classify:q", `{"category": "product", "confidence": 0.9}`)
	port.AddResponse("answer:q", "the answer")

	r := runner.New(port)
	rt := NewRouter(r, classifyStep, func(o *RouterOptions) { o.Policy = fastPolicy(0) })
	rt.Register("product", NewStepHandler(r, fastPolicy(0), func(input string, _ *core.ConversationState) core.Step {
		return core.NewStep("answer", model.TierStandard, "answer:"+input)
	}))

	conv := core.NewConversationState()
	res, err := rt.Route(context.Background(), "q", conv)

	require.NoError(t, err)
	assert.Equal(t, "the answer", res.Output)
	require.Equal(t, 2, conv.Len())
	assert.Equal(t, "assistant", conv.Turns()[1].Role)
}

func TestRouter_NoClarificationHandlerConfigured(t *testing.T) {
	port := model.NewMockPort()
	port.AddResponse("classify:q", `{"category": "product", "confidence": 0.1}`)

	r := runner.New(port)
	rt := NewRouter(r, classifyStep, func(o *RouterOptions) { o.Policy = fastPolicy(0) })
	rt.Register("product", staticHandler("product-answer"))

	_, err := rt.Route(context.Background(), "q", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "clarification")
}
