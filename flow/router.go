package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/internal/util"
	"github.com/hupe1980/llmflow/logging"
	"github.com/hupe1980/llmflow/runner"
)

// DefaultConfidenceThreshold is the classification confidence below which
// inputs are routed to the clarification handler.
const DefaultConfidenceThreshold = 0.6

// ClarificationCategory is the sentinel category for inputs the
// classifier could not confidently assign.
const ClarificationCategory = "unclear"

// Handler processes a routed input. Chains and single steps both satisfy
// the interface, giving the registry a closed set of handler variants
// resolved at registration time.
type Handler interface {
	Handle(ctx context.Context, input string, conv *core.ConversationState) (string, error)
}

// StepHandler adapts a single step to the Handler interface.
type StepHandler struct {
	runner *runner.Runner
	policy runner.Policy

	// Build constructs the handler's step from the routed input.
	Build func(input string, conv *core.ConversationState) core.Step
}

// NewStepHandler creates a single-step handler.
func NewStepHandler(r *runner.Runner, policy runner.Policy, build func(input string, conv *core.ConversationState) core.Step) *StepHandler {
	return &StepHandler{runner: r, policy: policy, Build: build}
}

// Handle implements Handler.
func (h *StepHandler) Handle(ctx context.Context, input string, conv *core.ConversationState) (string, error) {
	step := h.Build(input, conv)
	res := h.runner.Run(ctx, step, h.policy)
	if !res.OK() {
		return "", res.Err
	}
	if conv != nil {
		conv.Append("user", step.Prompt)
		conv.Append("assistant", res.Output)
	}
	return res.Output, nil
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Policy    runner.Policy
	Threshold float64 // Confidence threshold; strictly-below routes to clarification
	Logger    logging.Logger
	Sink      core.Sink
}

// Router classifies an input into one of a fixed set of categories and
// dispatches it to the category's registered handler. Classification runs
// as a single step; dispatch is a static registry lookup. Once
// dispatched, the handler owns the remainder of execution for that input.
type Router struct {
	runner        *runner.Runner
	classify      func(input string) core.Step
	handlers      map[string]Handler
	clarification Handler
	policy        runner.Policy
	threshold     float64
	logger        logging.Logger
	sink          core.Sink
}

// NewRouter creates a router around a classification step builder. The
// builder's step should produce a JSON payload with category, confidence
// and rationale fields (an optional ranked candidates list enables tie
// detection). Handlers are registered per category label via Register;
// the clarification handler receives unrecognized, low-confidence and
// ambiguous inputs.
func NewRouter(r *runner.Runner, classify func(input string) core.Step, optFns ...func(o *RouterOptions)) *Router {
	opts := RouterOptions{
		Policy:    runner.DefaultPolicy(),
		Threshold: DefaultConfidenceThreshold,
		Logger:    r.Logger(),
		Sink:      r.Sink(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		runner:    r,
		classify:  classify,
		handlers:  make(map[string]Handler),
		policy:    opts.Policy,
		threshold: opts.Threshold,
		logger:    opts.Logger,
		sink:      opts.Sink,
	}
}

// Register binds a category label to a handler. Registration resolves the
// handler variant statically; routing never re-evaluates the mapping.
func (rt *Router) Register(category string, h Handler) {
	rt.handlers[category] = h
}

// SetClarification installs the handler for unclear, low-confidence and
// ambiguous classifications.
func (rt *Router) SetClarification(h Handler) {
	rt.clarification = h
}

// Classify runs the classification step and parses its structured result.
// Confidence values reported on a 0-100 scale are normalized into [0,1].
func (rt *Router) Classify(ctx context.Context, input string) (*core.ClassificationResult, error) {
	res := rt.runner.Run(ctx, rt.classify(input), rt.policy)
	if !res.OK() {
		if res.Status == core.StatusCancelled {
			return nil, res.Err
		}
		return nil, fmt.Errorf("classification step failed: %w", res.Err)
	}

	doc := util.ExtractJSON(res.Output)
	cls := &core.ClassificationResult{
		Category:   strings.TrimSpace(util.StringField(doc, "category")),
		Confidence: normalizeConfidence(util.FloatField(doc, "confidence")),
		Rationale:  util.StringField(doc, "rationale"),
	}
	for _, cand := range gjson.Get(doc, "candidates").Array() {
		cls.Candidates = append(cls.Candidates, core.Candidate{
			Category:   cand.Get("category").String(),
			Confidence: normalizeConfidence(cand.Get("confidence").Float()),
		})
	}
	if cls.Category == "" {
		return nil, core.NewValidationError("classification response missing category", nil)
	}
	return cls, nil
}

// Dispatch resolves the classification to a handler and runs it.
//
// Confidence strictly below the threshold, an unregistered category and a
// confidence tie between the top candidates all resolve to the
// clarification handler; ambiguity never silently picks a specialist.
func (rt *Router) Dispatch(ctx context.Context, cls *core.ClassificationResult, input string, conv *core.ConversationState) (string, error) {
	category := cls.Category

	switch {
	case cls.Confidence < rt.threshold:
		rt.logger.Info("confidence below threshold, asking for clarification",
			"category", category, "confidence", cls.Confidence)
		category = ClarificationCategory
	case cls.Ambiguous():
		rt.logger.Info("ambiguous classification, asking for clarification", "category", category)
		category = ClarificationCategory
	}

	handler, ok := rt.handlers[category]
	if !ok || category == ClarificationCategory {
		handler = rt.clarification
		category = ClarificationCategory
	}
	if handler == nil {
		return "", core.NewPermanentError(fmt.Sprintf("no handler registered for category %q and no clarification handler set", category), nil)
	}

	ev := core.NewEvent(core.EventRouteSelected)
	ev.Category = category
	rt.sink.Emit(ev)

	return handler.Handle(ctx, input, conv)
}

// Route classifies the input and dispatches it in one call.
func (rt *Router) Route(ctx context.Context, input string, conv *core.ConversationState) (*RouteResult, error) {
	cls, err := rt.Classify(ctx, input)
	if err != nil {
		return nil, err
	}
	out, err := rt.Dispatch(ctx, cls, input, conv)
	if err != nil {
		return nil, err
	}
	return &RouteResult{Classification: *cls, Output: out}, nil
}

// RouteResult is the outcome of a classify-and-dispatch invocation.
type RouteResult struct {
	Classification core.ClassificationResult
	Output         string
}

// normalizeConfidence maps confidences reported on a 0-100 scale into
// [0,1] and clamps out-of-range values.
func normalizeConfidence(c float64) float64 {
	if c > 1 {
		c /= 100
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
