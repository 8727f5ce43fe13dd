package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/internal/util"
	"github.com/hupe1980/llmflow/logging"
	"github.com/hupe1980/llmflow/runner"
)

// DefaultMaxIterations bounds the refinement loop when no limit is configured.
const DefaultMaxIterations = 3

// Attempt records one generate-evaluate iteration for auditability.
type Attempt struct {
	Iteration  int
	Output     string
	Result     core.StepResult
	Evaluation *core.EvaluationResult
}

// LoopResult is the terminal outcome of a refinement loop. Exhausting the
// iteration budget without a pass is a defined outcome, not an error: the
// result carries the best-scoring attempt seen.
type LoopResult struct {
	Output     string                 // Best attempt's output
	Evaluation *core.EvaluationResult // Best attempt's evaluation
	History    []Attempt              // Every iteration, regardless of outcome
	Passed     bool                   // True when an evaluation passed
	Exhausted  bool                   // True when the budget ran out without a pass
	Iterations int                    // Number of iterations performed
}

// LoopError identifies the iteration a refinement loop failed in.
type LoopError struct {
	Iteration int
	Cause     error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	return fmt.Sprintf("refinement loop failed at iteration %d: %v", e.Iteration, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *LoopError) Unwrap() error { return e.Cause }

// LoopOptions configures a Loop.
type LoopOptions struct {
	// MaxIterations bounds the number of generate-evaluate rounds.
	MaxIterations int

	// GeneratePolicy applies to generation steps.
	GeneratePolicy runner.Policy

	// EvaluatePolicy applies to evaluator steps. RetryOnValidation is
	// forced on: a malformed evaluator response is a transient step
	// failure retried under the runner's policy before escalating.
	EvaluatePolicy runner.Policy

	// Rule derives the overall verdict from the evaluation criteria.
	// Defaults to every criterion scoring at least the passing score.
	Rule core.AggregationRule

	Logger logging.Logger
	Sink   core.Sink
}

// Loop alternates a generation step and an evaluation step, feeding the
// evaluation's per-criterion feedback back into the next generation
// attempt until the evaluation passes or the iteration budget is
// exhausted. Loop state (iteration counter, best-so-far, history) is
// explicit and local to each Run call.
type Loop struct {
	runner *runner.Runner

	// generate builds the generation step. For iteration 0 prior and
	// feedback are empty; afterwards prior carries the previous output
	// and feedback the evaluator's criteria.
	generate func(input, prior string, feedback []core.Criterion) core.Step

	// evaluate builds the evaluator step for a candidate output. The
	// step's response must carry a criteria list with scores and
	// feedback; attach a schema to have the runner validate it.
	evaluate func(input, candidate string) core.Step

	maxIterations  int
	generatePolicy runner.Policy
	evaluatePolicy runner.Policy
	rule           core.AggregationRule
	logger         logging.Logger
	sink           core.Sink
}

// NewLoop creates an evaluator-optimizer loop from its two step builders.
func NewLoop(
	r *runner.Runner,
	generate func(input, prior string, feedback []core.Criterion) core.Step,
	evaluate func(input, candidate string) core.Step,
	optFns ...func(o *LoopOptions),
) *Loop {
	opts := LoopOptions{
		MaxIterations:  DefaultMaxIterations,
		GeneratePolicy: runner.DefaultPolicy(),
		EvaluatePolicy: runner.DefaultPolicy(),
		Rule:           core.AllAbove(core.DefaultPassingScore),
		Logger:         r.Logger(),
		Sink:           r.Sink(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	opts.EvaluatePolicy.RetryOnValidation = true

	return &Loop{
		runner:         r,
		generate:       generate,
		evaluate:       evaluate,
		maxIterations:  opts.MaxIterations,
		generatePolicy: opts.GeneratePolicy,
		evaluatePolicy: opts.EvaluatePolicy,
		rule:           opts.Rule,
		logger:         opts.Logger,
		sink:           opts.Sink,
	}
}

// Run performs up to MaxIterations generate-evaluate rounds on the input.
//
// The returned output is the best-scoring attempt seen, with ties broken
// by recency, since later iterations are not guaranteed to improve
// monotonically. Every attempt is appended to the history regardless of
// outcome.
func (l *Loop) Run(ctx context.Context, input string) (*LoopResult, error) {
	result := &LoopResult{}

	var (
		prior    string
		feedback []core.Criterion
		bestIdx  = -1
	)

	for i := 0; i < l.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev := core.NewEvent(core.EventIterationStarted)
		ev.Iteration = i
		l.sink.Emit(ev)

		genRes := l.runner.Run(ctx, l.generate(input, prior, feedback), l.generatePolicy)
		if !genRes.OK() {
			if genRes.Status == core.StatusCancelled {
				return nil, genRes.Err
			}
			return nil, &LoopError{Iteration: i, Cause: fmt.Errorf("generation step failed: %w", genRes.Err)}
		}

		evalRes := l.runner.Run(ctx, l.evaluate(input, genRes.Output), l.evaluatePolicy)
		if !evalRes.OK() {
			if evalRes.Status == core.StatusCancelled {
				return nil, evalRes.Err
			}
			return nil, &LoopError{Iteration: i, Cause: fmt.Errorf("evaluator step failed: %w", evalRes.Err)}
		}

		evaluation, err := parseEvaluation(evalRes, l.rule)
		if err != nil {
			return nil, &LoopError{Iteration: i, Cause: err}
		}

		result.History = append(result.History, Attempt{
			Iteration:  i,
			Output:     genRes.Output,
			Result:     genRes,
			Evaluation: evaluation,
		})
		result.Iterations = i + 1

		passed := evaluation.Overall()
		l.logger.Info("iteration evaluated", "iteration", i, "score", evaluation.Score(), "passed", passed)

		fin := core.NewEvent(core.EventIterationFinished)
		fin.Iteration = i
		l.sink.Emit(fin)

		// Ties resolve to the most recent attempt.
		if bestIdx < 0 || evaluation.Score() >= result.History[bestIdx].Evaluation.Score() {
			bestIdx = len(result.History) - 1
		}

		if passed {
			result.Passed = true
			result.Output = genRes.Output
			result.Evaluation = evaluation
			return result, nil
		}

		prior = genRes.Output
		feedback = evaluation.Criteria
	}

	result.Exhausted = true
	best := result.History[bestIdx]
	result.Output = best.Output
	result.Evaluation = best.Evaluation
	return result, nil
}

// parseEvaluation decodes the evaluator's criteria list and binds it to
// the loop's aggregation rule. The overall verdict is always derived from
// the criteria, never read from the payload.
func parseEvaluation(res core.StepResult, rule core.AggregationRule) (*core.EvaluationResult, error) {
	raw := res.Structured
	if raw == nil {
		raw = json.RawMessage(util.ExtractJSON(res.Output))
	}

	var payload struct {
		Criteria []core.Criterion `json:"criteria"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, core.NewValidationError("evaluation response is not valid JSON", err)
	}
	if len(payload.Criteria) == 0 {
		return nil, core.NewValidationError("evaluation response has no criteria", nil)
	}
	return core.NewEvaluationResult(payload.Criteria, rule), nil
}
