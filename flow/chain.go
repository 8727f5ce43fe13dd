package flow

import (
	"context"
	"fmt"

	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/logging"
	"github.com/hupe1980/llmflow/runner"
)

// ChainStep is one stage of a sequential chain.
type ChainStep struct {
	// Name identifies the stage in results, errors and events.
	Name string

	// Build constructs the generation step for this stage from the
	// current input. The conversation state carries the session history
	// accumulated by earlier stages and invocations.
	Build func(input string, conv *core.ConversationState) core.Step

	// Transform optionally maps the stage's output into the next stage's
	// input (e.g. extracting a field from a structured response). Nil
	// passes the output through unchanged.
	Transform func(output string) (string, error)

	// ExitIf optionally terminates the chain successfully before later
	// stages run (e.g. a relevance gate). When it returns true the chain
	// returns a rejected result rather than an error.
	ExitIf func(output string) bool
}

// ChainError identifies the failing stage of an aborted chain.
type ChainError struct {
	Index    int             // Zero-based index of the failing stage
	StepName string          // Name of the failing stage
	Result   core.StepResult // Terminal result of the failing step
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	return fmt.Sprintf("chain aborted at step %d (%s): %v", e.Index, e.StepName, e.Result.Err)
}

// Unwrap returns the failing step's error.
func (e *ChainError) Unwrap() error { return e.Result.Err }

// ChainResult is the outcome of a completed or rejected chain run.
type ChainResult struct {
	Output     string            // Final output, or the gating step's output when rejected
	Rejected   bool              // True when an ExitIf predicate terminated the chain early
	RejectedAt int               // Index of the rejecting stage, -1 otherwise
	Results    []core.StepResult // Per-stage results for stages that executed
}

// ChainOptions configures a Chain.
type ChainOptions struct {
	Policy runner.Policy
	Logger logging.Logger
	Sink   core.Sink
}

// Chain executes an ordered sequence of steps, piping each stage's output
// into the next stage's input. Failure of any stage aborts the chain
// immediately; later stages never execute on stale or partial data.
type Chain struct {
	runner *runner.Runner
	steps  []ChainStep
	policy runner.Policy
	logger logging.Logger
	sink   core.Sink
}

// NewChain creates a chain over the given stages.
func NewChain(r *runner.Runner, steps []ChainStep, optFns ...func(o *ChainOptions)) *Chain {
	opts := ChainOptions{
		Policy: runner.DefaultPolicy(),
		Logger: r.Logger(),
		Sink:   r.Sink(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Chain{runner: r, steps: steps, policy: opts.Policy, logger: opts.Logger, sink: opts.Sink}
}

// Run executes the chain stages strictly in order.
//
// Each stage's output becomes the next stage's input after its Transform.
// The conversation state, owned by the caller, is appended to as stages
// complete so that a session can span multiple chain and router
// invocations. conv may be nil for one-shot executions.
func (c *Chain) Run(ctx context.Context, input string, conv *core.ConversationState) (*ChainResult, error) {
	if conv == nil {
		conv = core.NewConversationState()
	}

	result := &ChainResult{RejectedAt: -1}
	current := input

	for i, stage := range c.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step := stage.Build(current, conv)
		res := c.runner.Run(ctx, step, c.policy)
		result.Results = append(result.Results, res)

		if !res.OK() {
			if res.Status == core.StatusCancelled {
				return nil, res.Err
			}
			c.logger.Warn("chain aborted", "step", stage.Name, "index", i, "status", string(res.Status))
			return nil, &ChainError{Index: i, StepName: stage.Name, Result: res}
		}

		conv.Append("user", step.Prompt)
		conv.Append("assistant", res.Output)

		if stage.ExitIf != nil && stage.ExitIf(res.Output) {
			c.logger.Info("chain rejected input", "step", stage.Name, "index", i)
			result.Output = res.Output
			result.Rejected = true
			result.RejectedAt = i
			return result, nil
		}

		next := res.Output
		if stage.Transform != nil {
			var err error
			next, err = stage.Transform(res.Output)
			if err != nil {
				return nil, &ChainError{
					Index:    i,
					StepName: stage.Name,
					Result: core.StepResult{
						StepID:   res.StepID,
						StepName: res.StepName,
						Status:   core.StatusFailed,
						Err:      core.NewValidationError("transform failed", err),
					},
				}
			}
		}
		current = next
		result.Output = res.Output
	}

	result.Output = current
	return result, nil
}

// Handle implements Handler so a chain can be registered as a router
// target. A rejected chain returns the gating step's output.
func (c *Chain) Handle(ctx context.Context, input string, conv *core.ConversationState) (string, error) {
	res, err := c.Run(ctx, input, conv)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}
