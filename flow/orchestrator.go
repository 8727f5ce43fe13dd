package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/internal/util"
	"github.com/hupe1980/llmflow/logging"
	"github.com/hupe1980/llmflow/runner"
)

// Stage identifies a state of the orchestrator's state machine.
type Stage string

const (
	// StagePlanning asks the generation service to decompose the task
	// into worker specs.
	StagePlanning Stage = "planning"

	// StageDispatching fans the planned workers out through the parallel
	// dispatcher.
	StageDispatching Stage = "dispatching"

	// StageSynthesizing combines worker outputs into one result.
	StageSynthesizing Stage = "synthesizing"

	// StageDone is the successful terminal stage.
	StageDone Stage = "done"

	// StageFailed is the unsuccessful terminal stage.
	StageFailed Stage = "failed"
)

// DefaultMinSuccessFraction is the minimum fraction of workers that must
// succeed for synthesis to proceed.
const DefaultMinSuccessFraction = 0.5

// WorkerOutput pairs a worker spec with its terminal result. Failed
// workers are flagged through the result status, never silently omitted.
type WorkerOutput struct {
	Key    string
	Spec   core.WorkerSpec
	Result core.StepResult
}

// OrchestratorError is a structured failure naming the stage it occurred in.
type OrchestratorError struct {
	Stage Stage
	Cause error
}

// Error implements the error interface.
func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("orchestrator failed during %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *OrchestratorError) Unwrap() error { return e.Cause }

// OrchestratorResult is the successful outcome of an orchestrated task.
type OrchestratorResult struct {
	Output  string                     // Synthesized combined output
	Plan    []core.WorkerSpec          // The plan produced during Planning
	Workers map[string]core.StepResult // Per-worker terminal results, keyed by arena key
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Policy runner.Policy

	// MinSuccessFraction is the minimum fraction of workers that must
	// succeed for Synthesizing to run; below it the orchestrator fails
	// rather than producing a degraded answer silently.
	MinSuccessFraction float64

	Logger logging.Logger
	Sink   core.Sink
}

// Orchestrator decomposes a task into a dynamic worker set, dispatches
// the workers through the parallel dispatcher and synthesizes a single
// combined output.
//
// The state machine is Planning -> Dispatching -> Synthesizing -> Done,
// with Planning -> Failed and Dispatching -> Failed transitions on
// unrecoverable errors. Worker specs are held in a flat keyed arena
// ("worker-0", "worker-1", ...) that the dispatcher consumes by key.
type Orchestrator struct {
	runner     *runner.Runner
	dispatcher *Dispatcher

	planStep   func(task string) core.Step
	workerStep func(spec core.WorkerSpec, task string) core.Step
	synthStep  func(task string, outputs []WorkerOutput) core.Step

	policy     runner.Policy
	minSuccess float64
	logger     logging.Logger
	sink       core.Sink
}

// NewOrchestrator creates an orchestrator from its three step builders:
// planStep produces the decomposition step (its response must parse into
// a worker spec list), workerStep turns one spec into an executable step,
// and synthStep combines the worker outputs into the final step.
func NewOrchestrator(
	r *runner.Runner,
	d *Dispatcher,
	planStep func(task string) core.Step,
	workerStep func(spec core.WorkerSpec, task string) core.Step,
	synthStep func(task string, outputs []WorkerOutput) core.Step,
	optFns ...func(o *OrchestratorOptions),
) *Orchestrator {
	opts := OrchestratorOptions{
		Policy:             runner.DefaultPolicy(),
		MinSuccessFraction: DefaultMinSuccessFraction,
		Logger:             r.Logger(),
		Sink:               r.Sink(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{
		runner:     r,
		dispatcher: d,
		planStep:   planStep,
		workerStep: workerStep,
		synthStep:  synthStep,
		policy:     opts.Policy,
		minSuccess: opts.MinSuccessFraction,
		logger:     opts.Logger,
		sink:       opts.Sink,
	}
}

// Run executes the full state machine for one task.
func (o *Orchestrator) Run(ctx context.Context, task string) (*OrchestratorResult, error) {
	o.enterStage(StagePlanning)
	plan, err := o.plan(ctx, task)
	if err != nil {
		o.enterStage(StageFailed)
		return nil, &OrchestratorError{Stage: StagePlanning, Cause: err}
	}
	o.logger.Info("plan produced", "workers", len(plan))

	o.enterStage(StageDispatching)
	outputs, results, err := o.dispatch(ctx, task, plan)
	if err != nil {
		o.enterStage(StageFailed)
		return nil, &OrchestratorError{Stage: StageDispatching, Cause: err}
	}

	o.enterStage(StageSynthesizing)
	output, err := o.synthesize(ctx, task, outputs)
	if err != nil {
		o.enterStage(StageFailed)
		return nil, &OrchestratorError{Stage: StageSynthesizing, Cause: err}
	}

	o.enterStage(StageDone)
	return &OrchestratorResult{Output: output, Plan: plan, Workers: results}, nil
}

// plan runs the decomposition step and parses the worker spec list. A
// response that fails to parse gets exactly one stricter re-prompt; a
// second failure escalates to a planning error. The orchestrator never
// fabricates a default plan.
func (o *Orchestrator) plan(ctx context.Context, task string) ([]core.WorkerSpec, error) {
	step := o.planStep(task)

	res := o.runner.Run(ctx, step, o.policy)
	if res.Status == core.StatusCancelled {
		return nil, res.Err
	}
	// The stricter re-prompt only helps a model that answered in the
	// wrong shape; a step that failed at transport level already got its
	// retries from the runner.
	if !res.OK() {
		return nil, core.NewPlanningError("task decomposition failed", res.Err)
	}

	plan, parseErr := parsePlan(res)
	if parseErr == nil {
		return plan, nil
	}

	o.logger.Warn("plan did not parse, re-prompting strictly", "error", parseErr)

	strict := core.NewStep(step.Name+"-strict", step.Tier, strictPlanPrompt(step.Prompt),
		core.WithSystem(step.System), core.WithSchema(step.Schema))
	res = o.runner.Run(ctx, strict, o.policy)
	if res.Status == core.StatusCancelled {
		return nil, res.Err
	}
	if !res.OK() {
		return nil, core.NewPlanningError("task decomposition failed", res.Err)
	}
	plan, parseErr = parsePlan(res)
	if parseErr != nil {
		return nil, core.NewPlanningError("task decomposition produced no usable plan", parseErr)
	}
	return plan, nil
}

// dispatch turns each planned spec into a sub-task and submits the whole
// arena through the parallel dispatcher under the best-effort policy;
// worker specs are independent in this design, so no inter-worker
// dependency resolution is performed.
func (o *Orchestrator) dispatch(ctx context.Context, task string, plan []core.WorkerSpec) ([]WorkerOutput, map[string]core.StepResult, error) {
	tasks := make([]SubTask, len(plan))
	keyed := make(map[string]core.WorkerSpec, len(plan))
	for i, spec := range plan {
		key := fmt.Sprintf("worker-%d", i)
		tasks[i] = SubTask{Key: key, Step: o.workerStep(spec, task)}
		keyed[key] = spec
	}

	batch, err := o.dispatcher.Run(ctx, tasks, o.policy, BestEffort)
	if err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(batch.Results))
	for key := range batch.Results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	outputs := make([]WorkerOutput, 0, len(keys))
	for _, key := range keys {
		outputs = append(outputs, WorkerOutput{Key: key, Spec: keyed[key], Result: batch.Results[key]})
	}
	return outputs, batch.Results, nil
}

// synthesize combines the worker outputs into one final output, failing
// when fewer than the configured minimum fraction of workers succeeded.
func (o *Orchestrator) synthesize(ctx context.Context, task string, outputs []WorkerOutput) (string, error) {
	var succeeded int
	for _, out := range outputs {
		if out.Result.OK() {
			succeeded++
		}
	}
	if len(outputs) == 0 {
		return "", core.NewPlanningError("plan contained no workers", nil)
	}
	if frac := float64(succeeded) / float64(len(outputs)); frac < o.minSuccess {
		return "", fmt.Errorf("only %d of %d workers succeeded (minimum fraction %.2f)",
			succeeded, len(outputs), o.minSuccess)
	}

	res := o.runner.Run(ctx, o.synthStep(task, outputs), o.policy)
	if !res.OK() {
		if res.Status == core.StatusCancelled {
			return "", res.Err
		}
		return "", fmt.Errorf("synthesis step failed: %w", res.Err)
	}
	return res.Output, nil
}

func (o *Orchestrator) enterStage(stage Stage) {
	ev := core.NewEvent(core.EventStageChanged)
	ev.Stage = string(stage)
	o.sink.Emit(ev)
	o.logger.Debug("stage changed", "stage", string(stage))
}

// parsePlan decodes a worker spec list from a step result, preferring the
// schema-validated structured payload when present.
func parsePlan(res core.StepResult) ([]core.WorkerSpec, error) {
	raw := res.Structured
	if raw == nil {
		raw = json.RawMessage(util.ExtractJSON(res.Output))
	}

	var plan []core.WorkerSpec
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, core.NewValidationError("plan is not a valid worker spec list", err)
	}
	if len(plan) == 0 {
		return nil, core.NewValidationError("plan is empty", nil)
	}
	for i, spec := range plan {
		if spec.Role == "" {
			return nil, core.NewValidationError(fmt.Sprintf("worker %d has no role", i), nil)
		}
	}
	return plan, nil
}

func strictPlanPrompt(prompt string) string {
	return prompt + "\n\nRespond with ONLY a JSON array of worker objects, each with \"role\" and \"task\" string fields. No prose, no markdown fences."
}
