// Package llmflow provides a high-level façade over the composition
// engine: a shared bounded-concurrency runner plus convenience
// constructors for the five composition shapes (chain, router, parallel
// dispatcher, orchestrator and evaluator-optimizer loop). Most
// applications interact with this package by:
//  1. Creating an Engine via New() around a generation port (a provider
//     adapter from model/anthropic or model/openai, or any model.Port)
//  2. Building one or more shapes through the New* helpers
//  3. Running them with a context, a task input and optionally a
//     caller-owned conversation state
//
// The façade only wires the shared runner into each shape; all
// orchestration semantics live in the flow package. Defaults are safe for
// local development and testing; production deployments typically supply
// a structured logger and an observability sink.
package llmflow

import (
	"golang.org/x/time/rate"

	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/flow"
	"github.com/hupe1980/llmflow/logging"
	"github.com/hupe1980/llmflow/model"
	"github.com/hupe1980/llmflow/runner"
)

// Options configures the Engine instance.
type Options struct {
	// Concurrency is the size of the admission slot pool shared by every
	// shape built from this engine.
	Concurrency int

	// RateLimit optionally bounds the client-side request rate towards
	// the generation service. Zero disables rate limiting.
	RateLimit rate.Limit

	// RateBurst is the burst size for the rate limiter.
	RateBurst int

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// Sink receives structured observability events (defaults to NoOp).
	Sink core.Sink
}

// Engine aggregates the shared runner that every composition shape built
// through it submits work to.
type Engine struct {
	opts   Options
	runner *runner.Runner
}

// New creates an Engine around a generation port with optional overrides.
func New(port model.Port, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Concurrency: runner.DefaultConcurrency,
		Logger:      logging.NoOpLogger{},
		Sink:        core.NoOpSink{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := runner.New(port, func(o *runner.Options) {
		o.Concurrency = opts.Concurrency
		o.RateLimit = opts.RateLimit
		o.RateBurst = opts.RateBurst
		o.Logger = opts.Logger
		o.Sink = opts.Sink
	})

	return &Engine{opts: opts, runner: r}
}

// Runner exposes the shared step runner for callers composing shapes
// directly from the flow package.
func (e *Engine) Runner() *runner.Runner { return e.runner }

// NewChain builds a sequential chain over the shared runner.
func (e *Engine) NewChain(steps []flow.ChainStep, optFns ...func(o *flow.ChainOptions)) *flow.Chain {
	return flow.NewChain(e.runner, steps, optFns...)
}

// NewRouter builds a content router over the shared runner.
func (e *Engine) NewRouter(classify func(input string) core.Step, optFns ...func(o *flow.RouterOptions)) *flow.Router {
	return flow.NewRouter(e.runner, classify, optFns...)
}

// NewDispatcher builds a parallel dispatcher over the shared runner.
func (e *Engine) NewDispatcher(optFns ...func(o *flow.DispatcherOptions)) *flow.Dispatcher {
	return flow.NewDispatcher(e.runner, optFns...)
}

// NewOrchestrator builds an orchestrator over the shared runner and a
// dedicated parallel dispatcher.
func (e *Engine) NewOrchestrator(
	planStep func(task string) core.Step,
	workerStep func(spec core.WorkerSpec, task string) core.Step,
	synthStep func(task string, outputs []flow.WorkerOutput) core.Step,
	optFns ...func(o *flow.OrchestratorOptions),
) *flow.Orchestrator {
	return flow.NewOrchestrator(e.runner, flow.NewDispatcher(e.runner), planStep, workerStep, synthStep, optFns...)
}

// NewLoop builds an evaluator-optimizer loop over the shared runner.
func (e *Engine) NewLoop(
	generate func(input, prior string, feedback []core.Criterion) core.Step,
	evaluate func(input, candidate string) core.Step,
	optFns ...func(o *flow.LoopOptions),
) *flow.Loop {
	return flow.NewLoop(e.runner, generate, evaluate, optFns...)
}
