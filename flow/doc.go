// Package flow implements the five composition shapes of the engine:
// sequential chains, content-based routing, parallel fan-out/fan-in,
// orchestrated task decomposition with worker dispatch, and iterative
// generate-evaluate-refine loops.
//
// The shapes are independent strategies that all bottom out in the
// runner's bounded-concurrency scheduler; only the parallel dispatcher
// (and the orchestrator's dispatch stage, which builds on it) runs
// multiple steps of one logical request concurrently. Every entry point
// accepts a context.Context and returns either a typed result or a typed
// failure; expected outcomes such as classification uncertainty, rejected
// chain inputs, partial batch failure and exhausted refinement budgets
// are modeled as result values, not errors.
package flow
