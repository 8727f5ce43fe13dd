// Package core contains the shared data model of the composition engine:
// steps and their results, conversation state, classification and worker
// specifications, evaluation results, the error taxonomy and the
// observability event types consumed by every composition shape.
//
// The package is deliberately free of execution logic. Scheduling lives in
// the runner package and the composition shapes live in the flow package;
// both operate exclusively on the types defined here.
package core
