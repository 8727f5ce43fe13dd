// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug
// in any structured logger. It also offers a FlowLogger with contextual
// helpers and domain specific logging for steps, fan-out batches and
// refinement loops.
package logging
