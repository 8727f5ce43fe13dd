package flow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/logging"
	"github.com/hupe1980/llmflow/runner"
)

// FailureMode selects the partial-failure policy of a parallel batch.
type FailureMode int

const (
	// BestEffort returns the full result mapping with failed entries
	// marked, letting the caller decide what to do with partial results.
	// This is the default so that, e.g., one translation failing does not
	// discard the others.
	BestEffort FailureMode = iota

	// AllOrNothing fails the whole batch on any sub-task failure;
	// outstanding siblings are cancelled.
	AllOrNothing
)

// SubTask pairs a caller-chosen key with the step to execute. Keys
// preserve the association between each result and its originating
// sub-task across the fan-out/fan-in boundary.
type SubTask struct {
	Key  string
	Step core.Step
}

// BatchResult is the fan-in outcome of a parallel run. Results always
// contains exactly one entry per submitted sub-task.
type BatchResult struct {
	Results map[string]core.StepResult // Per-key terminal results
	Failed  []string                   // Keys of sub-tasks that did not succeed, sorted
	Elapsed time.Duration              // Total wall time of the batch
}

// AllSucceeded reports whether every sub-task succeeded.
func (b *BatchResult) AllSucceeded() bool { return len(b.Failed) == 0 }

// BatchError is returned under the all-or-nothing policy when any
// sub-task fails.
type BatchError struct {
	Failed  []string                   // Keys of failed sub-tasks, sorted
	Results map[string]core.StepResult // Results gathered before the batch was abandoned
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("batch failed: %s", strings.Join(e.Failed, ", "))
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Logger logging.Logger
	Sink   core.Sink
}

// Dispatcher fans a set of independent sub-tasks out through the runner
// and fans their results back in. Concurrency is bounded by the runner's
// admission pool, so a large fan-out degrades to queued execution rather
// than unbounded concurrency. Fan-in waits for every sub-task to reach a
// terminal state; no caller observes partial fan-in.
type Dispatcher struct {
	runner *runner.Runner
	logger logging.Logger
	sink   core.Sink
}

// NewDispatcher creates a parallel dispatcher over the shared runner.
func NewDispatcher(r *runner.Runner, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{Logger: r.Logger(), Sink: r.Sink()}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{runner: r, logger: opts.Logger, sink: opts.Sink}
}

// Run executes all sub-tasks concurrently and waits for full fan-in.
//
// Cancellation before any sub-task starts results in zero generation
// calls and a context error; cancellation mid-run aborts in-flight calls
// and returns the context error rather than a partial result.
func (d *Dispatcher) Run(ctx context.Context, tasks []SubTask, policy runner.Policy, mode FailureMode) (*BatchResult, error) {
	if err := validateKeys(tasks); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	d.sink.Emit(core.NewEvent(core.EventFanOutStarted))
	d.logger.Debug("fan-out started", "tasks", len(tasks), "mode", mode)

	var (
		batch *BatchResult
		err   error
	)
	if mode == AllOrNothing {
		batch, err = d.runAllOrNothing(ctx, tasks, policy)
	} else {
		batch, err = d.runBestEffort(ctx, tasks, policy)
	}
	if err != nil {
		return nil, err
	}

	batch.Elapsed = time.Since(start)

	ev := core.NewEvent(core.EventFanInCompleted)
	ev.Elapsed = batch.Elapsed
	d.sink.Emit(ev)
	d.logger.Debug("fan-in completed", "tasks", len(tasks), "failed", len(batch.Failed), "elapsed", batch.Elapsed)

	if mode == AllOrNothing && !batch.AllSucceeded() {
		return nil, &BatchError{Failed: batch.Failed, Results: batch.Results}
	}
	return batch, nil
}

func (d *Dispatcher) runBestEffort(ctx context.Context, tasks []SubTask, policy runner.Policy) (*BatchResult, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]core.StepResult, len(tasks))
	)

	for _, task := range tasks {
		// Never submit unstarted sub-tasks once cancellation is observed.
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(t SubTask) {
			defer wg.Done()
			res := d.runner.Run(ctx, t.Step, policy)
			mu.Lock()
			results[t.Key] = res
			mu.Unlock()
		}(task)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &BatchResult{Results: results}
	for key, res := range results {
		if !res.OK() {
			batch.Failed = append(batch.Failed, key)
		}
	}
	sort.Strings(batch.Failed)
	return batch, nil
}

func (d *Dispatcher) runAllOrNothing(ctx context.Context, tasks []SubTask, policy runner.Policy) (*BatchResult, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]core.StepResult, len(tasks))
	)

	g, groupCtx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			res := d.runner.Run(groupCtx, task.Step, policy)
			mu.Lock()
			results[task.Key] = res
			mu.Unlock()
			if !res.OK() && res.Status != core.StatusCancelled {
				return fmt.Errorf("sub-task %s failed: %w", task.Key, res.Err)
			}
			return nil
		})
	}
	groupErr := g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &BatchResult{Results: results}
	for key, res := range results {
		if !res.OK() {
			batch.Failed = append(batch.Failed, key)
		}
	}
	sort.Strings(batch.Failed)

	if groupErr != nil && len(batch.Failed) == 0 {
		return nil, groupErr
	}
	return batch, nil
}

func validateKeys(tasks []SubTask) error {
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if t.Key == "" {
			return core.NewPermanentError("sub-task key must not be empty", nil)
		}
		if _, dup := seen[t.Key]; dup {
			return core.NewPermanentError(fmt.Sprintf("duplicate sub-task key %q", t.Key), nil)
		}
		seen[t.Key] = struct{}{}
	}
	return nil
}
