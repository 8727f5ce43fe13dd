// Package runner provides the shared execution substrate of the
// composition engine: a bounded-concurrency step scheduler with per-call
// timeout, retry-with-backoff and cancellation propagation. All
// composition shapes submit their generation calls through a Runner.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/internal/util"
	"github.com/hupe1980/llmflow/logging"
	"github.com/hupe1980/llmflow/model"
)

// DefaultConcurrency is the admission pool size used when none is configured.
const DefaultConcurrency = 4

// Options configures a Runner instance.
type Options struct {
	// Concurrency is the fixed size of the admission slot pool bounding
	// in-flight generation calls. Callers exceeding the bound wait for a
	// slot rather than being rejected.
	Concurrency int

	// RateLimit optionally bounds the request rate towards the
	// generation service client-side. Zero disables rate limiting.
	RateLimit rate.Limit

	// RateBurst is the burst size for the rate limiter.
	RateBurst int

	// Logger receives structured execution logs. Defaults to NoOpLogger.
	Logger logging.Logger

	// Sink receives observability events. Defaults to NoOpSink.
	Sink core.Sink
}

// Runner executes steps against a generation port under a retry policy,
// bounding concurrency through a fixed-size semaphore shared by every
// component that submits work.
type Runner struct {
	port    model.Port
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	logger  logging.Logger
	sink    core.Sink
}

// New creates a Runner around a generation port with optional overrides.
func New(port model.Port, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Concurrency: DefaultConcurrency,
		Logger:      logging.NoOpLogger{},
		Sink:        core.NoOpSink{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Sink == nil {
		opts.Sink = core.NoOpSink{}
	}

	r := &Runner{
		port:   port,
		sem:    semaphore.NewWeighted(int64(opts.Concurrency)),
		logger: opts.Logger,
		sink:   opts.Sink,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return r
}

// Logger returns the runner's logger for components that do not carry
// their own.
func (r *Runner) Logger() logging.Logger { return r.logger }

// Sink returns the runner's observability sink.
func (r *Runner) Sink() core.Sink { return r.sink }

// Run executes a step to a terminal StepResult under the given policy.
//
// The call acquires an admission slot (waiting if the pool is exhausted),
// then attempts the generation call up to 1+MaxRetries times. Transient
// failures wait the policy's backoff interval between attempts;
// non-transient failures terminate immediately. Cancellation of ctx
// aborts the in-flight call and yields a Cancelled result.
func (r *Runner) Run(ctx context.Context, step core.Step, policy Policy) core.StepResult {
	start := time.Now()
	res := core.StepResult{StepID: step.ID, StepName: step.Name}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		res.Status = core.StatusCancelled
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}
	defer r.sem.Release(1)

	r.emitStep(core.EventStepStarted, step, res)

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			ev := core.NewEvent(core.EventStepRetried)
			ev.StepID, ev.StepName, ev.Attempt = step.ID, step.Name, attempt
			r.sink.Emit(ev)

			select {
			case <-ctx.Done():
				return r.finish(step, res, core.StatusCancelled, ctx.Err(), start)
			case <-time.After(policy.Backoff(attempt - 1)):
			}
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return r.finish(step, res, core.StatusCancelled, err, start)
			}
		}

		res.Attempts = attempt + 1

		text, structured, err := r.invokeOnce(ctx, step, policy.Timeout)
		if err == nil {
			res.Output = text
			res.Structured = structured
			return r.finish(step, res, core.StatusSuccess, nil, start)
		}
		lastErr = err

		if ctx.Err() != nil {
			return r.finish(step, res, core.StatusCancelled, ctx.Err(), start)
		}
		if !retryable(err, policy) {
			break
		}
		r.logger.Debug("retrying step", "step", step.Name, "attempt", attempt+1, "error", err)
	}

	status := core.StatusFailed
	if errors.Is(lastErr, context.DeadlineExceeded) {
		status = core.StatusTimedOut
	}
	return r.finish(step, res, status, lastErr, start)
}

// invokeOnce performs one generation call with the per-attempt timeout
// and, when the step carries a schema, extracts and validates the
// structured payload from the response.
func (r *Runner) invokeOnce(ctx context.Context, step core.Step, timeout time.Duration) (string, json.RawMessage, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var messages []core.Turn
	if step.System != "" {
		messages = append(messages, core.Turn{Role: "system", Content: step.System})
	}
	messages = append(messages, core.Turn{Role: "user", Content: step.Prompt})

	resp, err := r.port.Invoke(attemptCtx, model.Request{
		Tier:     step.Tier,
		Messages: messages,
		Schema:   step.Schema,
	})
	if err != nil {
		return "", nil, err
	}

	if step.Schema == nil {
		return resp.Text, nil, nil
	}

	doc := util.ExtractJSON(resp.Text)
	if err := util.ValidateJSON([]byte(doc), step.Schema); err != nil {
		return "", nil, core.NewValidationError("response failed schema validation", err)
	}
	return resp.Text, json.RawMessage(doc), nil
}

func (r *Runner) finish(step core.Step, res core.StepResult, status core.Status, err error, start time.Time) core.StepResult {
	res.Status = status
	res.Err = err
	res.Elapsed = time.Since(start)

	r.emitStep(core.EventStepFinished, step, res)
	r.logger.Debug("step finished",
		"step", step.Name,
		"status", string(status),
		"attempts", res.Attempts,
		"elapsed", res.Elapsed,
	)
	return res
}

func (r *Runner) emitStep(kind core.EventKind, step core.Step, res core.StepResult) {
	ev := core.NewEvent(kind)
	ev.StepID, ev.StepName = step.ID, step.Name
	ev.Status = res.Status
	ev.Elapsed = res.Elapsed
	ev.Attempt = res.Attempts
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	r.sink.Emit(ev)
}

func retryable(err error, policy Policy) bool {
	switch core.CategoryOf(err) {
	case core.CategoryTransient:
		return true
	case core.CategoryValidation:
		return policy.RetryOnValidation
	default:
		return false
	}
}
