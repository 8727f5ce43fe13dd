package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/llmflow/core"
	"github.com/hupe1980/llmflow/model"
	"github.com/hupe1980/llmflow/runner"
)

func subTask(key, prompt string) SubTask {
	return SubTask{Key: key, Step: core.NewStep(key, model.TierFast, prompt)}
}

func TestDispatcher_BestEffortMarksFailures(t *testing.T) {
	port := model.NewMockPort()
	port.SetHandler(func(_ context.Context, req model.Request) (*model.Response, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		if strings.HasPrefix(prompt, "fail:") {
			return nil, core.NewPermanentError("broken", nil)
		}
		return &model.Response{Text: "ok:" + prompt}, nil
	})

	d := NewDispatcher(runner.New(port))
	tasks := []SubTask{
		subTask("spanish", "translate to spanish"),
		subTask("french", "fail: translate to french"),
		subTask("german", "translate to german"),
	}

	batch, err := d.Run(context.Background(), tasks, fastPolicy(0), BestEffort)

	require.NoError(t, err)
	require.Len(t, batch.Results, 3)
	assert.Equal(t, []string{"french"}, batch.Failed)
	assert.Equal(t, core.StatusFailed, batch.Results["french"].Status)
	assert.Equal(t, core.StatusSuccess, batch.Results["spanish"].Status)
	assert.Equal(t, core.StatusSuccess, batch.Results["german"].Status)
	assert.False(t, batch.AllSucceeded())
}

func TestDispatcher_TimedOutSubTaskMarked(t *testing.T) {
	port := model.NewMockPort()
	port.SetHandler(func(ctx context.Context, req model.Request) (*model.Response, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		if strings.HasPrefix(prompt, "slow:") {
			select {
			case <-time.After(200 * time.Millisecond):
				return &model.Response{Text: "too late"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &model.Response{Text: "ok"}, nil
	})

	d := NewDispatcher(runner.New(port))
	policy := fastPolicy(2)
	policy.Timeout = 10 * time.Millisecond

	batch, err := d.Run(context.Background(), []SubTask{
		subTask("one", "quick"),
		subTask("two", "slow: hang"),
		subTask("three", "also quick"),
	}, policy, BestEffort)

	require.NoError(t, err)
	require.Len(t, batch.Results, 3)
	assert.Equal(t, core.StatusTimedOut, batch.Results["two"].Status)
	assert.Equal(t, 3, batch.Results["two"].Attempts)
	assert.Equal(t, core.StatusSuccess, batch.Results["one"].Status)
	assert.Equal(t, core.StatusSuccess, batch.Results["three"].Status)
}

func TestDispatcher_RunsConcurrently(t *testing.T) {
	port := model.NewMockPort()
	port.SetHandler(func(ctx context.Context, _ model.Request) (*model.Response, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return &model.Response{Text: "ok"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	d := NewDispatcher(runner.New(port, func(o *runner.Options) { o.Concurrency = 4 }))
	tasks := []SubTask{subTask("a", "1"), subTask("b", "2"), subTask("c", "3")}

	batch, err := d.Run(context.Background(), tasks, fastPolicy(0), BestEffort)

	require.NoError(t, err)
	// Total elapsed time tracks the slowest sub-task, not the sum.
	assert.GreaterOrEqual(t, batch.Elapsed, 100*time.Millisecond)
	assert.Less(t, batch.Elapsed, 250*time.Millisecond)
}

func TestDispatcher_AllOrNothingFailsBatch(t *testing.T) {
	port := model.NewMockPort()
	port.SetHandler(func(_ context.Context, req model.Request) (*model.Response, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		if strings.HasPrefix(prompt, "fail:") {
			return nil, core.NewPermanentError("broken", nil)
		}
		return &model.Response{Text: "ok"}, nil
	})

	d := NewDispatcher(runner.New(port))

	_, err := d.Run(context.Background(), []SubTask{
		subTask("a", "fine"),
		subTask("b", "fail: nope"),
	}, fastPolicy(0), AllOrNothing)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, []string{"b"}, batchErr.Failed)
}

func TestDispatcher_CancelledBeforeStartInvokesNothing(t *testing.T) {
	port := model.NewMockPort()
	d := NewDispatcher(runner.New(port))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, []SubTask{subTask("a", "1"), subTask("b", "2")}, fastPolicy(0), BestEffort)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, port.Calls())
}

func TestDispatcher_CancelledMidRunReturnsError(t *testing.T) {
	port := model.NewMockPort()
	port.SetHandler(func(ctx context.Context, _ model.Request) (*model.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	d := NewDispatcher(runner.New(port))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := d.Run(ctx, []SubTask{subTask("a", "1")}, fastPolicy(0), BestEffort)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_RejectsDuplicateKeys(t *testing.T) {
	port := model.NewMockPort()
	d := NewDispatcher(runner.New(port))

	_, err := d.Run(context.Background(), []SubTask{
		subTask("same", "1"),
		subTask("same", "2"),
	}, fastPolicy(0), BestEffort)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
	assert.Equal(t, 0, port.Calls())
}
