package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrowser/bap/log"
	"github.com/agentbrowser/bap/protocol"
)

func okScope(string) error { return nil }

func okCondition(context.Context, string, string, time.Duration) error { return nil }

func newTestRunner(dispatch Dispatch) *Runner {
	return NewRunner(log.NewNullLogger(), dispatch, okScope, okCondition, 30*time.Second)
}

func clickStep() Step {
	return Step{Action: "click", Params: json.RawMessage(`{"selector":"#go"}`)}
}

func TestRunnerValidate(t *testing.T) {
	t.Parallel()

	r := newTestRunner(nil)

	tests := []struct {
		name string
		opts ActOptions
		ok   bool
	}{
		{"single step", ActOptions{Steps: []Step{clickStep()}}, true},
		{"no steps", ActOptions{}, false},
		{"too many steps", ActOptions{Steps: make([]Step, MaxSteps+1)}, false},
		{"unknown action", ActOptions{Steps: []Step{{Action: "evaluate"}}}, false},
		{"bad onError", ActOptions{Steps: []Step{{Action: "click", OnError: "panic"}}}, false},
		{"retry missing bounds", ActOptions{Steps: []Step{{Action: "click", OnError: OnErrorRetry}}}, false},
		{"retry maxRetries too high", ActOptions{Steps: []Step{{Action: "click", OnError: OnErrorRetry, MaxRetries: 6, RetryDelay: 200}}}, false},
		{"retry delay too low", ActOptions{Steps: []Step{{Action: "click", OnError: OnErrorRetry, MaxRetries: 2, RetryDelay: 50}}}, false},
		{"retry delay too high", ActOptions{Steps: []Step{{Action: "click", OnError: OnErrorRetry, MaxRetries: 2, RetryDelay: 6000}}}, false},
		{"retry valid", ActOptions{Steps: []Step{{Action: "click", OnError: OnErrorRetry, MaxRetries: 3, RetryDelay: 100}}}, true},
		{"bad condition state", ActOptions{Steps: []Step{{Action: "click", Condition: &Condition{Selector: "#x", State: "spinning"}}}}, false},
		{"valid condition", ActOptions{Steps: []Step{{Action: "click", Condition: &Condition{Selector: "#x", State: "visible"}}}}, true},
		{"navigation action", ActOptions{Steps: []Step{{Action: "page/navigate", Params: json.RawMessage(`{"url":"https://example.com"}`)}}}, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := r.Validate(tc.opts)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				var perr *protocol.Error
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, protocol.CodeInvalidParams, perr.Code)
			}
		})
	}
}

func TestRunnerValidateScopeDenied(t *testing.T) {
	t.Parallel()

	denied := protocol.ErrUnauthorized("action:click", nil)
	r := NewRunner(log.NewNullLogger(), nil, func(method string) error {
		if method == "action/click" {
			return denied
		}
		return nil
	}, okCondition, time.Second)

	err := r.Validate(ActOptions{Steps: []Step{clickStep()}})
	assert.ErrorIs(t, err, denied)

	assert.NoError(t, r.Validate(ActOptions{Steps: []Step{{Action: "hover"}}}))
}

func TestRunnerRunAllSteps(t *testing.T) {
	t.Parallel()

	var methods []string
	r := newTestRunner(func(_ context.Context, method string, _ json.RawMessage) (any, error) {
		methods = append(methods, method)
		return map[string]any{"ok": true}, nil
	})

	res, err := r.Run(context.Background(), nil, ActOptions{Steps: []Step{
		{Action: "fill", Params: json.RawMessage(`{"selector":"#q","value":"go"}`)},
		{Action: "press", Params: json.RawMessage(`{"key":"Enter"}`)},
	}})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 2, res.Total)
	assert.Nil(t, res.FailedAt)
	assert.Equal(t, []string{"action/fill", "action/press"}, methods)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[0].Success)
	assert.Zero(t, res.Steps[0].Retries)
}

func TestRunnerStopsOnFirstError(t *testing.T) {
	t.Parallel()

	calls := 0
	r := newTestRunner(func(_ context.Context, method string, _ json.RawMessage) (any, error) {
		calls++
		if method == "action/click" {
			return nil, protocol.ErrElementNotFound("#gone")
		}
		return nil, nil
	})

	res, err := r.Run(context.Background(), nil, ActOptions{Steps: []Step{
		{Action: "hover"},
		clickStep(),
		{Action: "press"},
	}})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Completed)
	require.NotNil(t, res.FailedAt)
	assert.Equal(t, 1, *res.FailedAt)
	assert.Equal(t, 2, calls, "third step must not run")
	require.Len(t, res.Steps, 2)
	require.NotNil(t, res.Steps[1].Error)
	assert.Equal(t, protocol.CodeElementNotFound, res.Steps[1].Error.Code)
}

func TestRunnerSkipContinues(t *testing.T) {
	t.Parallel()

	r := newTestRunner(func(_ context.Context, method string, _ json.RawMessage) (any, error) {
		if method == "action/click" {
			return nil, protocol.ErrElementNotFound("#gone")
		}
		return nil, nil
	})

	res, err := r.Run(context.Background(), nil, ActOptions{Steps: []Step{
		{Action: "click", OnError: OnErrorSkip, Params: json.RawMessage(`{}`)},
		{Action: "press"},
	}})
	require.NoError(t, err)

	assert.False(t, res.Success, "a skipped failure still marks the sequence failed")
	assert.Equal(t, 1, res.Completed)
	assert.Nil(t, res.FailedAt)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[1].Success)
}

func TestRunnerContinueWhenStopDisabled(t *testing.T) {
	t.Parallel()

	r := newTestRunner(func(_ context.Context, method string, _ json.RawMessage) (any, error) {
		if method == "action/click" {
			return nil, protocol.ErrElementNotFound("#gone")
		}
		return nil, nil
	})

	stop := false
	res, err := r.Run(context.Background(), nil, ActOptions{
		Steps:            []Step{clickStep(), {Action: "press"}},
		StopOnFirstError: &stop,
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Completed)
	assert.Nil(t, res.FailedAt)
	require.Len(t, res.Steps, 2)
}

func TestRunnerRetryBackoff(t *testing.T) {
	t.Parallel()

	attempts := 0
	r := newTestRunner(func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, protocol.ErrElementNotFound("#flaky")
		}
		return map[string]any{"ok": true}, nil
	})

	start := time.Now()
	res, err := r.Run(context.Background(), nil, ActOptions{Steps: []Step{{
		Action:     "click",
		Params:     json.RawMessage(`{}`),
		OnError:    OnErrorRetry,
		MaxRetries: 3,
		RetryDelay: 200,
	}}})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, attempts)
	require.Len(t, res.Steps, 1)
	assert.True(t, res.Steps[0].Success)
	assert.Equal(t, 3, res.Steps[0].Retries)

	// Exponential backoff: 200ms then 400ms between the three attempts.
	assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
}

func TestRunnerRetriesExhausted(t *testing.T) {
	t.Parallel()

	attempts := 0
	r := newTestRunner(func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
		attempts++
		return nil, protocol.ErrElementNotFound("#gone")
	})

	res, err := r.Run(context.Background(), nil, ActOptions{Steps: []Step{{
		Action:     "click",
		Params:     json.RawMessage(`{}`),
		OnError:    OnErrorRetry,
		MaxRetries: 2,
		RetryDelay: 100,
	}}})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 3, attempts)
	require.Len(t, res.Steps, 1)
	assert.False(t, res.Steps[0].Success)
	assert.Equal(t, 3, res.Steps[0].Retries)
}

func TestRunnerConditionFailure(t *testing.T) {
	t.Parallel()

	condErr := protocol.ErrTimeout("waiting for visibility")
	waitFail := func(context.Context, string, string, time.Duration) error { return condErr }

	dispatched := 0
	dispatch := Dispatch(func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
		dispatched++
		return nil, nil
	})

	step := Step{Action: "click", Params: json.RawMessage(`{}`), Condition: &Condition{Selector: "#x", State: "visible"}}

	r := NewRunner(log.NewNullLogger(), dispatch, okScope, waitFail, time.Second)
	res, err := r.Run(context.Background(), nil, ActOptions{Steps: []Step{step}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, dispatched, "the action must not run when its condition fails")

	// With continueOnConditionFail the step is reported failed but the
	// sequence moves on.
	res, err = r.Run(context.Background(), nil, ActOptions{
		Steps:                   []Step{step, {Action: "press"}},
		ContinueOnConditionFail: true,
		StopOnFirstError:        func() *bool { b := false; return &b }(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	require.Len(t, res.Steps, 2)
	assert.NotNil(t, res.Steps[0].Error)
	assert.True(t, res.Steps[1].Success)
}

func TestRunnerGlobalDeadline(t *testing.T) {
	t.Parallel()

	r := newTestRunner(func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
		select {
		case <-ctx.Done():
			return nil, protocol.ErrTimeout("operation timed out")
		case <-time.After(200 * time.Millisecond):
			return nil, nil
		}
	})

	res, err := r.Run(context.Background(), nil, ActOptions{
		Steps:   []Step{clickStep(), clickStep(), clickStep()},
		Timeout: 250,
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	require.NotNil(t, res.FailedAt)
	assert.Less(t, res.Completed, 3)
}

func TestRunnerObservationsAroundSteps(t *testing.T) {
	t.Parallel()

	r := newTestRunner(func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
		return nil, nil
	})

	observeCalls := 0
	observe := func(_ context.Context, _ ObserveOptions) (*Observation, error) {
		observeCalls++
		return &Observation{URL: "https://example.com/"}, nil
	}

	res, err := r.Run(context.Background(), observe, ActOptions{
		Steps:       []Step{clickStep()},
		PreObserve:  &ObserveOptions{},
		PostObserve: &ObserveOptions{},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, observeCalls)
	require.NotNil(t, res.PreObservation)
	require.NotNil(t, res.PostObservation)
	assert.True(t, res.Success)
}

func TestRunnerObserveFailureDoesNotAffectOutcome(t *testing.T) {
	t.Parallel()

	r := newTestRunner(func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
		return nil, nil
	})

	observe := func(_ context.Context, _ ObserveOptions) (*Observation, error) {
		return nil, protocol.ErrTimeout("screenshot timed out")
	}

	res, err := r.Run(context.Background(), observe, ActOptions{
		Steps:      []Step{clickStep()},
		PreObserve: &ObserveOptions{},
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Nil(t, res.PreObservation)
}
