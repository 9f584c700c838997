package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/log"
	"github.com/agentbrowser/bap/protocol"
)

// Step limits enforced before any step runs.
const (
	MinSteps      = 1
	MaxSteps      = 50
	MaxRetriesCap = 5
	MinRetryDelay = 100
	MaxRetryDelay = 5000

	defaultConditionTimeout = 5 * time.Second
)

// On-error policies.
const (
	OnErrorStop  = "stop"
	OnErrorSkip  = "skip"
	OnErrorRetry = "retry"
)

// stepMethods maps a step action to the RPC method it invokes. Actions
// outside this table are rejected up front.
var stepMethods = map[string]string{
	"click":          "action/click",
	"dblclick":       "action/dblclick",
	"fill":           "action/fill",
	"type":           "action/type",
	"press":          "action/press",
	"hover":          "action/hover",
	"scroll":         "action/scroll",
	"select":         "action/select",
	"check":          "action/check",
	"uncheck":        "action/uncheck",
	"clear":          "action/clear",
	"upload":         "action/upload",
	"drag":           "action/drag",
	"page/navigate":  "page/navigate",
	"page/reload":    "page/reload",
	"page/goBack":    "page/goBack",
	"page/goForward": "page/goForward",
}

// Condition gates a step on an element state.
type Condition struct {
	Selector string `json:"selector"`
	State    string `json:"state"` // visible, hidden, enabled, disabled, exists
	Timeout  int    `json:"timeout,omitempty"`
}

// Step is one entry of a composite action.
type Step struct {
	Label      string          `json:"label,omitempty"`
	Action     string          `json:"action"`
	Params     json.RawMessage `json:"params"`
	Condition  *Condition      `json:"condition,omitempty"`
	OnError    string          `json:"onError,omitempty"`
	MaxRetries int             `json:"maxRetries,omitempty"`
	RetryDelay int             `json:"retryDelay,omitempty"`
}

// ActOptions is the agent/act request body.
type ActOptions struct {
	Steps                   []Step          `json:"steps"`
	Timeout                 int             `json:"timeout,omitempty"`
	StopOnFirstError        *bool           `json:"stopOnFirstError,omitempty"`
	ContinueOnConditionFail bool            `json:"continueOnConditionFail"`
	PreObserve              *ObserveOptions `json:"preObserve,omitempty"`
	PostObserve             *ObserveOptions `json:"postObserve,omitempty"`
}

// StepResult reports one executed step.
type StepResult struct {
	Step     int             `json:"step"`
	Label    string          `json:"label,omitempty"`
	Success  bool            `json:"success"`
	Result   any             `json:"result,omitempty"`
	Error    *protocol.Error `json:"error,omitempty"`
	Duration int64           `json:"duration"`
	Retries  int             `json:"retries,omitempty"`
}

// ActResult is the agent/act response body. A failed step is data, not an
// error response; the request itself only errors when malformed,
// unauthorized, or expired before any step could run.
type ActResult struct {
	Success         bool         `json:"success"`
	Completed       int          `json:"completed"`
	Total           int          `json:"total"`
	Duration        int64        `json:"duration"`
	FailedAt        *int         `json:"failedAt,omitempty"`
	Steps           []StepResult `json:"steps"`
	PreObservation  *Observation `json:"preObservation,omitempty"`
	PostObservation *Observation `json:"postObservation,omitempty"`
}

// Dispatch invokes one RPC method against the session, bypassing the outer
// transport. The server wires its own dispatcher in here.
type Dispatch func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Runner executes composite actions. The condition waiter and observer are
// injected so the runner stays independent of the handler layer.
type Runner struct {
	logger         *log.Logger
	dispatch       Dispatch
	checkScope     func(method string) error
	waitCondition  func(ctx context.Context, sel, state string, timeout time.Duration) error
	defaultTimeout time.Duration
}

// NewRunner wires a composite action runner.
func NewRunner(logger *log.Logger, dispatch Dispatch, checkScope func(method string) error, waitCondition func(ctx context.Context, sel, state string, timeout time.Duration) error, defaultTimeout time.Duration) *Runner {
	return &Runner{
		logger:         logger,
		dispatch:       dispatch,
		checkScope:     checkScope,
		waitCondition:  waitCondition,
		defaultTimeout: defaultTimeout,
	}
}

// Validate rejects malformed composite actions before anything executes.
func (r *Runner) Validate(opts ActOptions) error {
	if len(opts.Steps) < MinSteps || len(opts.Steps) > MaxSteps {
		return protocol.ErrInvalidParams(fmt.Sprintf("steps must contain %d to %d entries", MinSteps, MaxSteps))
	}
	for i, step := range opts.Steps {
		method, ok := stepMethods[step.Action]
		if !ok {
			return protocol.ErrInvalidParams(fmt.Sprintf("step %d: unknown action %q", i, step.Action))
		}
		switch step.OnError {
		case "", OnErrorStop, OnErrorSkip, OnErrorRetry:
		default:
			return protocol.ErrInvalidParams(fmt.Sprintf("step %d: onError must be stop, skip or retry", i))
		}
		if step.OnError == OnErrorRetry {
			if step.MaxRetries < 1 || step.MaxRetries > MaxRetriesCap {
				return protocol.ErrInvalidParams(fmt.Sprintf("step %d: maxRetries must be in [1..%d]", i, MaxRetriesCap))
			}
			if step.RetryDelay < MinRetryDelay || step.RetryDelay > MaxRetryDelay {
				return protocol.ErrInvalidParams(fmt.Sprintf("step %d: retryDelay must be in [%d..%d]ms", i, MinRetryDelay, MaxRetryDelay))
			}
		}
		if step.Condition != nil {
			switch step.Condition.State {
			case engine.WaitVisible, engine.WaitHidden, engine.WaitEnabled, engine.WaitDisabled, engine.WaitExists:
			default:
				return protocol.ErrInvalidParams(fmt.Sprintf("step %d: unknown condition state %q", i, step.Condition.State))
			}
		}
		if err := r.checkScope(method); err != nil {
			return err
		}
	}
	return nil
}

// Run executes a validated composite action under a single global deadline.
func (r *Runner) Run(ctx context.Context, observe func(context.Context, ObserveOptions) (*Observation, error), opts ActOptions) (*ActResult, error) {
	timeout := r.defaultTimeout
	if opts.Timeout > 0 {
		timeout = time.Duration(opts.Timeout) * time.Millisecond
	}
	start := time.Now()
	deadline := start.Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	result := &ActResult{Total: len(opts.Steps)}

	// Observe failures around the sequence never alter action outcomes.
	if opts.PreObserve != nil {
		if obs, err := observe(ctx, *opts.PreObserve); err != nil {
			r.logger.Warnf("agent:act", "preObserve failed: %v", err)
		} else {
			result.PreObservation = obs
		}
	}

	stopOnFirstError := opts.StopOnFirstError == nil || *opts.StopOnFirstError
	result.Success = true
	for i, step := range opts.Steps {
		if time.Now().After(deadline) {
			idx := i
			result.FailedAt = &idx
			result.Success = false
			break
		}
		sr := r.runStep(ctx, deadline, i, step, opts.ContinueOnConditionFail)
		result.Steps = append(result.Steps, sr)
		if sr.Success {
			result.Completed++
			continue
		}
		result.Success = false
		if step.OnError == OnErrorSkip {
			continue
		}
		if stopOnFirstError {
			idx := i
			result.FailedAt = &idx
			break
		}
	}

	if opts.PostObserve != nil {
		if obs, err := observe(ctx, *opts.PostObserve); err != nil {
			r.logger.Warnf("agent:act", "postObserve failed: %v", err)
		} else {
			result.PostObservation = obs
		}
	}

	result.Duration = time.Since(start).Milliseconds()
	return result, nil
}

func (r *Runner) runStep(ctx context.Context, deadline time.Time, index int, step Step, continueOnConditionFail bool) StepResult {
	sr := StepResult{Step: index, Label: step.Label}
	stepStart := time.Now()

	if step.Condition != nil {
		condTimeout := defaultConditionTimeout
		if step.Condition.Timeout > 0 {
			condTimeout = time.Duration(step.Condition.Timeout) * time.Millisecond
		}
		if remaining := time.Until(deadline); condTimeout > remaining {
			condTimeout = remaining
		}
		if err := r.waitCondition(ctx, step.Condition.Selector, step.Condition.State, condTimeout); err != nil {
			sr.Duration = time.Since(stepStart).Milliseconds()
			if continueOnConditionFail {
				sr.Error = protocol.AsError(err)
				return sr
			}
			sr.Error = protocol.ErrInvalidParams(fmt.Sprintf("step %d: condition %s not met: %v", index, step.Condition.State, err))
			return sr
		}
	}

	method := stepMethods[step.Action]
	attempts := 1
	if step.OnError == OnErrorRetry {
		attempts = step.MaxRetries + 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(step.RetryDelay) * time.Millisecond << (attempt - 1)
			r.logger.Debugf("agent:act", "step %d retry %d after %s", index, attempt, backoff)
			select {
			case <-ctx.Done():
				sr.Error = protocol.ErrTimeout("composite action deadline exceeded")
				sr.Retries = attempt
				sr.Duration = time.Since(stepStart).Milliseconds()
				return sr
			case <-time.After(backoff):
			}
		}
		res, err := r.dispatch(ctx, method, step.Params)
		if err == nil {
			sr.Success = true
			sr.Result = res
			if attempt > 0 {
				sr.Retries = attempt + 1
			}
			sr.Duration = time.Since(stepStart).Milliseconds()
			return sr
		}
		sr.Error = protocol.AsError(err)
		if attempt > 0 {
			sr.Retries = attempt + 1
		}
		if time.Now().After(deadline) {
			break
		}
	}
	sr.Duration = time.Since(stepStart).Milliseconds()
	return sr
}
