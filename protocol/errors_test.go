package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEngineError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		msg       string
		code      int
		retryable bool
	}{
		{"timeout 30s exceeded", CodeTimeout, true},
		{"context deadline exceeded", CodeTimeout, true},
		{"target closed", CodeTargetClosed, false},
		{"Execution context was destroyed", CodeExecutionContextDestroyed, false},
		{"element is not visible", CodeElementNotVisible, true},
		{"waiting for selector to be visible", CodeElementNotVisible, true},
		{"timeout waiting for #save to be visible", CodeElementNotVisible, true},
		{"element is not enabled", CodeElementNotEnabled, true},
		{"timeout waiting for #save to be enabled", CodeElementNotEnabled, true},
		{"timeout waiting for #save to be hidden", CodeTimeout, true},
		{"strict mode violation: resolved to 3 elements", CodeSelectorAmbiguous, true},
		{"no node found for selector", CodeElementNotFound, true},
		{`page load error net::ERR_NAME_NOT_RESOLVED`, CodeNavigationFailed, true},
		{"something exotic happened", CodeInternalError, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.msg, func(t *testing.T) {
			t.Parallel()
			e := FromEngineError(errors.New(tt.msg))
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.retryable, e.Retryable())
		})
	}
}

func TestFromEngineErrorNavigationRetryHint(t *testing.T) {
	t.Parallel()
	e := FromEngineError(errors.New("net::ERR_CONNECTION_REFUSED"))
	require.NotNil(t, e.Data)
	assert.Equal(t, int64(1000), e.Data.RetryAfterMs)
}

func TestFromEngineErrorPassesThroughProtocolErrors(t *testing.T) {
	t.Parallel()
	orig := ErrElementNotFound("#save")
	e := FromEngineError(fmt.Errorf("clicking: %w", orig))
	assert.Same(t, orig, e)
}

func TestAsErrorNeverLeaksInternals(t *testing.T) {
	t.Parallel()
	e := AsError(errors.New("pq: connection refused on 10.0.0.3:5432"))
	assert.Equal(t, CodeInternalError, e.Code)
	assert.Equal(t, "Internal error", e.Message)
}

func TestErrUnauthorizedCarriesScopes(t *testing.T) {
	t.Parallel()
	e := ErrUnauthorized("action/click", []string{"action:click", "action:*"})
	require.NotNil(t, e.Data)
	assert.Equal(t, []string{"action:click", "action:*"}, e.Data.Details["requiredScopes"])
	assert.False(t, e.Retryable())
}

func TestErrRateLimitedShape(t *testing.T) {
	t.Parallel()
	e := ErrRateLimited("request", 740)
	assert.Equal(t, CodeRateLimited, e.Code)
	assert.True(t, e.Retryable())
	assert.Equal(t, int64(740), e.Data.RetryAfterMs)
	assert.Equal(t, "request", e.Data.Details["dimension"])
}
