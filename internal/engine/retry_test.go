package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}, IsTransientError)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_FatalErrorStopsImmediately(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		attempts++
		return errors.New("InvalidParameterValue")
	}, IsTransientError)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var fatal *RemoteFatalError
	assert.ErrorAs(t, err, &fatal)
}

func TestRetryWithBackoff_ExhaustedBudgetIsFatal(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(), func() error {
		attempts++
		return errors.New("throttled: rate exceeded")
	}, IsTransientError)

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	// exhausted transient failures are reported fatal, but the transient
	// classification is preserved in the chain
	var fatal *RemoteFatalError
	require.ErrorAs(t, err, &fatal)
	var transient *RemoteTransientError
	assert.ErrorAs(t, err, &transient)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := RetryWithBackoff(ctx, fastPolicy(), func() error {
		attempts++
		return errors.New("service unavailable")
	}, IsTransientError)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

type stubAPIError struct {
	code  string
	fault smithy.ErrorFault
}

func (e *stubAPIError) Error() string                 { return e.code }
func (e *stubAPIError) ErrorCode() string             { return e.code }
func (e *stubAPIError) ErrorMessage() string          { return e.code }
func (e *stubAPIError) ErrorFault() smithy.ErrorFault { return e.fault }

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttling code", &stubAPIError{code: "ThrottlingException", fault: smithy.FaultClient}, true},
		{"request limit", &stubAPIError{code: "RequestLimitExceeded", fault: smithy.FaultClient}, true},
		{"eventual consistency", &stubAPIError{code: "InvalidVpcID.NotFound", fault: smithy.FaultClient}, true},
		{"server fault", &stubAPIError{code: "SomethingBroke", fault: smithy.FaultServer}, true},
		{"client fault", &stubAPIError{code: "ValidationError", fault: smithy.FaultClient}, false},
		{"network text", errors.New("dial tcp: i/o timeout"), true},
		{"plain failure", errors.New("no such file"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	for attempt := 0; attempt < 8; attempt++ {
		d := calculateBackoff(attempt, base, max)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, max)
	}
}
