package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

// DefaultTimeout is the default per-resource operation timeout.
const DefaultTimeout = 30 * time.Minute

// DefaultRetryMax is the maximum number of attempts for transient errors.
const DefaultRetryMax = 5

// RetryPolicy defines retry behavior for transient cloud API errors.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: DefaultRetryMax,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryWithBackoff executes fn with exponential backoff and jitter. It
// retries only while shouldRetry returns true; a retryable error that
// exhausts the attempt budget is returned wrapped in RemoteFatalError.
func RetryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) {
			return &RemoteFatalError{Err: lastErr}
		}
		lastErr = &RemoteTransientError{Err: lastErr}

		if attempt < policy.MaxAttempts-1 {
			delay := calculateBackoff(attempt, policy.BaseDelay, policy.MaxDelay)
			select {
			case <-ctx.Done():
				return &RemoteFatalError{Err: errors.Join(ctx.Err(), lastErr)}
			case <-time.After(delay):
			}
		}
	}

	return &RemoteFatalError{Err: lastErr}
}

// calculateBackoff returns exponential backoff with full jitter.
func calculateBackoff(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff)
}

// transientAPICodes are AWS error codes worth retrying: throttling, internal
// failures, and the NotFound variants that show up when a dependent call
// races the eventual consistency of a resource created moments earlier.
var transientAPICodes = map[string]bool{
	"Throttling":                   true,
	"ThrottlingException":          true,
	"RequestLimitExceeded":         true,
	"TooManyRequestsException":     true,
	"ServiceUnavailable":           true,
	"InternalError":                true,
	"InternalFailure":              true,
	"RequestTimeout":               true,
	"InvalidVpcID.NotFound":        true,
	"InvalidSubnetID.NotFound":     true,
	"InvalidGroup.NotFound":        true,
	"InvalidGatewayID.NotFound":    true,
	"InvalidRouteTableID.NotFound": true,
	"DependencyViolation":          true,
}

// IsTransientError reports whether an error is likely transient. AWS API
// errors are classified by code via smithy; anything else falls back to
// matching common network failure text.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientAPICodes[apiErr.ErrorCode()] {
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"throttl",
		"rate exceed",
		"too many requests",
		"request limit",
		"service unavailable",
		"internal server error",
		"connection reset",
		"connection refused",
		"timeout",
		"tls handshake",
		"i/o timeout",
		"temporary failure",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
