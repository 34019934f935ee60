package engine

import (
	"fmt"
	"strings"
)

// ParseError means a declaration could not be evaluated into resources.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CycleError means the declared resources form a dependency cycle.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected in resource graph: %s",
		strings.Join(e.Members, ", "))
}

// UnknownReferenceError means an attribute or dependsOn entry names a
// resource that is not declared.
type UnknownReferenceError struct {
	Referrer  string
	Reference string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("%s references unknown resource %q", e.Referrer, e.Reference)
}

// LockHeldError means another plan/apply cycle holds the state lock.
type LockHeldError struct {
	Holder string
}

func (e *LockHeldError) Error() string {
	if e.Holder == "" {
		return "state is locked by another process"
	}
	return fmt.Sprintf("state is locked by another process (%s)", e.Holder)
}

// RemoteTransientError wraps a retryable remote API failure.
type RemoteTransientError struct {
	Err error
}

func (e *RemoteTransientError) Error() string {
	return fmt.Sprintf("transient remote error: %v", e.Err)
}

func (e *RemoteTransientError) Unwrap() error { return e.Err }

// RemoteFatalError wraps a non-retryable remote API failure, including
// transient failures that exhausted their retry budget.
type RemoteFatalError struct {
	Address string
	Err     error
}

func (e *RemoteFatalError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("remote error: %v", e.Err)
	}
	return fmt.Sprintf("remote error applying %s: %v", e.Address, e.Err)
}

func (e *RemoteFatalError) Unwrap() error { return e.Err }
