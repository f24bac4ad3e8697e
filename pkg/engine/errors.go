package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorClass represents the classification of an engine error.
type ErrorClass string

const (
	// ErrorClassValidation indicates the desired state was rejected before any mutation.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassRemote indicates a remote create/update/delete call failed.
	ErrorClassRemote ErrorClass = "remote"

	// ErrorClassUnavailable indicates the tenant lacks a feature or scope.
	// This is the only class the engine recovers from automatically.
	ErrorClassUnavailable ErrorClass = "unavailable"

	// ErrorClassTimeout indicates a bounded wait exceeded its attempt budget.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassPermanent indicates a non-recoverable configuration or programming error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource type that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceType string) *EngineError {
	e.Resource = resourceType
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// Common error codes.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeDuplicate      = "DUPLICATE_IDENTIFIER"
	ErrCodePriority       = "INVALID_PRIORITY"
	ErrCodeDependency     = "INVALID_DEPENDENCY"
	ErrCodeUnknownType    = "UNKNOWN_RESOURCE_TYPE"
	ErrCodeListerKind     = "UNSUPPORTED_LISTER"
	ErrCodeMissingHandler = "MISSING_HANDLER"
)

// ValidationError aggregates every structural problem found in the desired state.
// It is always raised before any mutation.
type ValidationError struct {
	// Problems maps a resource type to the problems found for it.
	Problems map[string][]string
}

// NewValidationError creates an empty validation error for accumulation.
func NewValidationError() *ValidationError {
	return &ValidationError{Problems: make(map[string][]string)}
}

// Add records a problem for the given resource type.
func (e *ValidationError) Add(resourceType, format string, args ...interface{}) {
	e.Problems[resourceType] = append(e.Problems[resourceType], fmt.Sprintf(format, args...))
}

// Merge folds another validation error into this one.
func (e *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	for t, problems := range other.Problems {
		e.Problems[t] = append(e.Problems[t], problems...)
	}
}

// Len returns the number of recorded problems.
func (e *ValidationError) Len() int {
	n := 0
	for _, p := range e.Problems {
		n += len(p)
	}
	return n
}

// ErrOrNil returns nil when no problem was recorded.
func (e *ValidationError) ErrOrNil() error {
	if e == nil || e.Len() == 0 {
		return nil
	}
	return e
}

// Error implements the error interface. Types are listed alphabetically so the
// message is stable.
func (e *ValidationError) Error() string {
	types := make([]string, 0, len(e.Problems))
	for t := range e.Problems {
		types = append(types, t)
	}
	sort.Strings(types)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation problem(s):", e.Len())
	for _, t := range types {
		for _, p := range e.Problems[t] {
			fmt.Fprintf(&sb, "\n  - [%s] %s", t, p)
		}
	}
	return sb.String()
}

// Is lets errors.Is match any validation error against ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ErrValidation is a sentinel matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// RemoteOperationError wraps one failed remote call. It always carries the
// resource type and a human-readable identity of the item.
type RemoteOperationError struct {
	Type      string
	Operation OperationType
	Item      string
	Err       error
}

// Error implements the error interface.
func (e *RemoteOperationError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Operation, e.Type, e.Item, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RemoteOperationError) Unwrap() error {
	return e.Err
}

// FeatureUnavailableError indicates the tenant lacks a feature or scope for a
// resource type. Handlers recover from it by treating the type as empty.
type FeatureUnavailableError struct {
	Type  string
	Class RemoteClass
	Err   error
}

// Error implements the error interface.
func (e *FeatureUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable (%s): %v", e.Type, e.Class, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FeatureUnavailableError) Unwrap() error {
	return e.Err
}

// ConsistencyTimeoutError is raised when a bounded wait for the remote side to
// converge exceeded its attempt budget. It is fatal.
type ConsistencyTimeoutError struct {
	Type     string
	Item     string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ConsistencyTimeoutError) Error() string {
	msg := fmt.Sprintf("%s %s did not become ready after %d attempts", e.Type, e.Item, e.Attempts)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the last observed error, if any.
func (e *ConsistencyTimeoutError) Unwrap() error {
	return e.Err
}

// RemoteClass is the closed set of outcomes a remote error can be classified into.
type RemoteClass string

const (
	RemoteTransient          RemoteClass = "transient"
	RemoteFeatureUnavailable RemoteClass = "featureUnavailable"
	RemoteInsufficientScope  RemoteClass = "insufficientScope"
	RemoteFatal              RemoteClass = "fatal"
)

// Recoverable reports whether the class is treated as an empty result on read.
func (c RemoteClass) Recoverable() bool {
	return c == RemoteFeatureUnavailable || c == RemoteInsufficientScope
}

// Classifier maps a raw remote error onto a RemoteClass. Each integration provides
// one; the engine only branches on the returned class.
type Classifier func(err error) RemoteClass

// ClassifyNone treats every error as fatal.
func ClassifyNone(error) RemoteClass {
	return RemoteFatal
}

// IsValidation returns true if the error is or wraps a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsFeatureUnavailable returns true if the error is or wraps a FeatureUnavailableError.
func IsFeatureUnavailable(err error) bool {
	var e *FeatureUnavailableError
	return errors.As(err, &e)
}

// IsConsistencyTimeout returns true if the error is or wraps a ConsistencyTimeoutError.
func IsConsistencyTimeout(err error) bool {
	var e *ConsistencyTimeoutError
	return errors.As(err, &e)
}

// RemoteFailures extracts every RemoteOperationError from an error tree,
// including those aggregated by the execution pool.
func RemoteFailures(err error) []*RemoteOperationError {
	if err == nil {
		return nil
	}
	var out []*RemoteOperationError
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if roe, ok := e.(*RemoteOperationError); ok {
			out = append(out, roe)
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ WrappedErrors() []error }:
			for _, inner := range u.WrappedErrors() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
