package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType int

const (
	ErrorTypeInternal ErrorType = iota
	ErrorTypeValidation
	ErrorTypeNotFound
	ErrorTypeConflict
	ErrorTypeUnavailable
	ErrorTypeTimeout
	ErrorTypeConnection
	ErrorTypeUnauthorized
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeConflict:
		return "conflict"
	case ErrorTypeUnavailable:
		return "unavailable"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Error is the structured error returned across adapter boundaries.
type Error struct {
	Type    ErrorType
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel that corresponds to the error type so callers can
// use errors.Is(err, ErrTimeout) regardless of the concrete error.
func (e Error) Is(target error) bool {
	switch e.Type {
	case ErrorTypeValidation:
		return target == ErrInvalidConfig
	case ErrorTypeNotFound:
		return target == ErrNotFound
	case ErrorTypeConflict:
		return target == ErrConflict
	case ErrorTypeUnavailable:
		return target == ErrUnavailable
	case ErrorTypeTimeout:
		return target == ErrTimeout
	case ErrorTypeConnection:
		return target == ErrConnection
	case ErrorTypeUnauthorized:
		return target == ErrUnauthorized
	}
	return false
}

var (
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrClosed         = errors.New("closed")
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrTimeout        = errors.New("operation timeout")
	ErrConnection     = errors.New("connection error")
	ErrUnavailable    = errors.New("unavailable")
	ErrUnauthorized   = errors.New("unauthorized")

	ErrRemoteClusterClientDisabled = errors.New("node does not have the remote_cluster_client role")
)

func NewNotFoundError(resource, id string) Error {
	return Error{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

func NewConflictError(resource, message string) Error {
	return Error{
		Type:    ErrorTypeConflict,
		Message: fmt.Sprintf("%s: %s", resource, message),
		Details: map[string]interface{}{
			"resource": resource,
		},
	}
}

func NewConfigurationError(component, message, hint string) Error {
	return Error{
		Type:    ErrorTypeValidation,
		Message: fmt.Sprintf("%s: %s", component, message),
		Details: map[string]interface{}{
			"component": component,
			"hint":      hint,
		},
	}
}

func NewConnectionError(address string, err error) Error {
	return Error{
		Type:    ErrorTypeConnection,
		Message: "connection to " + address + " failed",
		Details: map[string]interface{}{
			"address": address,
		},
		Cause: err,
	}
}

// ValidationError reports a structurally invalid settings value.
type ValidationError struct {
	Key    string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid setting [%s]: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("invalid setting [%s] value [%v]: %s", e.Key, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func NewValidationError(key string, value interface{}, reason string) *ValidationError {
	return &ValidationError{Key: key, Value: value, Reason: reason}
}

type ConnectErrorKind int

const (
	ConnectRefused ConnectErrorKind = iota
	ConnectTimeout
)

func (k ConnectErrorKind) String() string {
	if k == ConnectTimeout {
		return "timeout"
	}
	return "refused"
}

// ConnectError is returned when the first bring-up of a pool yields no live
// connection. It is never fatal: the alias stays registered.
type ConnectError struct {
	Alias string
	Kind  ConnectErrorKind
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("remote cluster [%s] connect %s: %v", e.Alias, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func (e *ConnectError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == ConnectTimeout
	case ErrConnection:
		return e.Kind == ConnectRefused
	}
	return false
}

// LookupError is returned when no live connection exists for an alias at
// call time. Skipped carries the alias' skip_unavailable policy.
type LookupError struct {
	Alias   string
	Skipped bool
	Err     error
}

func (e *LookupError) Error() string {
	if e.Skipped {
		return fmt.Sprintf("remote cluster [%s] unavailable, skipped: %v", e.Alias, e.Err)
	}
	return fmt.Sprintf("remote cluster [%s] unavailable: %v", e.Alias, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

func (e *LookupError) Is(target error) bool {
	return target == ErrUnavailable
}

// ReconnectExhaustedError marks a round of reconnect attempts that did not
// succeed. Retrying continues after it is logged.
type ReconnectExhaustedError struct {
	Alias    string
	Endpoint string
	Attempts int
	Err      error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("remote cluster [%s] reconnect to %s failed after %d attempts: %v", e.Alias, e.Endpoint, e.Attempts, e.Err)
}

func (e *ReconnectExhaustedError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsSkipped reports whether err is an unavailable lookup for an alias whose
// policy is skip_unavailable.
func IsSkipped(err error) bool {
	var lookupErr *LookupError
	return errors.As(err, &lookupErr) && lookupErr.Skipped
}

func IsConnectError(err error) bool {
	var connectErr *ConnectError
	return errors.As(err, &connectErr)
}

// JoinValidation combines validation failures into one error with a stable
// message, nil when there are none.
func JoinValidation(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return Error{
		Type:    ErrorTypeValidation,
		Message: "invalid settings",
		Cause:   validationErrors(errs),
	}
}

// validationErrors lists every failure once, separated by semicolons.
type validationErrors []error

func (v validationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, err := range v {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (v validationErrors) Unwrap() []error {
	return v
}
