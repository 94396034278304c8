package errs

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for retry policy and HTTP mapping.
type Kind string

const (
	Validation         Kind = "VALIDATION"
	NotFound           Kind = "NOT_FOUND"
	Forbidden          Kind = "FORBIDDEN"
	Conflict           Kind = "CONFLICT"
	InvalidTransition  Kind = "INVALID_TRANSITION"
	NotSchedulable     Kind = "NOT_SCHEDULABLE"
	AlreadyFired       Kind = "ALREADY_FIRED"
	AuthExchangeFailed Kind = "AUTH_EXCHANGE_FAILED"
	RefreshFailed      Kind = "REFRESH_FAILED"
	RateLimited        Kind = "RATE_LIMITED"
	UnsupportedContent Kind = "UNSUPPORTED_CONTENT"
	DeliveryFailed     Kind = "DELIVERY_FAILED"
	Internal           Kind = "INTERNAL"
)

// Error is the single error type crossing package boundaries in the pipeline.
// State-machine errors carry the entity and its current status so callers can
// re-query instead of guessing.
type Error struct {
	Kind       Kind
	Message    string
	Entity     string
	EntityID   string
	Current    string
	RetryAfter time.Duration
	State      any // the entity as it stood when the request was rejected
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Entity != "" && e.EntityID != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Entity, e.EntityID, msg)
	}
	if e.Current != "" {
		msg = fmt.Sprintf("%s (current status %s)", msg, e.Current)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// On records the entity the error is attributable to.
func (e *Error) On(entity, id string) *Error {
	e.Entity = entity
	e.EntityID = id
	return e
}

// WithCurrent records the entity's status at the time of rejection.
func (e *Error) WithCurrent(status string) *Error {
	e.Current = status
	return e
}

// WithState attaches the rejected entity so the caller sees what it lost to.
func (e *Error) WithState(entity any) *Error {
	e.State = entity
	return e
}

// WithRetryAfter records an upstream backpressure hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// NotFoundf is shorthand for a NotFound error on an entity.
func NotFoundf(entity, id string) *Error {
	return New(NotFound, "not found").On(entity, id)
}

// KindOf returns the kind of err, or Internal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is a pipeline error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfterOf returns the retry-after hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// CurrentOf returns the current status recorded on err, if any.
func CurrentOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Current
	}
	return ""
}

// StateOf returns the entity attached to err, if any.
func StateOf(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.State
	}
	return nil
}

// Retryable reports whether a delivery failure of this kind may succeed later.
func Retryable(kind Kind) bool {
	switch kind {
	case RateLimited, DeliveryFailed, Internal:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to the status code the HTTP boundary reports.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation, UnsupportedContent:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Conflict, InvalidTransition, NotSchedulable, AlreadyFired:
		return http.StatusConflict
	case AuthExchangeFailed, RefreshFailed, DeliveryFailed:
		return http.StatusBadGateway
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
