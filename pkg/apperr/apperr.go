// Package apperr defines the error kinds shared by repositories, the realtime gateway and HTTP handlers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing to the client.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindForbidden   Kind = "forbidden"
	KindRateLimited Kind = "rate_limited"
	KindConflict    Kind = "conflict"
	KindStore       Kind = "store"
	KindDelivery    Kind = "delivery"
)

// Common sentinel errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrRateLimited  = errors.New("rate limited")
	ErrConflict     = errors.New("conflict")
	ErrSendBuffer   = errors.New("send buffer full")
)

// Error carries a kind, a short client-safe message and the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports a missing or malformed field.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...), Err: ErrInvalidInput}
}

// NotFound reports a missing entity, e.g. NotFound("poll").
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Msg: entity + " not found", Err: ErrNotFound}
}

// Forbidden reports a failed capability check.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Msg: msg, Err: ErrForbidden}
}

// RateLimited reports an exhausted quota.
func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimited, Msg: msg, Err: ErrRateLimited}
}

// Conflict reports a uniqueness violation.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Msg: msg, Err: ErrConflict}
}

// Store wraps a failure of the durable store.
func Store(op string, err error) *Error {
	return &Error{Kind: KindStore, Msg: op, Err: err}
}

// Delivery wraps a fan-out failure to one subscriber.
func Delivery(subscriberID string, err error) *Error {
	return &Error{Kind: KindDelivery, Msg: "deliver to " + subscriberID, Err: err}
}

// KindOf returns the kind of err, or KindStore for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// PublicMessage returns the message safe to show a client. Store and untyped errors collapse to a
// generic text so driver details never leak.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindValidation, KindNotFound, KindForbidden, KindRateLimited, KindConflict:
		return e.Msg
	default:
		return "internal error"
	}
}
