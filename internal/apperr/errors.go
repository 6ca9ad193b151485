// Package apperr holds the error taxonomy shared by the pairing, list and
// search components, and its mapping to user-facing messages.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrAuthRequired            = errors.New("auth required")
	ErrCodeNotFound            = errors.New("partner code not found")
	ErrSelfPairing             = errors.New("self pairing not allowed")
	ErrAlreadyPaired           = errors.New("already paired")
	ErrNotPaired               = errors.New("not paired")
	ErrNoPartner               = errors.New("no partner")
	ErrConflict                = errors.New("conflict")
	ErrNotFound                = errors.New("not found")
	ErrCodeAllocationExhausted = errors.New("code allocation exhausted")
	ErrNetwork                 = errors.New("network error")
	ErrInvalidInput            = errors.New("invalid input")
)

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

// Network marks err as a store or provider failure. The cause stays reachable
// through errors.Unwrap for logging. Context cancellation passes through
// unchanged and nil stays nil.
func Network(err error) error {
	if err == nil || errors.Is(err, ErrNetwork) || isContextErr(err) {
		return err
	}
	return &kindError{kind: ErrNetwork, cause: err}
}

// Invalid wraps a validation failure.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: ErrInvalidInput, cause: err}
}

// IsPrecondition reports whether err is an expected outcome that callers must
// not retry.
func IsPrecondition(err error) bool {
	for _, e := range []error{ErrAlreadyPaired, ErrNotPaired, ErrNoPartner, ErrConflict, ErrNotFound, ErrCodeNotFound, ErrSelfPairing} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Retryable reports whether a read that failed with err may be retried.
func Retryable(err error) bool { return errors.Is(err, ErrNetwork) }

type entry struct {
	kind    error
	status  int
	message string
}

var table = []entry{
	{ErrAuthRequired, http.StatusUnauthorized, "Please sign in to continue."},
	{ErrCodeNotFound, http.StatusNotFound, "Partner code not found."},
	{ErrSelfPairing, http.StatusBadRequest, "You cannot pair with yourself."},
	{ErrAlreadyPaired, http.StatusConflict, "One of you is already connected with a partner."},
	{ErrNotPaired, http.StatusConflict, "No partner to disconnect."},
	{ErrNoPartner, http.StatusConflict, "You are not connected with a partner."},
	{ErrConflict, http.StatusConflict, "Already on your list."},
	{ErrNotFound, http.StatusNotFound, "Not found in your list."},
	{ErrCodeAllocationExhausted, http.StatusServiceUnavailable, "Could not set up your account. Please try again later."},
	{ErrNetwork, http.StatusBadGateway, "Service temporarily unavailable. Please try again."},
	{ErrInvalidInput, http.StatusBadRequest, "Invalid request."},
}

// Message returns the short human-readable message for err. Raw store and
// provider text is never included.
func Message(err error) string {
	for _, e := range table {
		if errors.Is(err, e.kind) {
			return e.message
		}
	}
	return "Something went wrong. Please try again."
}

// Status returns the HTTP status for err.
func Status(err error) int {
	for _, e := range table {
		if errors.Is(err, e.kind) {
			return e.status
		}
	}
	if isContextErr(err) {
		return 499
	}
	return http.StatusInternalServerError
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
