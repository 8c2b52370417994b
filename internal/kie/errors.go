package kie

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindBadRequest  ErrorKind = "bad_request"
	KindUnavailable ErrorKind = "unavailable"
)

// Error is the typed failure returned for every unsuccessful provider call.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("kie %s (status=%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("kie %s: %s", e.Kind, e.Message)
}

// kindForStatus classifies both HTTP statuses and the "code" field kie puts in
// JSON envelopes.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusPaymentRequired:
		// Provider account out of credits: nothing the caller can fix by retrying.
		return KindAuth
	case status >= 400 && status < 500:
		return KindBadRequest
	default:
		return KindUnavailable
	}
}

func newStatusError(status int, msg string) *Error {
	return &Error{Kind: kindForStatus(status), Status: status, Message: msg}
}

func unavailable(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the provider error kind, or "" for non-provider errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
