// Package apperr defines the error kinds surfaced by services and their HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindInsufficientBalance   Kind = "insufficient_balance"
	KindInvalidOperation      Kind = "invalid_operation"
	KindBadRequest            Kind = "bad_request"
	KindPaymentRequired       Kind = "payment_required"
	KindTooManyConcurrentJobs Kind = "too_many_concurrent_jobs"
	KindTimeout               Kind = "timeout"
	KindProviderError         Kind = "provider_error"
	KindStorageError          Kind = "storage_error"
	KindUnauthorized          Kind = "unauthorized"
	KindForbidden             Kind = "forbidden"
	KindInternal              Kind = "internal_error"
)

var statusByKind = map[Kind]int{
	KindNotFound:              http.StatusNotFound,
	KindInsufficientBalance:   http.StatusPaymentRequired,
	KindInvalidOperation:      http.StatusBadRequest,
	KindBadRequest:            http.StatusBadRequest,
	KindPaymentRequired:       http.StatusPaymentRequired,
	KindTooManyConcurrentJobs: http.StatusTooManyRequests,
	KindTimeout:               http.StatusGatewayTimeout,
	KindProviderError:         http.StatusBadGateway,
	KindStorageError:          http.StatusBadGateway,
	KindUnauthorized:          http.StatusUnauthorized,
	KindForbidden:             http.StatusForbidden,
	KindInternal:              http.StatusInternalServerError,
}

// Error is a classified application error. Cost and Available are set for
// token-related rejections so callers can show the shortfall.
type Error struct {
	Kind      Kind
	Message   string
	Details   []string
	Cost      *int
	Available *int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the conventional status code for the error kind.
func (e *Error) HTTPStatus() int {
	if code, ok := statusByKind[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// WithDetails attaches per-field explanations, e.g. validation failures.
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = append(e.Details, details...)
	return e
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind while keeping it reachable through errors.Is/As.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(format string, args ...any) *Error   { return New(KindNotFound, format, args...) }
func BadRequest(format string, args ...any) *Error { return New(KindBadRequest, format, args...) }
func Forbidden(format string, args ...any) *Error  { return New(KindForbidden, format, args...) }
func InvalidOperation(format string, args ...any) *Error {
	return New(KindInvalidOperation, format, args...)
}

// PaymentRequired carries the operation cost and the caller's balance.
func PaymentRequired(message string, cost, available int) *Error {
	return &Error{Kind: KindPaymentRequired, Message: message, Cost: &cost, Available: &available}
}

func InsufficientBalance(message string, available int) *Error {
	return &Error{Kind: KindInsufficientBalance, Message: message, Available: &available}
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
