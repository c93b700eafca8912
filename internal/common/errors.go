package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a domain error for transport mapping and retry
// policy. Client kinds are never retried; only gateway unavailability is
// eligible for scheduled retries.
type ErrorKind string

const (
	KindUnauthorized       ErrorKind = "unauthorized"
	KindNotFound           ErrorKind = "not_found"
	KindBadRequest         ErrorKind = "bad_request"
	KindConflict           ErrorKind = "conflict"
	KindGatewayUnavailable ErrorKind = "gateway_unavailable"
	KindInternal           ErrorKind = "internal"
)

// DomainError carries a kind plus a human-readable message that is safe to
// return to the caller verbatim.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

func NewUnauthorized(message string) error {
	return &DomainError{Kind: KindUnauthorized, Message: message}
}

func NewNotFound(message string) error {
	return &DomainError{Kind: KindNotFound, Message: message}
}

func NewBadRequest(message string) error {
	return &DomainError{Kind: KindBadRequest, Message: message}
}

func NewConflict(message string) error {
	return &DomainError{Kind: KindConflict, Message: message}
}

func NewGatewayUnavailable(message string, err error) error {
	return &DomainError{Kind: KindGatewayUnavailable, Message: message, Err: err}
}

func NewInternal(message string) error {
	return &DomainError{Kind: KindInternal, Message: message}
}

// HTTPStatus maps an error to its contractual status code. Unknown errors
// are internal.
func HTTPStatus(err error) int {
	var derr *DomainError
	if !errors.As(err, &derr) {
		return http.StatusInternalServerError
	}
	switch derr.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindGatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage returns the caller-safe message for an error. Internal
// details are hidden behind a generic message.
func ErrorMessage(err error) string {
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr.Message
	}
	return "Internal server error"
}
