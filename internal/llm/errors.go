package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/openai/openai-go"
)

// ErrorKind classifies remote completion failures
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindRateLimited
	KindUnauthenticated
	KindConnection
	KindModelNotFound
	KindInvalidRequest
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindConnection:
		return "connection"
	case KindModelNotFound:
		return "model_not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindCanceled:
		return "canceled"
	default:
		return "other"
	}
}

// APIError a classified remote completion failure
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify wraps err in an *APIError. An err that already is one is returned as is.
func Classify(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, context.Canceled) {
		return &APIError{Kind: KindCanceled, Err: err}
	}

	var sdkErr *openai.Error
	if errors.As(err, &sdkErr) {
		return &APIError{
			Kind:       kindForStatus(sdkErr.StatusCode),
			StatusCode: sdkErr.StatusCode,
			Message:    sdkErr.Message,
			Err:        err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: KindConnection, Err: err}
	}

	return &APIError{Kind: KindOther, Err: err}
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthenticated
	case http.StatusNotFound:
		return KindModelNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindInvalidRequest
	default:
		return KindOther
	}
}

// KindOf returns the kind of err, KindOther when it was never classified
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindOther
}

// Guidance returns a one-line hint for the user, empty when none applies
func Guidance(err error, model string) string {
	switch KindOf(err) {
	case KindRateLimited:
		return "Rate limit or quota reached. Check your plan and billing, then try again."
	case KindUnauthenticated:
		return "Authentication failed. Check OPENAI_API_KEY in your environment or .env file."
	case KindConnection:
		return "Could not reach the API. Check your internet connection, VPN or firewall."
	case KindModelNotFound:
		return fmt.Sprintf("Model %q was not found. Try switching model.model to gpt-4o-mini.", model)
	case KindInvalidRequest:
		return "The request was rejected. Details: " + err.Error()
	case KindCanceled:
		return "Interrupted."
	default:
		return ""
	}
}
