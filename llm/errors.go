package llm

import (
	"context"
	"errors"
	"fmt"
)

// BaseError is the base error type for everything the llm package returns.
type BaseError struct {
	Message string
	Cause   error
}

func (e *BaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BaseError) Unwrap() error {
	return e.Cause
}

// ProviderError is an error reported by a model provider.
type ProviderError struct {
	BaseError
	Provider   string
	StatusCode int
	Retryable  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Kind classifies a ProviderError by cause.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindAccessDenied
	KindNotFound
	KindInvalidRequest
	KindRateLimit
	KindServer
	KindContextLength
	KindTimeout
)

// KindError is a ProviderError tagged with its Kind.
type KindError struct {
	ProviderError
	Kind Kind
}

// ConfigurationError reports a client set up incorrectly (no provider, bad key).
type ConfigurationError struct{ BaseError }

// NetworkError reports a transport failure before a provider answered.
type NetworkError struct{ BaseError }

// AbortError reports a request abandoned because its context ended.
type AbortError struct{ BaseError }

// InvalidToolCallError reports a tool call the model produced that could not be decoded.
type InvalidToolCallError struct{ BaseError }

// ErrorFromStatusCode maps an HTTP status code to a KindError.
func ErrorFromStatusCode(statusCode int, message, provider string) error {
	ke := &KindError{ProviderError: ProviderError{
		BaseError:  BaseError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
	}}

	switch statusCode {
	case 400, 422:
		ke.Kind = KindInvalidRequest
	case 401:
		ke.Kind = KindAuthentication
	case 403:
		ke.Kind = KindAccessDenied
	case 404:
		ke.Kind = KindNotFound
	case 408:
		ke.Kind, ke.Retryable = KindTimeout, true
	case 413:
		ke.Kind = KindContextLength
	case 429:
		ke.Kind, ke.Retryable = KindRateLimit, true
	case 500, 502, 503, 504:
		ke.Kind, ke.Retryable = KindServer, true
	default:
		ke.Retryable = true
	}
	return ke
}

// IsRetryable reports whether err is worth another attempt.
// Context cancellation and configuration problems never are; unknown errors are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var (
		ke  *KindError
		pe  *ProviderError
		ce  *ConfigurationError
		ae  *AbortError
		ite *InvalidToolCallError
		ne  *NetworkError
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &ae), errors.As(err, &ite):
		return false
	case errors.As(err, &ne):
		return true
	case errors.As(err, &ke):
		return ke.Retryable
	case errors.As(err, &pe):
		return pe.Retryable
	default:
		return true
	}
}
