// Package errors classifies upstream failures into provider-level and
// client-level errors and maps them to user-safe messages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// Kind is the taxonomy bucket of a classified error.
type Kind int

const (
	// KindUnknown errors are neither recorded against a provider nor retried.
	KindUnknown Kind = iota
	// KindProvider errors count toward the circuit breaker and are eligible for fallback.
	KindProvider
	// KindClient errors are caused by the request itself.
	KindClient
	// KindCancelled means the caller aborted the request.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindProvider:
		return "provider"
	case KindClient:
		return "client"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Reasons reported in ClassifiedError.Reason.
const (
	ReasonTimeout          = "timeout"
	ReasonConnection       = "connection"
	ReasonRateLimited      = "rate_limited"
	ReasonUnavailable      = "upstream_unavailable"
	ReasonModelUnavailable = "model_unavailable"
	ReasonInvalidRequest   = "invalid_request"
	ReasonUnauthorized     = "unauthorized"
	ReasonContentPolicy    = "content_policy"
	ReasonTooLarge         = "payload_too_large"
	ReasonCancelled        = "cancelled"
	ReasonUnknown          = "unknown"
)

var userMessages = map[string]string{
	ReasonTimeout:          "The AI service took too long to respond. Please try again.",
	ReasonConnection:       "The AI service is temporarily unavailable. Please try again in a moment.",
	ReasonRateLimited:      "The AI service is busy right now. Please try again shortly.",
	ReasonUnavailable:      "The AI service is temporarily unavailable. Please try again in a moment.",
	ReasonModelUnavailable: "The AI model is temporarily unavailable. Please try again in a moment.",
	ReasonInvalidRequest:   "That request could not be processed. Please rephrase your message and try again.",
	ReasonUnauthorized:     "Your session could not be verified. Please refresh the page and try again.",
	ReasonContentPolicy:    "That message can't be answered. Please rephrase it and try again.",
	ReasonTooLarge:         "Your message is too long. Please shorten it and try again.",
	ReasonCancelled:        "The request was cancelled.",
	ReasonUnknown:          "Something went wrong. Please try again.",
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// ClassifiedError wraps an error with its taxonomy and a message that is safe
// to show to end users.
type ClassifiedError struct {
	Kind        Kind
	StatusCode  int
	Reason      string
	UserMessage string
	Err         error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (%s, status %d): %v", e.Kind, e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Reason, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

var providerStatus = map[int]string{
	408: ReasonTimeout,
	429: ReasonRateLimited,
	500: ReasonUnavailable,
	502: ReasonUnavailable,
	503: ReasonUnavailable,
	504: ReasonTimeout,
	529: ReasonRateLimited,
}

var clientStatus = map[int]string{
	400: ReasonInvalidRequest,
	401: ReasonUnauthorized,
	403: ReasonUnauthorized,
	404: ReasonInvalidRequest,
	413: ReasonTooLarge,
	422: ReasonInvalidRequest,
}

type pattern struct {
	substr string
	reason string
}

var providerPatterns = []pattern{
	{"model not found", ReasonModelUnavailable},
	{"model_not_found", ReasonModelUnavailable},
	{"unsupported model", ReasonModelUnavailable},
	{"model is not supported", ReasonModelUnavailable},
	{"does not exist or you do not have access", ReasonModelUnavailable},
	{"timeout", ReasonTimeout},
	{"timed out", ReasonTimeout},
	{"deadline exceeded", ReasonTimeout},
	{"connection refused", ReasonConnection},
	{"econnrefused", ReasonConnection},
	{"connection reset", ReasonConnection},
	{"econnreset", ReasonConnection},
	{"no such host", ReasonConnection},
	{"enotfound", ReasonConnection},
	{"unexpected eof", ReasonConnection},
	{"broken pipe", ReasonConnection},
	{"overloaded", ReasonRateLimited},
	{"rate limit", ReasonRateLimited},
	{"too many requests", ReasonRateLimited},
	{"service unavailable", ReasonUnavailable},
	{"bad gateway", ReasonUnavailable},
	{"empty response", ReasonUnavailable},
}

var clientPatterns = []pattern{
	{"content policy", ReasonContentPolicy},
	{"content_policy", ReasonContentPolicy},
	{"content management policy", ReasonContentPolicy},
	{"invalid request", ReasonInvalidRequest},
	{"invalid_request", ReasonInvalidRequest},
	{"context length", ReasonTooLarge},
	{"too large", ReasonTooLarge},
	{"unauthorized", ReasonUnauthorized},
	{"authentication", ReasonUnauthorized},
	{"forbidden", ReasonUnauthorized},
}

// Classify maps err to its taxonomy bucket. It is a pure function of the
// error chain, the upstream status code and a fixed set of message patterns.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) {
		return newClassified(KindCancelled, 0, ReasonCancelled, err)
	}

	status := 0
	var coder StatusCoder
	if errors.As(err, &coder) {
		status = coder.HTTPStatus()
	}
	msg := strings.ToLower(err.Error())

	// An unavailable model is the provider's fault even when reported as a 404.
	for _, p := range providerPatterns {
		if p.reason == ReasonModelUnavailable && strings.Contains(msg, p.substr) {
			return newClassified(KindProvider, status, p.reason, err)
		}
	}
	if reason, ok := providerStatus[status]; ok {
		return newClassified(KindProvider, status, reason, err)
	}
	if reason, ok := clientStatus[status]; ok {
		return newClassified(KindClient, status, reason, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newClassified(KindProvider, status, ReasonTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newClassified(KindProvider, status, ReasonTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newClassified(KindProvider, status, ReasonConnection, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return newClassified(KindProvider, status, ReasonConnection, err)
	}

	for _, p := range providerPatterns {
		if strings.Contains(msg, p.substr) {
			return newClassified(KindProvider, status, p.reason, err)
		}
	}
	for _, p := range clientPatterns {
		if strings.Contains(msg, p.substr) {
			return newClassified(KindClient, status, p.reason, err)
		}
	}

	switch {
	case status >= 500:
		return newClassified(KindProvider, status, ReasonUnavailable, err)
	case status >= 400:
		return newClassified(KindClient, status, ReasonInvalidRequest, err)
	}
	return newClassified(KindUnknown, status, ReasonUnknown, err)
}

// IsProviderLevel reports whether err should be recorded against the provider's circuit.
func IsProviderLevel(err error) bool {
	c := Classify(err)
	return c != nil && c.Kind == KindProvider
}

// AsProvider marks err as provider-level with the given reason.
func AsProvider(err error, reason string) *ClassifiedError {
	return newClassified(KindProvider, 0, reason, err)
}

// UserMessage returns the user-safe message for err.
func UserMessage(err error) string {
	c := Classify(err)
	if c == nil {
		return ""
	}
	return c.UserMessage
}

func newClassified(kind Kind, status int, reason string, err error) *ClassifiedError {
	return &ClassifiedError{
		Kind:        kind,
		StatusCode:  status,
		Reason:      reason,
		UserMessage: userMessages[reason],
		Err:         err,
	}
}
