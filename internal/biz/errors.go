package biz

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	pkgerrors "MetaDJ/pkg/errors"

	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons returned to HTTP clients.
const (
	ErrorReasonRateLimited       = "RATE_LIMITED"
	ErrorReasonNoHealthyProvider = "NO_HEALTHY_PROVIDER"
	ErrorReasonProviderError     = "PROVIDER_ERROR"
	ErrorReasonInvalidRequest    = "INVALID_REQUEST"
)

// ErrNoHealthyProvider is returned when every configured provider has an open circuit.
var ErrNoHealthyProvider = stderrors.New("no healthy provider available")

// RateLimitedError is the "not yet" admission result. It is not a failure.
type RateLimitedError struct {
	Policy     string
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: policy=%s reason=%s retry_after=%dms",
		e.Policy, e.Reason, e.RetryAfter.Milliseconds())
}

// ChatError is the single terminal failure of an orchestrated request.
// Message is safe to show to end users; Err is for logs only.
type ChatError struct {
	Provider string
	Kind     pkgerrors.Kind
	Reason   string
	Message  string
	Err      error
}

func (e *ChatError) Error() string {
	return fmt.Sprintf("chat failed on %s (%s/%s): %v", e.Provider, e.Kind, e.Reason, e.Err)
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

func newChatError(provider string, err error) *ChatError {
	c := pkgerrors.Classify(err)
	return &ChatError{
		Provider: provider,
		Kind:     c.Kind,
		Reason:   c.Reason,
		Message:  c.UserMessage,
		Err:      err,
	}
}

// ToHTTPError maps usecase errors onto Kratos errors for the JSON routes.
func ToHTTPError(err error) *errors.Error {
	var rl *RateLimitedError
	var ce *ChatError
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &rl):
		seconds := int((rl.RetryAfter + time.Second - 1) / time.Second)
		return errors.New(429, ErrorReasonRateLimited, "Too many requests. Please wait before trying again.").
			WithMetadata(map[string]string{
				"retryAfterMs": strconv.FormatInt(rl.RetryAfter.Milliseconds(), 10),
				"retryAfter":   strconv.Itoa(seconds),
			})
	case stderrors.Is(err, ErrNoHealthyProvider):
		return errors.New(503, ErrorReasonNoHealthyProvider, "The AI service is temporarily unavailable. Please try again in a moment.")
	case stderrors.As(err, &ce):
		if ce.Kind == pkgerrors.KindClient {
			return errors.New(400, ErrorReasonInvalidRequest, ce.Message)
		}
		return errors.New(502, ErrorReasonProviderError, ce.Message)
	default:
		if se := new(errors.Error); stderrors.As(err, &se) {
			return se
		}
		return errors.New(500, "INTERNAL_ERROR", pkgerrors.UserMessage(err))
	}
}
