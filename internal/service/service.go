// Package service exposes the chat orchestration over HTTP.
package service

import (
	"fmt"
	"strings"

	"MetaDJ/internal/biz"
	"MetaDJ/pkg/provider"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewChatService, NewTranscribeService, NewHealthService)

// Route paths.
const (
	PathChatStream   = "/api/chat/stream"
	PathChat         = "/api/chat"
	PathTranscribe   = "/api/transcribe"
	PathHealth       = "/api/health/providers"
	PathCircuitReset = "/api/admin/circuit-breaker/reset"
)

const (
	maxMessages      = 100
	maxMessageLength = 32 * 1024
)

var validRoles = map[string]bool{"system": true, "user": true, "assistant": true}

// ChatMessage is one conversation turn sent by the client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of both chat routes.
type ChatRequest struct {
	Messages []ChatMessage  `json:"messages"`
	Context  map[string]any `json:"context,omitempty"`
}

func (r *ChatRequest) validate() error {
	if len(r.Messages) == 0 {
		return invalidRequest("messages must not be empty")
	}
	if len(r.Messages) > maxMessages {
		return invalidRequest("too many messages")
	}
	for _, m := range r.Messages {
		if !validRoles[strings.ToLower(m.Role)] {
			return invalidRequest("unsupported message role %q", m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return invalidRequest("message content must not be empty")
		}
		if len(m.Content) > maxMessageLength {
			return invalidRequest("message content is too long")
		}
	}
	return nil
}

func invalidRequest(format string, args ...interface{}) error {
	return errors.BadRequest(biz.ErrorReasonInvalidRequest, fmt.Sprintf(format, args...))
}

func (r *ChatRequest) toBiz(clientID string, isFingerprint bool) *biz.ChatRequest {
	msgs := make([]provider.Message, len(r.Messages))
	for i, m := range r.Messages {
		msgs[i] = provider.Message{Role: strings.ToLower(m.Role), Content: m.Content}
	}
	return &biz.ChatRequest{
		ClientID:      clientID,
		IsFingerprint: isFingerprint,
		Messages:      msgs,
		Context:       r.Context,
	}
}

// replyError converts a usecase error for the error encoder. Rate limited
// replies also carry a Retry-After header.
func replyError(ctx http.Context, err error) error {
	se := biz.ToHTTPError(err)
	if se.Code == 429 {
		if s := se.Metadata["retryAfter"]; s != "" {
			ctx.Response().Header().Set("Retry-After", s)
		}
	}
	return se
}
