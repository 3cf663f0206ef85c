package log

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const requestContextKey contextKey = "metadj_request_context"

// RequestContext carries per-request tracing fields through the call chain.
type RequestContext struct {
	RequestID     string
	ClientID      string // session id or fingerprint
	IsFingerprint bool
	StartTime     time.Time
}

// GenerateRequestID returns a short random request id.
func GenerateRequestID() string {
	id := uuid.New()
	return id.String()[:8] + id.String()[9:13]
}

// WithRequestContext stores request tracing fields in ctx.
func WithRequestContext(ctx context.Context, requestID, clientID string, isFingerprint bool) context.Context {
	return context.WithValue(ctx, requestContextKey, &RequestContext{
		RequestID:     requestID,
		ClientID:      clientID,
		IsFingerprint: isFingerprint,
		StartTime:     time.Now(),
	})
}

// GetRequestContext extracts the RequestContext, or an "unknown" placeholder.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{RequestID: "unknown"}
}

// GetRequestID extracts the request id from ctx.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetElapsedTime returns milliseconds since the request started.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
