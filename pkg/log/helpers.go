package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper extends the Kratos log.Helper with typed entries. The "type" field
// drives the emoji prefix chosen by EmojiConsoleEncoder.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates a LogHelper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func typed(msg, typ string, kvs []interface{}) []interface{} {
	all := make([]interface{}, 0, len(kvs)+4)
	all = append(all, "msg", msg)
	all = append(all, kvs...)
	return append(all, "type", typ)
}

// Startup logs service lifecycle events.
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "startup", kvs)...)
}

// RateLimit logs a throttled request.
func (h *LogHelper) RateLimit(msg string, kvs ...interface{}) {
	h.Warnw(typed(msg, "rate_limit", kvs)...)
}

// Circuit logs a circuit breaker transition.
func (h *LogHelper) Circuit(msg string, kvs ...interface{}) {
	h.Warnw(typed(msg, "circuit", kvs)...)
}

// Store logs shared store activity.
func (h *LogHelper) Store(msg string, kvs ...interface{}) {
	h.Debugw(typed(msg, "redis", kvs)...)
}

// Gateway logs upstream provider selection and calls.
func (h *LogHelper) Gateway(msg string, kvs ...interface{}) {
	h.Infow(typed(msg, "gateway", kvs)...)
}

// Fallback logs a downgrade from streaming to the synchronous endpoint.
func (h *LogHelper) Fallback(msg string, kvs ...interface{}) {
	h.Warnw(typed(msg, "fallback", kvs)...)
}

// Request logs a completed HTTP request.
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%dms)", method, url, status, durationMs)
	kvs = append(kvs,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(typed(msg, "request", kvs)...)
}

// RequestWithContext logs a completed HTTP request with the request id and
// flags requests slower than one second. Streaming routes pass a higher threshold.
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs, slowThresholdMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	kvs = append(kvs, "request_id", reqCtx.RequestID, "client_id", reqCtx.ClientID)
	h.Request(method, url, status, durationMs, kvs...)

	if slowThresholdMs <= 0 {
		slowThresholdMs = 1000
	}
	if durationMs > slowThresholdMs {
		h.Warnw(typed(
			fmt.Sprintf("[%s] Slow request detected | %s %s | %dms (threshold: %dms)",
				reqCtx.RequestID, method, url, durationMs, slowThresholdMs),
			"slow_request",
			[]interface{}{"request_id", reqCtx.RequestID, "duration_ms", durationMs, "threshold_ms", slowThresholdMs},
		)...)
	}
}

// StreamSummary logs the outcome of one orchestrated chat request.
func (h *LogHelper) StreamSummary(ctx context.Context, provider, model, outcome string, textBytes, toolResults int, usedFallback bool) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("[%s] Chat %s - Provider: %s, Model: %s, Text: %dB, Tool results: %d, Fallback: %t",
		reqCtx.RequestID, outcome, provider, model, textBytes, toolResults, usedFallback)
	h.Infow(typed(msg, "stream", []interface{}{
		"request_id", reqCtx.RequestID,
		"provider", provider,
		"model", model,
		"outcome", outcome,
		"text_bytes", textBytes,
		"tool_results", toolResults,
		"used_fallback", usedFallback,
	})...)
}
