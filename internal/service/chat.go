package service

import (
	"context"
	"encoding/json"
	"fmt"
	stdhttp "net/http"

	"MetaDJ/internal/biz"
	pkglog "MetaDJ/pkg/log"
	"MetaDJ/pkg/stream"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Response headers on the streaming route.
const (
	HeaderProvider     = "X-AI-Provider"
	HeaderModel        = "X-AI-Model"
	HeaderFallbackUsed = "X-AI-Fallback-Used"
)

// SSE event names.
const (
	EventTextDelta  = "text-delta"
	EventToolCall   = "tool-call"
	EventToolResult = "tool-result"
	EventStatus     = "status"
	EventError      = "error"
	EventFallback   = "fallback"
	EventFinish     = "finish"
)

// ChatService serves the streaming and synchronous chat routes.
type ChatService struct {
	uc     *biz.ChatUsecase
	logger *pkglog.LogHelper
}

// NewChatService creates a ChatService.
func NewChatService(uc *biz.ChatUsecase, logger log.Logger) *ChatService {
	return &ChatService{uc: uc, logger: pkglog.NewLogHelper(logger)}
}

// RegisterRoutes mounts the chat routes on srv.
func (s *ChatService) RegisterRoutes(srv *http.Server) {
	r := srv.Route("/")
	r.POST(PathChatStream, s.Stream)
	r.POST(PathChat, s.Chat)
}

// Stream handles POST /api/chat/stream. Errors before the first byte use
// the regular JSON error encoding. Once the event stream has started the
// outcome is reported in-band with an error or finish event.
func (s *ChatService) Stream(ctx http.Context) error {
	var in ChatRequest
	if err := ctx.Bind(&in); err != nil {
		return errors.BadRequest(biz.ErrorReasonInvalidRequest, "invalid JSON body")
	}

	w, err := newSSEWriter(ctx.Response())
	if err != nil {
		return err
	}

	h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
		in := req.(*ChatRequest)
		if err := in.validate(); err != nil {
			return nil, err
		}
		reqCtx := pkglog.GetRequestContext(c)
		return s.uc.Send(c, in.toBiz(reqCtx.ClientID, reqCtx.IsFingerprint), w)
	})

	out, err := h(ctx, &in)
	if !w.started {
		if err != nil {
			return replyError(ctx, err)
		}
		// Every success path opens the stream, but a result without one still
		// deserves a complete reply.
		return ctx.Result(200, out)
	}

	if err != nil {
		w.fail(biz.ToHTTPError(err))
		return nil
	}
	result := out.(*biz.ChatResult)
	if result.Cancelled {
		return nil
	}
	w.finish(result)
	return nil
}

// Chat handles POST /api/chat.
func (s *ChatService) Chat(ctx http.Context) error {
	var in ChatRequest
	if err := ctx.Bind(&in); err != nil {
		return errors.BadRequest(biz.ErrorReasonInvalidRequest, "invalid JSON body")
	}

	h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
		in := req.(*ChatRequest)
		if err := in.validate(); err != nil {
			return nil, err
		}
		reqCtx := pkglog.GetRequestContext(c)
		return s.uc.Complete(c, in.toBiz(reqCtx.ClientID, reqCtx.IsFingerprint))
	})

	out, err := h(ctx, &in)
	if err != nil {
		return replyError(ctx, err)
	}
	return ctx.Result(200, out)
}

// sseWriter writes orchestrator progress as server-sent events.
type sseWriter struct {
	w       stdhttp.ResponseWriter
	flusher stdhttp.Flusher
	started bool
}

func newSSEWriter(w stdhttp.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(stdhttp.Flusher)
	if !ok {
		return nil, errors.InternalServer("STREAMING_UNSUPPORTED", "streaming not supported by this connection")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) start(provider, model string, fallback bool) {
	if s.started {
		return
	}
	s.started = true
	header := s.w.Header()
	header.Set("Content-Type", "text/event-stream; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set(HeaderProvider, provider)
	header.Set(HeaderModel, model)
	header.Set(HeaderFallbackUsed, fmt.Sprintf("%t", fallback))
	s.w.WriteHeader(stdhttp.StatusOK)
	s.flusher.Flush()
}

// send writes one event. Write errors mean the client left, which the
// orchestrator observes through the request context.
func (s *sseWriter) send(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	s.flusher.Flush()
}

func (s *sseWriter) OnStart(provider, model string) {
	s.start(provider, model, false)
}

func (s *sseWriter) OnEvent(ev stream.Event) {
	switch e := ev.(type) {
	case stream.TextDelta:
		s.send(EventTextDelta, map[string]string{"text": e.Text})
	case stream.ToolCall:
		s.send(EventToolCall, map[string]string{"name": e.Name})
	case stream.ToolResult:
		s.send(EventToolResult, map[string]interface{}{"name": e.Name, "result": e.Payload})
	case stream.Status:
		// Upstream errors are not final; the orchestrator decides the outcome.
		if e.Value != stream.StatusError {
			s.send(EventStatus, map[string]string{"status": string(e.Value)})
		}
	}
}

func (s *sseWriter) OnFallback(result *biz.ChatResult) {
	s.start(result.Provider, result.Model, true)
	s.send(EventFallback, result)
}

func (s *sseWriter) fail(se *errors.Error) {
	s.send(EventError, map[string]interface{}{
		"code":    se.Reason,
		"status":  se.Code,
		"message": se.Message,
	})
}

func (s *sseWriter) finish(result *biz.ChatResult) {
	s.send(EventFinish, map[string]interface{}{
		"provider":     result.Provider,
		"model":        result.Model,
		"usedFallback": result.UsedFallback,
	})
}
