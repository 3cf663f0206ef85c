package biz

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"MetaDJ/internal/conf"
	"MetaDJ/internal/model"
	pkgerrors "MetaDJ/pkg/errors"
	pkglog "MetaDJ/pkg/log"
	"MetaDJ/pkg/provider"
	"MetaDJ/pkg/stream"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultStreamTimeout = 90 * time.Second
	defaultSyncTimeout   = 30 * time.Second
	streamReadSize       = 4096
)

var errEmptyResponse = stderrors.New("empty response from provider")

// ChatRequest is one logical chat request from a client.
type ChatRequest struct {
	ClientID      string
	IsFingerprint bool
	Messages      []provider.Message
	Context       map[string]any
}

func (r *ChatRequest) upstream() *provider.Request {
	return &provider.Request{Messages: r.Messages, Context: r.Context}
}

// ChatResult is the final content of a request. When UsedFallback is set the
// text comes from the synchronous endpoint and replaces anything streamed.
type ChatResult struct {
	Text         string            `json:"reply"`
	Provider     string            `json:"provider"`
	Model        string            `json:"model"`
	UsedFallback bool              `json:"usedFallback"`
	ToolCalls    []string          `json:"-"`
	ToolResults  []json.RawMessage `json:"toolResults"`
	Cancelled    bool              `json:"-"`
}

// StreamHandler receives the progress of a streamed request.
type StreamHandler interface {
	// OnStart is called once the upstream stream is open.
	OnStart(provider, model string)
	// OnEvent forwards every parsed stream event.
	OnEvent(ev stream.Event)
	// OnFallback delivers the synchronous result that replaces the stream.
	OnFallback(result *ChatResult)
}

// ChatUsecase orchestrates one request across admission, provider
// selection, streaming and the synchronous fallback.
type ChatUsecase struct {
	registry *ProviderRegistry
	breaker  *CircuitBreakerUsecase
	limiter  *RateLimiterUseCase
	logger   *pkglog.LogHelper

	parserOpts    []stream.Option
	streamTimeout time.Duration
	syncTimeout   time.Duration
}

// NewChatUsecase creates the orchestrator.
func NewChatUsecase(c *conf.Providers, pc *conf.Parser, registry *ProviderRegistry, breaker *CircuitBreakerUsecase, limiter *RateLimiterUseCase, logger log.Logger) *ChatUsecase {
	uc := &ChatUsecase{
		registry:      registry,
		breaker:       breaker,
		limiter:       limiter,
		logger:        pkglog.NewLogHelper(log.With(logger, "module", "biz/chat")),
		streamTimeout: defaultStreamTimeout,
		syncTimeout:   defaultSyncTimeout,
		parserOpts:    []stream.Option{stream.WithLogger(logger)},
	}
	if c != nil {
		if c.StreamTimeout > 0 {
			uc.streamTimeout = c.StreamTimeout
		}
		if c.SyncTimeout > 0 {
			uc.syncTimeout = c.SyncTimeout
		}
	}
	if pc != nil {
		if len(pc.KnownTools) > 0 {
			uc.parserOpts = append(uc.parserOpts, stream.WithKnownTools(pc.KnownTools...))
		}
		if pc.MaxEnvelopeSize > 0 {
			uc.parserOpts = append(uc.parserOpts, stream.WithMaxEnvelopeSize(pc.MaxEnvelopeSize))
		}
	}
	return uc
}

// Send streams a chat request to the caller through h. On a provider-level
// failure the request is retried once against the synchronous endpoint and
// the fallback result replaces the streamed content. A cancelled ctx ends
// the request with the partial content and no breaker record.
func (uc *ChatUsecase) Send(ctx context.Context, req *ChatRequest, h StreamHandler) (*ChatResult, error) {
	if err := uc.admit(ctx, PolicyChat, req.ClientID, req.IsFingerprint); err != nil {
		return nil, err
	}

	up, err := uc.selectProvider()
	if err != nil {
		return nil, err
	}
	uc.logger.Gateway("provider selected", "provider", up.Name(), "model", up.Model())

	result, streamErr := uc.stream(ctx, up, req, h)
	if streamErr == nil {
		uc.breaker.RecordSuccess(up.Name())
		uc.logger.StreamSummary(ctx, result.Provider, result.Model, "complete",
			len(result.Text), len(result.ToolResults), false)
		return result, nil
	}

	if ctx.Err() != nil {
		result.Cancelled = true
		uc.logger.StreamSummary(ctx, result.Provider, result.Model, "cancelled",
			len(result.Text), len(result.ToolResults), false)
		return result, nil
	}

	classified := pkgerrors.Classify(streamErr)
	if classified.Kind != pkgerrors.KindProvider {
		uc.logger.Warnw("msg", "stream failed with a non-provider error",
			"provider", up.Name(),
			"kind", classified.Kind.String(),
			"reason", classified.Reason,
			"error", streamErr)
		return nil, newChatError(up.Name(), streamErr)
	}

	uc.breaker.RecordFailure(up.Name(), classified.Reason)
	uc.logger.Fallback("stream failed, falling back to synchronous endpoint",
		"provider", up.Name(),
		"reason", classified.Reason,
		"partial_bytes", len(result.Text),
		"error", streamErr)

	target := up
	if uc.breaker.IsOpen(up.Name()) {
		target = uc.registry.other(up)
		if target == nil || uc.breaker.IsOpen(target.Name()) {
			uc.logger.StreamSummary(ctx, up.Name(), up.Model(), "failed",
				len(result.Text), len(result.ToolResults), false)
			return nil, newChatError(up.Name(), streamErr)
		}
	}

	fallback, err := uc.complete(ctx, target, req)
	if err != nil {
		if ctx.Err() != nil {
			result.Cancelled = true
			return result, nil
		}
		uc.logger.Errorw("msg", "fallback failed",
			"provider", target.Name(),
			"stream_error", streamErr,
			"error", err)
		uc.logger.StreamSummary(ctx, target.Name(), target.Model(), "failed", 0, 0, true)
		return nil, newChatError(target.Name(), err)
	}

	fallback.UsedFallback = true
	h.OnFallback(fallback)
	uc.logger.StreamSummary(ctx, fallback.Provider, fallback.Model, "complete",
		len(fallback.Text), len(fallback.ToolResults), true)
	return fallback, nil
}

// Complete serves the synchronous route. A provider-level failure on the
// selected provider fails over once to the other provider when its circuit
// allows it.
func (uc *ChatUsecase) Complete(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if err := uc.admit(ctx, PolicyChat, req.ClientID, req.IsFingerprint); err != nil {
		return nil, err
	}

	up, err := uc.selectProvider()
	if err != nil {
		return nil, err
	}

	result, err := uc.complete(ctx, up, req)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, newChatError(up.Name(), ctx.Err())
	}
	if !pkgerrors.IsProviderLevel(err) {
		return nil, newChatError(up.Name(), err)
	}

	other := uc.registry.other(up)
	if other == nil || uc.breaker.IsOpen(other.Name()) {
		return nil, newChatError(up.Name(), err)
	}

	uc.logger.Fallback("synchronous call failed, trying the other provider",
		"provider", up.Name(),
		"fallback_provider", other.Name(),
		"error", err)
	result, err = uc.complete(ctx, other, req)
	if err != nil {
		return nil, newChatError(other.Name(), err)
	}
	result.UsedFallback = true
	return result, nil
}

// ProviderHealth reports every configured provider, healthy when never seen.
func (uc *ChatUsecase) ProviderHealth() map[string]ProviderHealth {
	health := uc.breaker.GetHealth()
	for _, up := range uc.registry.All() {
		if _, ok := health[up.Name()]; !ok {
			health[up.Name()] = ProviderHealth{Healthy: true, State: model.CircuitClosed}
		}
	}
	return health
}

// ResetCircuits clears all breaker state.
func (uc *ChatUsecase) ResetCircuits(ctx context.Context) error {
	return uc.breaker.ResetAll(ctx)
}

func (uc *ChatUsecase) admit(ctx context.Context, policy, clientID string, isFingerprint bool) error {
	d := uc.limiter.Check(ctx, policy, clientID, isFingerprint)
	if d.Allowed {
		return nil
	}
	return &RateLimitedError{Policy: policy, Reason: d.Reason, RetryAfter: d.RetryAfter}
}

func (uc *ChatUsecase) selectProvider() (Upstream, error) {
	primary := uc.registry.Primary()
	if !uc.breaker.IsOpen(primary.Name()) {
		return primary, nil
	}
	if secondary := uc.registry.Secondary(); secondary != nil && !uc.breaker.IsOpen(secondary.Name()) {
		uc.logger.Gateway("primary circuit open, using secondary",
			"primary", primary.Name(),
			"secondary", secondary.Name())
		return secondary, nil
	}
	uc.logger.Gateway("no healthy provider", "primary", primary.Name())
	return nil, ErrNoHealthyProvider
}

// stream runs one streaming attempt. The returned result holds whatever was
// received, also when an error is returned.
func (uc *ChatUsecase) stream(ctx context.Context, up Upstream, req *ChatRequest, h StreamHandler) (*ChatResult, error) {
	result := &ChatResult{Provider: up.Name(), Model: up.Model()}

	sctx, cancel := context.WithTimeout(ctx, uc.streamTimeout)
	defer cancel()

	body, err := up.Stream(sctx, req.upstream())
	if err != nil {
		return result, err
	}
	defer body.Close()
	h.OnStart(result.Provider, result.Model)

	var text strings.Builder
	var streamErr string
	completed := false
	sink := func(ev stream.Event) {
		switch e := ev.(type) {
		case stream.TextDelta:
			text.WriteString(e.Text)
		case stream.ToolCall:
			result.ToolCalls = append(result.ToolCalls, e.Name)
		case stream.ToolResult:
			result.ToolResults = append(result.ToolResults, e.Payload)
		case stream.Error:
			if streamErr == "" {
				streamErr = e.Message
			}
		case stream.Status:
			if e.Value == stream.StatusComplete {
				completed = true
			}
		}
		h.OnEvent(ev)
	}
	parser := stream.NewParser(sink, uc.parserOpts...)

	buf := make([]byte, streamReadSize)
	var pending []byte
	var readErr error
	for {
		n, err := body.Read(buf)
		if ctx.Err() != nil {
			readErr = ctx.Err()
			break
		}
		if n > 0 {
			pending = parser.Feed(append(pending, buf[:n]...), false)
		}
		if err == io.EOF {
			parser.Feed(pending, true)
			break
		}
		if err != nil {
			readErr = fmt.Errorf("provider %s stream read failed: %w", up.Name(), err)
			break
		}
		if streamErr != "" {
			break
		}
	}
	result.Text = text.String()

	switch {
	case readErr != nil:
		return result, readErr
	case streamErr != "":
		return result, streamFailure(up.Name(), streamErr)
	case result.Text == "" && len(result.ToolResults) == 0:
		return result, fmt.Errorf("provider %s: %w", up.Name(), errEmptyResponse)
	}

	if !completed {
		uc.logger.Debugw("msg", "stream ended without a completion marker", "provider", up.Name())
	}
	return result, nil
}

// complete runs one synchronous call and records its outcome.
func (uc *ChatUsecase) complete(ctx context.Context, up Upstream, req *ChatRequest) (*ChatResult, error) {
	cctx, cancel := context.WithTimeout(ctx, uc.syncTimeout)
	defer cancel()

	reply, err := up.Complete(cctx, req.upstream())
	if err == nil && reply.Text == "" && len(reply.ToolResults) == 0 {
		err = fmt.Errorf("provider %s: %w", up.Name(), errEmptyResponse)
	}
	if err != nil {
		if ctx.Err() == nil && pkgerrors.IsProviderLevel(err) {
			uc.breaker.RecordFailure(up.Name(), pkgerrors.Classify(err).Reason)
		}
		return nil, err
	}

	uc.breaker.RecordSuccess(up.Name())
	modelName := reply.Model
	if modelName == "" {
		modelName = up.Model()
	}
	return &ChatResult{
		Text:        reply.Text,
		Provider:    up.Name(),
		Model:       modelName,
		ToolResults: reply.ToolResults,
	}, nil
}

// streamFailure turns an in-band stream error into an error. The provider
// reported it, so it counts as provider-level unless it names a client fault.
func streamFailure(provider, msg string) error {
	err := fmt.Errorf("provider %s stream error: %s", provider, msg)
	if pkgerrors.Classify(err).Kind == pkgerrors.KindUnknown {
		return pkgerrors.AsProvider(err, pkgerrors.ReasonUnavailable)
	}
	return err
}
