package biz

import (
	"context"
	"fmt"
	"io"
	"time"

	"MetaDJ/internal/conf"
	pkgerrors "MetaDJ/pkg/errors"
	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// TranscribeRequest is one audio upload.
type TranscribeRequest struct {
	ClientID      string
	IsFingerprint bool
	Audio         io.Reader
	Filename      string
	Model         string
}

// TranscribeResult is the recognized text.
type TranscribeResult struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

// TranscribeUsecase runs transcriptions under their own rate-limit policy
// and the same circuit breaker as chat.
type TranscribeUsecase struct {
	registry *ProviderRegistry
	breaker  *CircuitBreakerUsecase
	limiter  *RateLimiterUseCase
	timeout  time.Duration
	logger   *pkglog.LogHelper
}

// NewTranscribeUsecase creates a TranscribeUsecase.
func NewTranscribeUsecase(c *conf.Providers, registry *ProviderRegistry, breaker *CircuitBreakerUsecase, limiter *RateLimiterUseCase, logger log.Logger) *TranscribeUsecase {
	timeout := defaultSyncTimeout
	if c != nil && c.SyncTimeout > 0 {
		timeout = c.SyncTimeout
	}
	return &TranscribeUsecase{
		registry: registry,
		breaker:  breaker,
		limiter:  limiter,
		timeout:  timeout,
		logger:   pkglog.NewLogHelper(log.With(logger, "module", "biz/transcribe")),
	}
}

// Transcribe admits the request and sends the audio to the first provider
// that supports transcription and whose circuit is not open. The audio body
// is read once, so there is no failover after the upload started.
func (uc *TranscribeUsecase) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResult, error) {
	d := uc.limiter.Check(ctx, PolicyTranscribe, req.ClientID, req.IsFingerprint)
	if !d.Allowed {
		return nil, &RateLimitedError{Policy: PolicyTranscribe, Reason: d.Reason, RetryAfter: d.RetryAfter}
	}

	var up Upstream
	for _, candidate := range uc.registry.All() {
		if candidate.CanTranscribe() && !uc.breaker.IsOpen(candidate.Name()) {
			up = candidate
			break
		}
	}
	if up == nil {
		return nil, ErrNoHealthyProvider
	}

	tctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	start := time.Now()
	text, err := up.Transcribe(tctx, req.Audio, req.Filename, req.Model)
	if err != nil {
		if ctx.Err() == nil && pkgerrors.IsProviderLevel(err) {
			uc.breaker.RecordFailure(up.Name(), pkgerrors.Classify(err).Reason)
		}
		uc.logger.Errorw("msg", "transcription failed", "provider", up.Name(), "error", err)
		return nil, newChatError(up.Name(), err)
	}
	if text == "" {
		err := fmt.Errorf("provider %s: %w", up.Name(), errEmptyResponse)
		uc.breaker.RecordFailure(up.Name(), pkgerrors.Classify(err).Reason)
		return nil, newChatError(up.Name(), err)
	}

	uc.breaker.RecordSuccess(up.Name())
	uc.logger.Gateway("transcription complete",
		"provider", up.Name(),
		"chars", len(text),
		"duration_ms", time.Since(start).Milliseconds())
	return &TranscribeResult{Text: text, Provider: up.Name()}, nil
}
