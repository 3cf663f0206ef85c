package biz

import (
	"context"
	"fmt"
	"time"

	"MetaDJ/internal/conf"
	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// Named rate-limit policies.
const (
	PolicyChat       = "chat"
	PolicyTranscribe = "transcribe"
)

// Decision reasons.
const (
	ReasonAllowed          = "allowed"
	ReasonBurst            = "burst"
	ReasonWindow           = "window"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonUnknownPolicy    = "unknown_policy"
)

const defaultStoreTimeout = 500 * time.Millisecond

// RateLimitPolicy is one independently counted quota over client identities.
type RateLimitPolicy struct {
	Name          string
	Prefix        string
	WindowMax     int
	Window        time.Duration
	BurstInterval time.Duration
}

// WindowKey is the sliding-window key of a client.
func (p RateLimitPolicy) WindowKey(clientID string) string {
	return p.Prefix + ":" + clientID
}

// BurstKey is the burst-guard key of a client.
func (p RateLimitPolicy) BurstKey(clientID string) string {
	return p.Prefix + "-burst:" + clientID
}

// Decision is the admission result. A denied decision carries RetryAfter.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	Reason     string
}

// RateLimiterUseCase admits requests per client through a burst guard and a
// sliding window quota. One Check consumes one unit of quota.
type RateLimiterUseCase struct {
	shared       RateLimitRepo
	local        LocalRateLimitStore
	policies     map[string]RateLimitPolicy
	failClosed   bool
	storeTimeout time.Duration
	logger       *pkglog.LogHelper
	now          func() time.Time
}

// NewRateLimiterUseCase creates a new rate limiter use case. A nil shared
// repo means local-memory mode.
func NewRateLimiterUseCase(c *conf.Resilience, shared RateLimitRepo, local LocalRateLimitStore, logger log.Logger) *RateLimiterUseCase {
	rl := &conf.RateLimit{
		Window:           5 * time.Minute,
		WindowMax:        20,
		BurstInterval:    500 * time.Millisecond,
		TranscribeWindow: 5 * time.Minute,
		TranscribeMax:    5,
		StoreTimeout:     defaultStoreTimeout,
	}
	if c != nil && c.RateLimit != nil {
		in := c.RateLimit
		if in.Window > 0 {
			rl.Window = in.Window
		}
		if in.WindowMax > 0 {
			rl.WindowMax = in.WindowMax
		}
		if in.BurstInterval > 0 {
			rl.BurstInterval = in.BurstInterval
		}
		if in.TranscribeWindow > 0 {
			rl.TranscribeWindow = in.TranscribeWindow
		}
		if in.TranscribeMax > 0 {
			rl.TranscribeMax = in.TranscribeMax
		}
		if in.StoreTimeout > 0 {
			rl.StoreTimeout = in.StoreTimeout
		}
		rl.FailClosed = in.FailClosed
	}

	uc := &RateLimiterUseCase{
		shared:       shared,
		local:        local,
		failClosed:   rl.FailClosed,
		storeTimeout: rl.StoreTimeout,
		logger:       pkglog.NewLogHelper(log.With(logger, "module", "biz/ratelimit")),
		now:          time.Now,
		policies: map[string]RateLimitPolicy{
			PolicyChat: {
				Name:          PolicyChat,
				Prefix:        "metadjai",
				WindowMax:     rl.WindowMax,
				Window:        rl.Window,
				BurstInterval: rl.BurstInterval,
			},
			PolicyTranscribe: {
				Name:          PolicyTranscribe,
				Prefix:        "metadjai-transcribe",
				WindowMax:     rl.TranscribeMax,
				Window:        rl.TranscribeWindow,
				BurstInterval: rl.BurstInterval,
			},
		},
	}

	mode := "local"
	if shared != nil {
		mode = "shared"
	}
	uc.logger.Startup("rate limiter ready",
		"store_mode", mode,
		"fail_closed", rl.FailClosed,
		"window_max", rl.WindowMax,
		"window", rl.Window.String(),
		"transcribe_max", rl.TranscribeMax)

	return uc
}

// Policy returns the named policy.
func (uc *RateLimiterUseCase) Policy(name string) (RateLimitPolicy, bool) {
	p, ok := uc.policies[name]
	return p, ok
}

// Check admits or rejects one request of clientID under policy. The burst
// guard is skipped for fingerprint identities, which may be shared by
// unrelated users.
//
// On shared-store failure the request is denied when fail-closed is set and
// admitted through the local store otherwise.
func (uc *RateLimiterUseCase) Check(ctx context.Context, policy, clientID string, isFingerprint bool) *Decision {
	p, ok := uc.policies[policy]
	if !ok {
		uc.logger.RateLimit("unknown rate limit policy", "policy", policy)
		return &Decision{Allowed: false, Reason: ReasonUnknownPolicy}
	}

	if uc.shared == nil {
		d, _ := uc.check(ctx, uc.local, p, clientID, isFingerprint)
		return uc.log(p, clientID, d)
	}

	sctx, cancel := context.WithTimeout(ctx, uc.storeTimeout)
	d, err := uc.check(sctx, uc.shared, p, clientID, isFingerprint)
	cancel()
	if err == nil {
		return uc.log(p, clientID, d)
	}

	if uc.failClosed {
		uc.logger.RateLimit("shared store unavailable, denying request (fail-closed)",
			"policy", p.Name,
			"client_id", clientID,
			"error", err)
		return &Decision{Allowed: false, RetryAfter: retryFloor(p.BurstInterval), Reason: ReasonStoreUnavailable}
	}

	uc.logger.RateLimit("shared store unavailable, admitting through local store (fail-open)",
		"policy", p.Name,
		"client_id", clientID,
		"error", err)
	d, _ = uc.check(ctx, uc.local, p, clientID, isFingerprint)
	return uc.log(p, clientID, d)
}

func (uc *RateLimiterUseCase) check(ctx context.Context, repo RateLimitRepo, p RateLimitPolicy, clientID string, isFingerprint bool) (*Decision, error) {
	if !isFingerprint && p.BurstInterval > 0 {
		res, err := repo.FixedWindow(ctx, p.BurstKey(clientID), 1, p.BurstInterval)
		if err != nil {
			return nil, fmt.Errorf("burst guard: %w", err)
		}
		if !res.Allowed {
			return &Decision{Allowed: false, RetryAfter: retryFloor(res.RetryAfter), Reason: ReasonBurst}, nil
		}
	}

	res, err := repo.SlidingWindow(ctx, p.WindowKey(clientID), p.WindowMax, p.Window)
	if err != nil {
		return nil, fmt.Errorf("window quota: %w", err)
	}
	if !res.Allowed {
		return &Decision{Allowed: false, RetryAfter: retryFloor(res.RetryAfter), Reason: ReasonWindow}, nil
	}

	remaining := p.WindowMax - res.Count
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{Allowed: true, Remaining: remaining, Reason: ReasonAllowed}, nil
}

func (uc *RateLimiterUseCase) log(p RateLimitPolicy, clientID string, d *Decision) *Decision {
	if !d.Allowed {
		uc.logger.RateLimit("rate limit exceeded",
			"policy", p.Name,
			"client_id", clientID,
			"reason", d.Reason,
			"retry_after_ms", d.RetryAfter.Milliseconds())
	}
	return d
}

// Sweep drops expired records from the local store.
func (uc *RateLimiterUseCase) Sweep() int {
	removed := uc.local.Sweep(uc.now())
	if removed > 0 {
		uc.logger.Infow("msg", "local rate limit records swept", "removed", removed, "remaining", uc.local.Len())
	}
	return removed
}

// retryFloor keeps a denial's retry hint strictly positive.
func retryFloor(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
