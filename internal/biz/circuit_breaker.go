package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"MetaDJ/internal/conf"
	"MetaDJ/internal/model"
	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultFailureThreshold   = 3
	defaultRecoveryWindow     = 60 * time.Second
	defaultSuccessResetWindow = 300 * time.Second
	defaultWriteQueueSize     = 256
	circuitStoreTimeout       = 2 * time.Second
)

// ProviderHealth is the observable breaker state of one provider.
type ProviderHealth struct {
	Healthy       bool               `json:"healthy"`
	State         model.CircuitState `json:"state"`
	Failures      int                `json:"failures"`
	TotalFailures int                `json:"totalFailures"`
	LastFailure   *time.Time         `json:"lastFailure"`
	LastSuccess   *time.Time         `json:"lastSuccess"`
}

// circuitWrite is one queued store operation. A non-nil reset channel asks
// the writer to clear the store and report the result.
type circuitWrite struct {
	rec   *model.CircuitRecord
	reset chan error
}

// CircuitBreakerUsecase tracks provider health. Decisions are made from the
// in-process records; the repo receives copies through a background queue so
// the request path never waits on the store.
type CircuitBreakerUsecase struct {
	repo   CircuitBreakerRepo
	events CircuitEventSink
	logger *pkglog.LogHelper

	threshold    int
	recovery     time.Duration
	successReset time.Duration

	mu      sync.Mutex
	records map[string]*model.CircuitRecord

	qmu    sync.RWMutex
	closed bool
	writes chan circuitWrite
	done   chan struct{}

	now func() time.Time
}

// NewCircuitBreakerUsecase creates the breaker and starts its store writer.
// The returned cleanup drains pending writes.
func NewCircuitBreakerUsecase(c *conf.Resilience, repo CircuitBreakerRepo, events CircuitEventSink, logger log.Logger) (*CircuitBreakerUsecase, func()) {
	uc := &CircuitBreakerUsecase{
		repo:         repo,
		events:       events,
		logger:       pkglog.NewLogHelper(log.With(logger, "module", "biz/circuit")),
		threshold:    defaultFailureThreshold,
		recovery:     defaultRecoveryWindow,
		successReset: defaultSuccessResetWindow,
		records:      make(map[string]*model.CircuitRecord),
		done:         make(chan struct{}),
		now:          time.Now,
	}

	queueSize := defaultWriteQueueSize
	hydrate := false
	if c != nil && c.Circuit != nil {
		if c.Circuit.FailureThreshold > 0 {
			uc.threshold = c.Circuit.FailureThreshold
		}
		if c.Circuit.RecoveryWindow > 0 {
			uc.recovery = c.Circuit.RecoveryWindow
		}
		if c.Circuit.SuccessResetWindow > 0 {
			uc.successReset = c.Circuit.SuccessResetWindow
		}
		if c.Circuit.WriteQueueSize > 0 {
			queueSize = c.Circuit.WriteQueueSize
		}
		hydrate = c.Circuit.Hydrate
	}
	uc.writes = make(chan circuitWrite, queueSize)

	go uc.writer()

	if hydrate {
		ctx, cancel := context.WithTimeout(context.Background(), circuitStoreTimeout)
		if err := uc.Hydrate(ctx); err != nil {
			uc.logger.Store("circuit hydration failed, starting with empty state", "error", err)
		}
		cancel()
	}

	return uc, uc.Close
}

// IsOpen reports whether traffic to provider is blocked. An open circuit
// whose recovery window has elapsed moves to half-open and lets the caller
// through as the probe. Other callers stay blocked until the probe records
// an outcome. A probe that records nothing within the recovery window is
// abandoned and the next caller becomes the probe.
func (uc *CircuitBreakerUsecase) IsOpen(provider string) bool {
	uc.mu.Lock()
	rec, ok := uc.records[provider]
	if !ok {
		uc.mu.Unlock()
		return false
	}

	now := uc.now()
	if rec.State == model.CircuitOpen && now.Sub(rec.LastFailureAt) > uc.recovery {
		rec.State = model.CircuitHalfOpen
		rec.HalfOpenSince = now
		snapshot := rec.Clone()
		uc.mu.Unlock()

		uc.enqueue(snapshot)
		uc.publish(snapshot, model.TransitionHalfOpened, model.CircuitOpen, "recovery window elapsed")
		return false
	}

	if rec.State == model.CircuitHalfOpen {
		if now.Sub(rec.HalfOpenSince) > uc.recovery {
			rec.HalfOpenSince = now
			uc.mu.Unlock()
			return false
		}
		uc.mu.Unlock()
		return true
	}

	open := rec.State == model.CircuitOpen
	uc.mu.Unlock()
	return open
}

// RecordFailure counts a provider-level failure. A failure while half-open
// re-opens the circuit immediately.
func (uc *CircuitBreakerUsecase) RecordFailure(provider, reason string) {
	uc.mu.Lock()
	now := uc.now()
	rec := uc.record(provider)
	from := rec.State

	if from == model.CircuitClosed && rec.ConsecutiveFailures > 0 &&
		now.Sub(rec.LastFailureAt) > uc.successReset {
		rec.ConsecutiveFailures = 0
	}

	rec.ConsecutiveFailures++
	rec.TotalFailures++
	rec.LastFailureAt = now

	switch {
	case from == model.CircuitHalfOpen:
		rec.State = model.CircuitOpen
	case from == model.CircuitClosed && rec.ConsecutiveFailures >= uc.threshold:
		rec.State = model.CircuitOpen
	}
	snapshot := rec.Clone()
	uc.mu.Unlock()

	uc.enqueue(snapshot)
	if snapshot.State != from {
		uc.publish(snapshot, model.TransitionOpened, from, reason)
		uc.logger.Circuit("circuit opened",
			"provider", provider,
			"consecutive_failures", snapshot.ConsecutiveFailures,
			"reason", reason)
	}
}

// RecordSuccess closes the circuit from any state.
func (uc *CircuitBreakerUsecase) RecordSuccess(provider string) {
	uc.mu.Lock()
	rec := uc.record(provider)
	from := rec.State
	rec.ConsecutiveFailures = 0
	rec.LastSuccessAt = uc.now()
	rec.State = model.CircuitClosed
	rec.HalfOpenSince = time.Time{}
	snapshot := rec.Clone()
	uc.mu.Unlock()

	uc.enqueue(snapshot)
	if from != model.CircuitClosed {
		uc.publish(snapshot, model.TransitionClosed, from, "")
		uc.logger.Circuit("circuit closed", "provider", provider, "from", string(from))
	}
}

// Record returns a copy of the provider's record, nil when never seen.
func (uc *CircuitBreakerUsecase) Record(provider string) *model.CircuitRecord {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.records[provider].Clone()
}

// GetHealth returns the state of every provider seen so far.
func (uc *CircuitBreakerUsecase) GetHealth() map[string]ProviderHealth {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	health := make(map[string]ProviderHealth, len(uc.records))
	for name, rec := range uc.records {
		health[name] = healthOf(rec)
	}
	return health
}

func healthOf(rec *model.CircuitRecord) ProviderHealth {
	h := ProviderHealth{
		Healthy:       rec.State != model.CircuitOpen,
		State:         rec.State,
		Failures:      rec.ConsecutiveFailures,
		TotalFailures: rec.TotalFailures,
	}
	if !rec.LastFailureAt.IsZero() {
		t := rec.LastFailureAt
		h.LastFailure = &t
	}
	if !rec.LastSuccessAt.IsZero() {
		t := rec.LastSuccessAt
		h.LastSuccess = &t
	}
	return h
}

// ResetAll clears every record locally and in the store. The store delete is
// ordered after writes already queued.
func (uc *CircuitBreakerUsecase) ResetAll(ctx context.Context) error {
	uc.mu.Lock()
	names := make([]string, 0, len(uc.records))
	for name := range uc.records {
		names = append(names, name)
	}
	uc.records = make(map[string]*model.CircuitRecord)
	uc.mu.Unlock()

	sort.Strings(names)
	at := uc.now()
	for _, name := range names {
		uc.events.Publish(ctx, &model.CircuitEvent{
			Provider:   name,
			Transition: model.TransitionReset,
			To:         model.CircuitClosed,
			Reason:     "administrative reset",
			At:         at,
		})
	}
	uc.logger.Circuit("all circuits reset", "providers", len(names))

	w := circuitWrite{reset: make(chan error, 1)}
	uc.qmu.RLock()
	if uc.closed {
		uc.qmu.RUnlock()
		return uc.repo.DeleteAll(ctx)
	}
	select {
	case uc.writes <- w:
		uc.qmu.RUnlock()
	case <-ctx.Done():
		uc.qmu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-w.reset:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hydrate loads persisted records for providers not yet tracked locally.
func (uc *CircuitBreakerUsecase) Hydrate(ctx context.Context) error {
	recs, err := uc.repo.LoadAll(ctx)
	if err != nil {
		return err
	}

	uc.mu.Lock()
	loaded := 0
	for _, rec := range recs {
		if rec == nil || rec.Provider == "" {
			continue
		}
		if _, ok := uc.records[rec.Provider]; ok {
			continue
		}
		uc.records[rec.Provider] = rec.Clone()
		loaded++
	}
	uc.mu.Unlock()

	uc.logger.Startup("circuit state hydrated", "records", loaded)
	return nil
}

// Close stops the writer after pending writes are flushed and closes the
// event sink. It is safe to call more than once.
func (uc *CircuitBreakerUsecase) Close() {
	uc.qmu.Lock()
	if uc.closed {
		uc.qmu.Unlock()
		return
	}
	uc.closed = true
	close(uc.writes)
	uc.qmu.Unlock()

	<-uc.done
	uc.events.Close()
}

// record returns the provider's record, creating a closed one. Callers hold mu.
func (uc *CircuitBreakerUsecase) record(provider string) *model.CircuitRecord {
	rec, ok := uc.records[provider]
	if !ok {
		rec = &model.CircuitRecord{Provider: provider, State: model.CircuitClosed}
		uc.records[provider] = rec
	}
	return rec
}

func (uc *CircuitBreakerUsecase) enqueue(rec *model.CircuitRecord) {
	uc.qmu.RLock()
	defer uc.qmu.RUnlock()
	if uc.closed {
		return
	}
	select {
	case uc.writes <- circuitWrite{rec: rec}:
	default:
		uc.logger.Store("circuit write queue full, dropping write",
			"provider", rec.Provider,
			"state", string(rec.State))
	}
}

func (uc *CircuitBreakerUsecase) writer() {
	defer close(uc.done)
	for w := range uc.writes {
		ctx, cancel := context.WithTimeout(context.Background(), circuitStoreTimeout)
		if w.reset != nil {
			w.reset <- uc.repo.DeleteAll(ctx)
		} else if err := uc.repo.Save(ctx, w.rec); err != nil {
			uc.logger.Store("circuit state write failed, keeping local state",
				"provider", w.rec.Provider,
				"error", err)
		}
		cancel()
	}
}

func (uc *CircuitBreakerUsecase) publish(rec *model.CircuitRecord, t model.CircuitTransition, from model.CircuitState, reason string) {
	uc.events.Publish(context.Background(), &model.CircuitEvent{
		Provider:            rec.Provider,
		Transition:          t,
		From:                from,
		To:                  rec.State,
		ConsecutiveFailures: rec.ConsecutiveFailures,
		TotalFailures:       rec.TotalFailures,
		Reason:              reason,
		At:                  uc.now(),
	})
}
