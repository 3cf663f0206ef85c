package biz

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"MetaDJ/internal/conf"
	"MetaDJ/internal/data"
	"MetaDJ/internal/model"
	"MetaDJ/pkg/provider"
	"MetaDJ/pkg/stream"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRateLimitRepo is a mock implementation of RateLimitRepo for testing.
type MockRateLimitRepo struct {
	mock.Mock
}

func (m *MockRateLimitRepo) FixedWindow(ctx context.Context, key string, limit int, window time.Duration) (*model.WindowResult, error) {
	args := m.Called(ctx, key, limit, window)
	res, _ := args.Get(0).(*model.WindowResult)
	return res, args.Error(1)
}

func (m *MockRateLimitRepo) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (*model.WindowResult, error) {
	args := m.Called(ctx, key, limit, window)
	res, _ := args.Get(0).(*model.WindowResult)
	return res, args.Error(1)
}

// MockCircuitBreakerRepo is a mock implementation of CircuitBreakerRepo for testing.
type MockCircuitBreakerRepo struct {
	mock.Mock
}

func (m *MockCircuitBreakerRepo) Save(ctx context.Context, rec *model.CircuitRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockCircuitBreakerRepo) Load(ctx context.Context, provider string) (*model.CircuitRecord, error) {
	args := m.Called(ctx, provider)
	rec, _ := args.Get(0).(*model.CircuitRecord)
	return rec, args.Error(1)
}

func (m *MockCircuitBreakerRepo) LoadAll(ctx context.Context) ([]*model.CircuitRecord, error) {
	args := m.Called(ctx)
	recs, _ := args.Get(0).([]*model.CircuitRecord)
	return recs, args.Error(1)
}

func (m *MockCircuitBreakerRepo) DeleteAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink collects circuit events.
type recordingSink struct {
	mu     sync.Mutex
	events []*model.CircuitEvent
	closed int
}

func (s *recordingSink) Publish(_ context.Context, ev *model.CircuitEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *recordingSink) transitions() []model.CircuitTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CircuitTransition, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Transition)
	}
	return out
}

func testResilience() *conf.Resilience {
	return &conf.Resilience{
		Circuit: &conf.Circuit{
			FailureThreshold:   3,
			RecoveryWindow:     60 * time.Second,
			SuccessResetWindow: 300 * time.Second,
			WriteQueueSize:     64,
		},
		RateLimit: &conf.RateLimit{
			Window:           5 * time.Minute,
			WindowMax:        20,
			BurstInterval:    500 * time.Millisecond,
			TranscribeWindow: 5 * time.Minute,
			TranscribeMax:    5,
		},
	}
}

// newTestBreaker creates a breaker over repo driven by a fake clock.
func newTestBreaker(t *testing.T, c *conf.Resilience, repo CircuitBreakerRepo) (*CircuitBreakerUsecase, *fakeClock, *recordingSink) {
	t.Helper()
	if repo == nil {
		repo = data.NewMemoryCircuitRepo()
	}
	sink := &recordingSink{}
	uc, cleanup := NewCircuitBreakerUsecase(c, repo, sink, log.DefaultLogger)
	clock := newFakeClock()
	uc.now = clock.Now
	t.Cleanup(cleanup)
	return uc, clock, sink
}

// newTestLimiter creates a local-mode limiter whose store uses clock.
func newTestLimiter(t *testing.T, c *conf.Resilience, clock *fakeClock) (*RateLimiterUseCase, *data.LocalRateLimitRepo) {
	t.Helper()
	local, err := data.NewLocalRateLimitRepo(100)
	require.NoError(t, err)
	local.SetClock(clock.Now)
	uc := NewRateLimiterUseCase(c, nil, local, log.DefaultLogger)
	uc.now = clock.Now
	return uc, local
}

// chunkReader returns chunks one Read at a time, then err (io.EOF when nil).
type chunkReader struct {
	chunks []string
	err    error
	closed bool
}

func newChunkReader(err error, chunks ...string) *chunkReader {
	return &chunkReader{chunks: chunks, err: err}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err == nil {
			return 0, io.EOF
		}
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

// fakeUpstream is a scripted provider.
type fakeUpstream struct {
	name  string
	model string

	mu              sync.Mutex
	streamFn        func(ctx context.Context) (io.ReadCloser, error)
	completeFn      func(ctx context.Context) (*provider.Reply, error)
	transcribeFn    func(ctx context.Context, audio io.Reader) (string, error)
	noTranscription bool
	streamCalls     int
	completeCalls   int
	transcribeCalls int
}

func newFakeUpstream(name string) *fakeUpstream {
	return &fakeUpstream{
		name:  name,
		model: name + "-model",
		streamFn: func(context.Context) (io.ReadCloser, error) {
			return nil, errors.New("stream not scripted")
		},
		completeFn: func(context.Context) (*provider.Reply, error) {
			return nil, errors.New("complete not scripted")
		},
		transcribeFn: func(context.Context, io.Reader) (string, error) {
			return "", errors.New("transcribe not scripted")
		},
	}
}

func (f *fakeUpstream) Name() string  { return f.name }
func (f *fakeUpstream) Model() string { return f.model }

func (f *fakeUpstream) Stream(ctx context.Context, _ *provider.Request) (io.ReadCloser, error) {
	f.mu.Lock()
	f.streamCalls++
	fn := f.streamFn
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeUpstream) Complete(ctx context.Context, _ *provider.Request) (*provider.Reply, error) {
	f.mu.Lock()
	f.completeCalls++
	fn := f.completeFn
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeUpstream) CanTranscribe() bool { return !f.noTranscription }

func (f *fakeUpstream) Transcribe(ctx context.Context, audio io.Reader, _, _ string) (string, error) {
	f.mu.Lock()
	f.transcribeCalls++
	fn := f.transcribeFn
	f.mu.Unlock()
	return fn(ctx, audio)
}

func (f *fakeUpstream) streams(body string) {
	f.streamFn = func(context.Context) (io.ReadCloser, error) {
		return newChunkReader(nil, body), nil
	}
}

func (f *fakeUpstream) replies(text string) {
	f.completeFn = func(context.Context) (*provider.Reply, error) {
		return &provider.Reply{Text: text, Model: f.model}, nil
	}
}

func (f *fakeUpstream) calls() (stream, complete int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCalls, f.completeCalls
}

// recordingHandler collects what a streaming client would see.
type recordingHandler struct {
	mu       sync.Mutex
	started  []string
	events   []stream.Event
	fallback *ChatResult
	onEvent  func(ev stream.Event)
}

func (h *recordingHandler) OnStart(provider, model string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, provider+"/"+model)
}

func (h *recordingHandler) OnEvent(ev stream.Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	fn := h.onEvent
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *recordingHandler) OnFallback(result *ChatResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallback = result
}

func (h *recordingHandler) text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var b strings.Builder
	for _, ev := range h.events {
		if td, ok := ev.(stream.TextDelta); ok {
			b.WriteString(td.Text)
		}
	}
	return b.String()
}

// chatFixture wires a ChatUsecase over fake upstreams.
type chatFixture struct {
	chat      *ChatUsecase
	breaker   *CircuitBreakerUsecase
	clock     *fakeClock
	primary   *fakeUpstream
	secondary *fakeUpstream
}

func newChatFixture(t *testing.T, c *conf.Resilience, withSecondary bool) *chatFixture {
	t.Helper()
	if c == nil {
		c = testResilience()
	}
	breaker, clock, _ := newTestBreaker(t, c, nil)
	limiter, _ := newTestLimiter(t, c, clock)

	f := &chatFixture{breaker: breaker, clock: clock, primary: newFakeUpstream("openai")}
	reg := &ProviderRegistry{primary: f.primary}
	if withSecondary {
		f.secondary = newFakeUpstream("anthropic")
		reg.secondary = f.secondary
	}

	f.chat = NewChatUsecase(&conf.Providers{
		StreamTimeout: 5 * time.Second,
		SyncTimeout:   5 * time.Second,
	}, &conf.Parser{KnownTools: []string{"searchCatalog"}}, reg, breaker, limiter, log.DefaultLogger)
	return f
}

// chatRequest uses a fingerprint identity so the burst guard stays out of the way.
func chatRequest() *ChatRequest {
	return &ChatRequest{
		ClientID:      "fp-test",
		IsFingerprint: true,
		Messages:      []provider.Message{{Role: "user", Content: "play something mellow"}},
	}
}
