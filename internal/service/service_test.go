package service

import (
	"bufio"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"MetaDJ/internal/biz"
	"MetaDJ/internal/conf"
	"MetaDJ/internal/data"
	"MetaDJ/internal/server/middleware"
	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/stretchr/testify/require"
)

const upstreamSSE = "data: {\"type\":\"start\"}\n" +
	"data: {\"type\":\"text-delta\",\"delta\":\"hello \"}\n" +
	"data: {\"type\":\"text-delta\",\"delta\":\"world\"}\n" +
	"data: {\"type\":\"finish\"}\n" +
	"data: [DONE]\n"

// fakeProvider is an upstream provider API served by httptest.
type fakeProvider struct {
	mu         sync.Mutex
	stream     stdhttp.HandlerFunc
	sync       stdhttp.HandlerFunc
	transcribe stdhttp.HandlerFunc
	hits       map[string]int
	srv        *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{hits: make(map[string]int)}
	p.stream = func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, upstreamSSE)
	}
	p.sync = func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		_, _ = io.WriteString(w, `{"reply":"sync hello","model":"sync-model"}`)
	}
	p.transcribe = func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		_, _ = io.WriteString(w, `{"text":"play some jazz"}`)
	}

	mux := stdhttp.NewServeMux()
	mux.HandleFunc("/v1/chat/stream", p.handle("stream", func() stdhttp.HandlerFunc { return p.stream }))
	mux.HandleFunc("/v1/chat", p.handle("sync", func() stdhttp.HandlerFunc { return p.sync }))
	mux.HandleFunc("/v1/audio/transcriptions", p.handle("transcribe", func() stdhttp.HandlerFunc { return p.transcribe }))
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) handle(name string, get func() stdhttp.HandlerFunc) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		p.mu.Lock()
		p.hits[name]++
		h := get()
		p.mu.Unlock()
		h(w, r)
	}
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakeProvider) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[name]
}

func failWith(status int) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream failure"}}`)
	}
}

type fixture struct {
	srv       *http.Server
	primary   *fakeProvider
	secondary *fakeProvider
	breaker   *biz.CircuitBreakerUsecase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.DefaultLogger
	f := &fixture{primary: newFakeProvider(t), secondary: newFakeProvider(t)}

	pc := &conf.Providers{
		Primary:       "openai",
		Secondary:     "anthropic",
		StreamTimeout: 5 * time.Second,
		SyncTimeout:   5 * time.Second,
		Upstreams: []*conf.Provider{
			{Name: "openai", BaseURL: f.primary.srv.URL, Model: "gpt-4o-mini",
				StreamPath: "/v1/chat/stream", SyncPath: "/v1/chat", TranscribePath: "/v1/audio/transcriptions"},
			{Name: "anthropic", BaseURL: f.secondary.srv.URL, Model: "claude-3-5-haiku",
				StreamPath: "/v1/chat/stream", SyncPath: "/v1/chat", TranscribePath: "/v1/audio/transcriptions"},
		},
	}
	rc := &conf.Resilience{
		Circuit: &conf.Circuit{FailureThreshold: 3, RecoveryWindow: time.Minute, SuccessResetWindow: 5 * time.Minute},
		RateLimit: &conf.RateLimit{
			Window: 5 * time.Minute, WindowMax: 20, BurstInterval: 500 * time.Millisecond,
			TranscribeWindow: 5 * time.Minute, TranscribeMax: 5,
		},
	}

	registry, err := biz.NewProviderRegistry(pc, &conf.Auth{}, logger)
	require.NoError(t, err)
	breaker, cleanup := biz.NewCircuitBreakerUsecase(rc, data.NewMemoryCircuitRepo(), data.NewLogEventSink(logger), logger)
	t.Cleanup(cleanup)
	local, err := data.NewLocalRateLimitRepo(100)
	require.NoError(t, err)
	limiter := biz.NewRateLimiterUseCase(rc, nil, local, logger)

	chatUC := biz.NewChatUsecase(pc, &conf.Parser{}, registry, breaker, limiter, logger)
	transcribeUC := biz.NewTranscribeUsecase(pc, registry, breaker, limiter, logger)

	helper := pkglog.NewLogHelper(logger)
	f.srv = http.NewServer(http.Middleware(middleware.Identity(helper), middleware.Logging(helper)))
	NewChatService(chatUC, logger).RegisterRoutes(f.srv)
	NewTranscribeService(transcribeUC, logger).RegisterRoutes(f.srv)
	NewHealthService(chatUC, logger).RegisterRoutes(f.srv)
	f.breaker = breaker
	return f
}

func (f *fixture) do(req *stdhttp.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func chatBody() string {
	return `{"messages":[{"role":"user","content":"play something upbeat"}],"context":{"mood":"happy"}}`
}

func postJSON(path, body string) *stdhttp.Request {
	req := httptest.NewRequest(stdhttp.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type sseEvent struct {
	Name string
	Data json.RawMessage
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(strings.TrimPrefix(line, "data: "))
		case line == "":
			if cur.Name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}
