// Package provider is the HTTP client for upstream LLM providers. It exposes
// a streaming chat endpoint, a synchronous chat endpoint and transcription.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	pkgerrors "MetaDJ/pkg/errors"
	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	// DefaultSyncTimeout bounds synchronous calls when none is configured.
	DefaultSyncTimeout = 30 * time.Second

	// UserAgent sent on every upstream call.
	UserAgent = "MetaDJ/1.0"

	maxErrorBody = 4096
	// MaxResponseBody caps a synchronous or transcription reply.
	MaxResponseBody = 8 << 20
)

// replyPaths are probed in order to find the assistant text of a synchronous reply.
var replyPaths = []string{
	"reply",
	"text",
	"choices.0.message.content",
	"content.0.text",
	"content",
	"message.content",
}

// Config describes one upstream provider.
type Config struct {
	Name           string
	BaseURL        string
	APIKey         string
	Model          string
	StreamPath     string
	SyncPath       string
	TranscribePath string
	ProxyURL       string
	SyncTimeout    time.Duration
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-neutral chat request body.
type Request struct {
	Messages []Message      `json:"messages"`
	Model    string         `json:"model,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Stream   bool           `json:"stream"`
}

// Reply is a synchronous chat answer.
type Reply struct {
	Text        string
	Model       string
	ToolResults []json.RawMessage
}

// Error is a non-2xx upstream response.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s returned HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// HTTPStatus exposes the upstream status for error classification.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

// Client talks to one provider.
type Client struct {
	cfg        Config
	streamHTTP *http.Client
	syncHTTP   *http.Client
	log        *log.Helper
}

// New creates a provider client.
func New(cfg Config, logger log.Logger) (*Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base URL cannot be empty", cfg.Name)
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}

	transport, err := newTransport(cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
	}

	return &Client{
		cfg: cfg,
		// Streams are bounded by the caller's context, not a client timeout.
		streamHTTP: &http.Client{Transport: transport},
		syncHTTP:   &http.Client{Transport: transport, Timeout: cfg.SyncTimeout},
		log:        log.NewHelper(log.With(logger, "module", "provider", "provider", cfg.Name)),
	}, nil
}

// Name returns the provider identity.
func (c *Client) Name() string { return c.cfg.Name }

// Model returns the default model.
func (c *Client) Model() string { return c.cfg.Model }

// CanTranscribe reports whether a transcription endpoint is configured.
func (c *Client) CanTranscribe() bool { return c.cfg.TranscribePath != "" }

// Stream starts a streaming chat call and returns the response body. The
// caller must close it.
func (c *Client) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	body := *req
	body.Stream = true
	if body.Model == "" {
		body.Model = c.cfg.Model
	}

	httpReq, err := c.jsonRequest(ctx, c.cfg.StreamPath, &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamHTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider %s stream request failed: %w", c.cfg.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.statusError(resp)
	}

	c.log.Debugw("msg", "stream opened", "model", body.Model, "status", resp.StatusCode)
	return resp.Body, nil
}

// Complete performs a synchronous chat call.
func (c *Client) Complete(ctx context.Context, req *Request) (*Reply, error) {
	body := *req
	body.Stream = false
	if body.Model == "" {
		body.Model = c.cfg.Model
	}

	httpReq, err := c.jsonRequest(ctx, c.cfg.SyncPath, &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	raw, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("provider %s returned invalid JSON: %w", c.cfg.Name, io.ErrUnexpectedEOF)
	}

	data := gjson.ParseBytes(raw)
	reply := &Reply{Model: body.Model}
	if model := data.Get("model").String(); model != "" {
		reply.Model = model
	}
	for _, path := range replyPaths {
		if v := data.Get(path); v.Exists() && v.Type == gjson.String {
			reply.Text = v.String()
			break
		}
	}
	data.Get("toolResults").ForEach(func(_, value gjson.Result) bool {
		reply.ToolResults = append(reply.ToolResults, json.RawMessage(value.Raw))
		return true
	})

	return reply, nil
}

// Transcribe uploads audio to the transcription endpoint and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, model string) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("failed to read audio: %w", err)
	}
	if model != "" {
		if err := form.WriteField("model", model); err != nil {
			return "", fmt.Errorf("failed to write model field: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := c.newRequest(ctx, c.cfg.TranscribePath, &buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	raw, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	text := gjson.GetBytes(raw, "text")
	if !text.Exists() {
		return "", fmt.Errorf("provider %s transcription response has no text", c.cfg.Name)
	}
	return text.String(), nil
}

func (c *Client) jsonRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := c.newRequest(ctx, path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) newRequest(ctx context.Context, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("User-Agent", UserAgent)

	requestID := pkglog.GetRequestID(ctx)
	if requestID == "unknown" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.syncHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s request failed: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("provider %s failed to read response: %w", c.cfg.Name, err)
	}
	if len(raw) > MaxResponseBody {
		return nil, pkgerrors.AsProvider(
			fmt.Errorf("provider %s response exceeds %d bytes", c.cfg.Name, MaxResponseBody),
			pkgerrors.ReasonUnavailable)
	}
	return raw, nil
}

func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(raw))
	if gjson.ValidBytes(raw) {
		for _, path := range []string{"error.message", "error", "message"} {
			if v := gjson.GetBytes(raw, path); v.Exists() && v.Type == gjson.String {
				msg = v.String()
				break
			}
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &Error{Provider: c.cfg.Name, StatusCode: resp.StatusCode, Message: msg}
}
