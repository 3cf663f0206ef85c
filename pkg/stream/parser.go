package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/tidwall/gjson"
)

// legacyMetadata lists data-stream prefixes that carry no user-visible content.
const legacyMetadata = "28bcdfghijk"

// Option configures a Parser.
type Option func(*Parser)

// WithKnownTools names the tools an {"action": ...} envelope may invoke.
func WithKnownTools(names ...string) Option {
	return func(p *Parser) {
		for _, name := range names {
			p.shim.knownTools[name] = struct{}{}
		}
	}
}

// WithMaxEnvelopeSize bounds envelope accumulation. Non-positive values keep the default.
func WithMaxEnvelopeSize(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.shim.maxSize = n
		}
	}
}

// WithLogger sets the logger used for recovered malformed chunks.
func WithLogger(logger log.Logger) Option {
	return func(p *Parser) {
		p.log = log.NewHelper(log.With(logger, "module", "stream/parser"))
	}
}

// Parser decodes SSE, legacy multiplexed and plain-text streams into Events.
// A Parser belongs to exactly one in-flight stream and is not safe for
// concurrent use.
type Parser struct {
	sink      Sink
	log       *log.Helper
	shim      envelopeShim
	completed bool
}

// NewParser creates a parser emitting into sink.
func NewParser(sink Sink, opts ...Option) *Parser {
	p := &Parser{
		sink: sink,
		log:  log.NewHelper(log.With(log.DefaultLogger, "module", "stream/parser")),
		shim: envelopeShim{
			knownTools: make(map[string]struct{}),
			maxSize:    DefaultMaxEnvelopeSize,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Feed processes every complete line in buf and returns the trailing partial
// line for the caller to prepend to the next chunk. With flush set the
// remainder is processed as a final line and nil is returned.
func (p *Parser) Feed(buf []byte, flush bool) []byte {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		p.line(string(buf[:i]))
		buf = buf[i+1:]
	}

	if !flush {
		if len(buf) == 0 {
			return nil
		}
		return bytes.Clone(buf)
	}

	if len(bytes.TrimSpace(buf)) > 0 {
		p.line(string(buf))
	}
	p.shim.flush(p.sink)
	return nil
}

// Reset discards all per-stream state.
func (p *Parser) Reset() {
	p.shim.reset()
	p.completed = false
}

func (p *Parser) line(raw string) {
	line := strings.TrimSuffix(raw, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}

	switch {
	case strings.HasPrefix(line, "data:"):
		p.sse(line, strings.TrimSpace(line[len("data:"):]))
		return
	case strings.HasPrefix(line, ":"),
		strings.HasPrefix(line, "event:"),
		strings.HasPrefix(line, "id:"),
		strings.HasPrefix(line, "retry:"):
		return
	}

	if len(line) >= 2 && line[1] == ':' && p.legacy(line, line[0], line[2:]) {
		return
	}

	p.text(line + "\n")
}

func (p *Parser) sse(line, payload string) {
	if payload == "" {
		return
	}
	if payload == "[DONE]" {
		if !p.completed {
			p.complete()
		}
		return
	}
	if !gjson.Valid(payload) {
		p.malformed("sse", line)
		return
	}

	data := gjson.Parse(payload)
	switch data.Get("type").String() {
	case "text-delta":
		p.text(firstString(data, "delta", "textDelta", "text"))
	case "finish", "message_stop":
		p.complete()
	case "error":
		p.fail(errorMessage(data, "errorText", "error", "message"))
	case "tool-call":
		p.emit(ToolCall{Name: data.Get("toolName").String()})
	case "tool-result":
		p.emit(ToolResult{Name: data.Get("toolName").String(), Payload: rawField(data, "output", "result")})
	case "start":
		p.completed = false
		p.emit(Status{Value: StatusStreaming})
	case "content_block_delta":
		p.text(data.Get("delta.text").String())
	case "":
		if content := data.Get("choices.0.delta.content"); content.Exists() {
			p.text(content.String())
		}
	default:
		p.log.Debugf("ignoring sse event type %q", data.Get("type").String())
	}
}

// legacy handles "<prefix>:<json>" lines and reports whether the line was
// consumed. A payload that is not the JSON shape its prefix carries is plain
// text, so lines such as "3:15" reach the user unchanged.
func (p *Parser) legacy(line string, prefix byte, payload string) bool {
	shape, ok := legacyShape(prefix)
	if !ok {
		return false
	}
	if !gjson.Valid(payload) {
		if strings.HasPrefix(payload, "{") || strings.HasPrefix(payload, "[") {
			p.malformed("legacy", line)
			return true
		}
		return false
	}
	data := gjson.Parse(payload)
	if !shape(data) {
		return false
	}

	switch prefix {
	case '0':
		p.text(data.String())
	case '9':
		name := data.Get("toolName").String()
		if result := data.Get("result"); result.Exists() {
			p.emit(ToolResult{Name: name, Payload: json.RawMessage(result.Raw)})
		} else {
			p.emit(ToolCall{Name: name})
		}
	case 'a':
		p.emit(ToolResult{Name: data.Get("toolName").String(), Payload: rawField(data, "result", "output")})
	case 'e':
		if data.Get("error").Exists() || data.Get("message").Exists() {
			p.fail(errorMessage(data, "error", "message"))
		}
	case '3':
		p.fail(data.String())
	}
	return true
}

func isJSONString(r gjson.Result) bool { return r.Type == gjson.String }

func isJSONObject(r gjson.Result) bool { return r.IsObject() }

func isJSONContainer(r gjson.Result) bool { return r.IsObject() || r.IsArray() }

// legacyShape returns the payload check for a data-stream prefix.
func legacyShape(prefix byte) (func(gjson.Result) bool, bool) {
	switch {
	case prefix == '0', prefix == '3':
		return isJSONString, true
	case prefix == '9', prefix == 'a', prefix == 'e':
		return isJSONObject, true
	case strings.IndexByte(legacyMetadata, prefix) >= 0:
		return isJSONContainer, true
	}
	return nil, false
}

func (p *Parser) text(s string) {
	p.shim.write(s, p.sink)
}

func (p *Parser) emit(ev Event) {
	p.sink(ev)
}

func (p *Parser) complete() {
	p.shim.flush(p.sink)
	p.shim.reset()
	p.completed = true
	p.emit(Status{Value: StatusComplete})
}

func (p *Parser) fail(msg string) {
	if msg == "" {
		msg = "unknown stream error"
	}
	p.shim.flush(p.sink)
	p.emit(Error{Message: msg})
	p.emit(Status{Value: StatusError})
}

func (p *Parser) malformed(format, line string) {
	p.log.Warnw("msg", "malformed stream chunk treated as text", "format", format, "line_bytes", len(line))
	p.text(line + "\n")
}

func firstString(data gjson.Result, paths ...string) string {
	for _, path := range paths {
		if v := data.Get(path); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// errorMessage accepts both string and {"message": ...} error shapes.
func errorMessage(data gjson.Result, paths ...string) string {
	for _, path := range paths {
		v := data.Get(path)
		if !v.Exists() {
			continue
		}
		if v.IsObject() {
			if msg := v.Get("message").String(); msg != "" {
				return msg
			}
			return v.Raw
		}
		return v.String()
	}
	return ""
}

func rawField(data gjson.Result, paths ...string) json.RawMessage {
	for _, path := range paths {
		if v := data.Get(path); v.Exists() {
			return json.RawMessage(v.Raw)
		}
	}
	return nil
}
