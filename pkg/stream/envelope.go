package stream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultMaxEnvelopeSize bounds how much text is buffered while waiting for a
// JSON envelope to close.
const DefaultMaxEnvelopeSize = 64 * 1024

// envelopeShim unwraps providers that answer with {"action": ..., "response": ...}
// objects instead of plain text. State is per message.
type envelopeShim struct {
	knownTools map[string]struct{}
	maxSize    int

	buf          strings.Builder
	accumulating bool
	consumed     bool // at least one envelope unwrapped in this message
	passthrough  bool // plain text already emitted, stop detecting
}

func (s *envelopeShim) write(text string, emit Sink) {
	if text == "" {
		return
	}

	if !s.accumulating {
		if s.passthrough {
			emit(TextDelta{Text: text})
			return
		}
		trimmed := strings.TrimLeft(text, " \t\r\n")
		if trimmed == "" {
			if !s.consumed {
				emit(TextDelta{Text: text})
			}
			return
		}
		if trimmed[0] != '{' {
			s.passthrough = true
			emit(TextDelta{Text: text})
			return
		}
		s.accumulating = true
		text = trimmed
	}

	s.buf.WriteString(text)
	s.resolve(emit)
}

func (s *envelopeShim) resolve(emit Sink) {
	pending := s.buf.String()

	if !looksLikeObject(pending) {
		s.release(emit)
		return
	}

	end := objectEnd(pending)
	if end < 0 {
		if s.buf.Len() > s.maxSize {
			s.release(emit)
		}
		return
	}

	obj, rest := pending[:end+1], pending[end+1:]
	s.buf.Reset()
	s.accumulating = false

	s.unwrap(obj, emit)

	if strings.TrimSpace(rest) == "" {
		if !s.consumed && rest != "" {
			emit(TextDelta{Text: rest})
		}
		return
	}
	s.write(rest, emit)
}

func (s *envelopeShim) unwrap(obj string, emit Sink) {
	if !gjson.Valid(obj) {
		s.passthrough = true
		emit(TextDelta{Text: obj})
		return
	}

	action := gjson.Get(obj, "action")
	if action.Exists() {
		if _, ok := s.knownTools[action.String()]; ok {
			s.consumed = true
			emit(ToolCall{Name: action.String()})
			return
		}
		if response := gjson.Get(obj, "response"); response.Exists() && response.Type == gjson.String {
			s.consumed = true
			if response.String() != "" {
				emit(TextDelta{Text: response.String()})
			}
			return
		}
	}

	s.passthrough = true
	emit(TextDelta{Text: obj})
}

// release emits whatever is buffered as plain text.
func (s *envelopeShim) release(emit Sink) {
	if s.buf.Len() > 0 {
		emit(TextDelta{Text: s.buf.String()})
	}
	s.buf.Reset()
	s.accumulating = false
	s.passthrough = true
}

// flush gives up on an unfinished envelope at end of stream.
func (s *envelopeShim) flush(emit Sink) {
	if s.accumulating {
		s.release(emit)
	}
}

func (s *envelopeShim) reset() {
	s.buf.Reset()
	s.accumulating = false
	s.consumed = false
	s.passthrough = false
}

// looksLikeObject rejects text that opens with '{' but cannot be a JSON object,
// such as "{ let me think".
func looksLikeObject(s string) bool {
	rest := strings.TrimLeft(s[1:], " \t\r\n")
	if rest == "" {
		return true
	}
	return rest[0] == '"' || rest[0] == '}'
}

// objectEnd returns the index of the brace closing the object that starts at
// s[0], or -1 when it is not closed yet.
func objectEnd(s string) int {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
