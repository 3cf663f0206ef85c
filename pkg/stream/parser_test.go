package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []Event
}

func (r *recorder) sink(ev Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) text() string {
	var out string
	for _, ev := range r.events {
		if td, ok := ev.(TextDelta); ok {
			out += td.Text
		}
	}
	return out
}

func parse(t *testing.T, opts []Option, chunks ...string) []Event {
	t.Helper()
	rec := &recorder{}
	p := NewParser(rec.sink, opts...)
	var rest []byte
	for _, chunk := range chunks {
		rest = p.Feed(append(rest, chunk...), false)
	}
	assert.Nil(t, p.Feed(rest, true))
	return rec.events
}

func TestParser_SSETextDelta(t *testing.T) {
	events := parse(t, nil, "data: {\"type\":\"text-delta\",\"delta\":\"hello\"}\n")
	assert.Equal(t, []Event{TextDelta{Text: "hello"}}, events)
}

func TestParser_SplitAtEveryBoundary(t *testing.T) {
	input := "data: {\"type\":\"start\"}\n" +
		"data: {\"type\":\"text-delta\",\"delta\":\"hel\"}\n" +
		"data: {\"type\":\"text-delta\",\"textDelta\":\"lo\"}\n" +
		"data: {\"type\":\"tool-call\",\"toolName\":\"searchCatalog\"}\n" +
		"data: {\"type\":\"finish\"}\n" +
		"data: [DONE]\n"

	whole := parse(t, nil, input)
	require.Equal(t, []Event{
		Status{Value: StatusStreaming},
		TextDelta{Text: "hel"},
		TextDelta{Text: "lo"},
		ToolCall{Name: "searchCatalog"},
		Status{Value: StatusComplete},
	}, whole)

	for i := 1; i < len(input); i++ {
		split := parse(t, nil, input[:i], input[i:])
		assert.Equal(t, whole, split, "split at byte %d", i)
	}
}

func TestParser_FeedReturnsPartialLine(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec.sink)

	rest := p.Feed([]byte("data: {\"type\":\"text-delta\",\"delta\":\"a\"}\ndata: {\"ty"), false)
	assert.Equal(t, "data: {\"ty", string(rest))
	assert.Len(t, rec.events, 1)

	rest = p.Feed(append(rest, "pe\":\"text-delta\",\"delta\":\"b\"}\n"...), false)
	assert.Empty(t, rest)
	assert.Equal(t, "ab", rec.text())
}

func TestParser_DoneWithoutFinish(t *testing.T) {
	events := parse(t, nil, "data: {\"type\":\"text-delta\",\"delta\":\"x\"}\n", "data: [DONE]\n")
	assert.Equal(t, []Event{TextDelta{Text: "x"}, Status{Value: StatusComplete}}, events)
}

func TestParser_SSEErrorAndToolResult(t *testing.T) {
	events := parse(t, nil,
		"data: {\"type\":\"tool-result\",\"toolName\":\"webSearch\",\"output\":{\"hits\":2}}\n",
		"data: {\"type\":\"error\",\"errorText\":\"overloaded\"}\n",
	)
	require.Len(t, events, 3)
	result, ok := events[0].(ToolResult)
	require.True(t, ok)
	assert.Equal(t, "webSearch", result.Name)
	assert.JSONEq(t, `{"hits":2}`, string(result.Payload))
	assert.Equal(t, Error{Message: "overloaded"}, events[1])
	assert.Equal(t, Status{Value: StatusError}, events[2])
}

func TestParser_ProviderChunkShapes(t *testing.T) {
	events := parse(t, nil,
		"event: message\n",
		": keep-alive\n",
		"id: 7\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n",
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\" there\"}}\n",
		"data: {\"type\":\"message_stop\"}\n",
		"data: {\"type\":\"ping\"}\n",
	)
	assert.Equal(t, []Event{
		TextDelta{Text: "Hi"},
		TextDelta{Text: " there"},
		Status{Value: StatusComplete},
	}, events)
}

func TestParser_Legacy(t *testing.T) {
	events := parse(t, nil,
		"0:\"Hello\"\n",
		"9:{\"toolCallId\":\"1\",\"toolName\":\"getRecommendations\",\"args\":{}}\n",
		"a:{\"toolCallId\":\"1\",\"toolName\":\"getRecommendations\",\"result\":[1,2]}\n",
		"9:{\"toolName\":\"webSearch\",\"result\":\"ok\"}\n",
		"d:{\"finishReason\":\"stop\"}\n",
		"e:{\"finishReason\":\"stop\"}\n",
		"2:[{\"x\":1}]\n",
	)
	require.Len(t, events, 4)
	assert.Equal(t, TextDelta{Text: "Hello"}, events[0])
	assert.Equal(t, ToolCall{Name: "getRecommendations"}, events[1])
	assert.Equal(t, ToolResult{Name: "getRecommendations", Payload: json.RawMessage(`[1,2]`)}, events[2])
	assert.Equal(t, ToolResult{Name: "webSearch", Payload: json.RawMessage(`"ok"`)}, events[3])
}

func TestParser_LegacyErrors(t *testing.T) {
	events := parse(t, nil, "3:\"rate limited upstream\"\n", "e:{\"error\":{\"message\":\"boom\"}}\n")
	assert.Equal(t, []Event{
		Error{Message: "rate limited upstream"},
		Status{Value: StatusError},
		Error{Message: "boom"},
		Status{Value: StatusError},
	}, events)
}

func TestParser_MalformedLegacyIsText(t *testing.T) {
	var events []Event
	assert.NotPanics(t, func() {
		events = parse(t, nil, "0:{not valid json\n")
	})
	require.Len(t, events, 1)
	td, ok := events[0].(TextDelta)
	require.True(t, ok)
	assert.Contains(t, td.Text, "0:{not valid json")
}

func TestParser_PrefixLikeTextIsVerbatim(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"error prefix with number", "Track\n3:15\n"},
		{"tool call prefix with number", "Set\n9:30\n"},
		{"tool result prefix with number", "Side\na:1\n"},
		{"metadata prefix with number", "Doors open at\n2:30\n"},
		{"metadata prefix with string", "Track\nb:\"two\"\n"},
		{"text prefix with object", "0:{\"x\":1}\n"},
		{"error prefix with object", "3:{\"x\":1}\n"},
		{"finish prefix with array", "e:[1]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := NewParser(rec.sink)
			p.Feed([]byte(tt.input), true)

			for _, ev := range rec.events {
				_, isText := ev.(TextDelta)
				assert.True(t, isText, "unexpected event %#v", ev)
			}
			assert.Equal(t, tt.input, rec.text())
		})
	}
}

func TestParser_PrefixLikeTextAcrossChunks(t *testing.T) {
	events := parse(t, nil, "Your set runs\n3:", "15\nEnjoy!\n")
	rec := &recorder{events: events}
	assert.Equal(t, "Your set runs\n3:15\nEnjoy!\n", rec.text())
	for _, ev := range events {
		assert.IsType(t, TextDelta{}, ev)
	}
}

func TestParser_MalformedSSEIsText(t *testing.T) {
	events := parse(t, nil, "data: {\"type\":\"text-delta\"\n")
	require.Len(t, events, 1)
	assert.Contains(t, events[0].(TextDelta).Text, "data: {\"type\":\"text-delta\"")
}

func TestParser_PlainText(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec.sink)
	rest := p.Feed([]byte("first line\n\nsecond"), false)
	assert.Equal(t, "second", string(rest))
	p.Feed(rest, true)
	assert.Equal(t, "first line\nsecond\n", rec.text())
}

func TestParser_ResetClearsState(t *testing.T) {
	rec := &recorder{}
	p := NewParser(rec.sink)
	p.Feed([]byte("{\"action\":\"none\",\n"), false)
	p.Reset()
	p.Feed([]byte("data: [DONE]\n"), false)
	assert.Equal(t, []Event{Status{Value: StatusComplete}}, rec.events)
}

func TestParser_IndependentInstances(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	pa, pb := NewParser(a.sink), NewParser(b.sink)

	pa.Feed([]byte("{\"action\":\"none\",\n"), false)
	pb.Feed([]byte("plain\n"), true)
	pa.Feed([]byte("\"response\":\"ok\"}\n"), true)

	assert.Equal(t, "plain\n", b.text())
	assert.Equal(t, "ok", a.text())
}
