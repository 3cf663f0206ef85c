// Package stream normalizes upstream LLM byte streams into a single Event sequence.
package stream

import "encoding/json"

// Event is one normalized unit of incremental model output.
type Event interface {
	event()
}

// TextDelta is a fragment of assistant text.
type TextDelta struct {
	Text string
}

func (TextDelta) event() {}

// ToolCall reports that the model invoked a tool.
type ToolCall struct {
	Name string
}

func (ToolCall) event() {}

// ToolResult carries the output of a tool invocation.
type ToolResult struct {
	Name    string
	Payload json.RawMessage
}

func (ToolResult) event() {}

// StatusValue is the lifecycle state of a streamed message.
type StatusValue string

const (
	StatusStreaming StatusValue = "streaming"
	StatusComplete  StatusValue = "complete"
	StatusError     StatusValue = "error"
)

// Status marks a lifecycle transition.
type Status struct {
	Value StatusValue
}

func (Status) event() {}

// Error is an upstream error reported inside the stream.
type Error struct {
	Message string
}

func (Error) event() {}

// Sink receives parsed events in order.
type Sink func(Event)
