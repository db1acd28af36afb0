package models

import "encoding/json"

// StreamEventKind enumerates the typed events emitted to the consumer during
// a turn. For any turn the sequence matches
//
//	start, (token|tool_call|tool_update|info)*, (error)*, final, done
//
// with every tool_update(id) preceded by a tool_call with the same id, and
// done emitted exactly once even on failure paths.
type StreamEventKind string

const (
	EventStart      StreamEventKind = "start"
	EventToken      StreamEventKind = "token"
	EventToolCall   StreamEventKind = "tool_call"
	EventToolUpdate StreamEventKind = "tool_update"
	EventInfo       StreamEventKind = "info"
	EventError      StreamEventKind = "error"
	EventFinal      StreamEventKind = "final"
	EventDone       StreamEventKind = "done"
)

// InfoPayload is an advisory message. Transient messages (e.g. "retrying")
// are not meant to persist in a transcript.
type InfoPayload struct {
	Message   string `json:"message"`
	Transient bool   `json:"transient,omitempty"`
}

// StreamEvent is one typed event in the consumer stream. Exactly one payload
// field is populated according to Kind; start and done carry none.
type StreamEvent struct {
	Kind     StreamEventKind  `json:"event"`
	Token    string           `json:"token,omitempty"`
	ToolCall *TrackedToolCall `json:"tool_call,omitempty"`
	Info     *InfoPayload     `json:"info,omitempty"`
	Error    string           `json:"error,omitempty"`
	Final    string           `json:"final,omitempty"`
}

// Data renders the wire-level payload for the event, suitable for the data
// field of a server-sent event. Events without a payload return null.
func (e StreamEvent) Data() json.RawMessage {
	var payload any
	switch e.Kind {
	case EventToken:
		payload = e.Token
	case EventToolCall, EventToolUpdate:
		payload = e.ToolCall
	case EventInfo:
		payload = e.Info
	case EventError:
		payload = e.Error
	case EventFinal:
		payload = e.Final
	default:
		return json.RawMessage("null")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

// StartEvent returns the turn-begin marker.
func StartEvent() StreamEvent { return StreamEvent{Kind: EventStart} }

// TokenEvent wraps an incremental text fragment.
func TokenEvent(text string) StreamEvent { return StreamEvent{Kind: EventToken, Token: text} }

// ToolCallEvent announces a newly tracked tool call in pending state.
func ToolCallEvent(call *TrackedToolCall) StreamEvent {
	return StreamEvent{Kind: EventToolCall, ToolCall: call}
}

// ToolUpdateEvent reports a tracked tool call reaching a terminal status.
func ToolUpdateEvent(call *TrackedToolCall) StreamEvent {
	return StreamEvent{Kind: EventToolUpdate, ToolCall: call}
}

// InfoEvent wraps an advisory message.
func InfoEvent(message string, transient bool) StreamEvent {
	return StreamEvent{Kind: EventInfo, Info: &InfoPayload{Message: message, Transient: transient}}
}

// ErrorEvent wraps a human-readable error string. It does not necessarily
// terminate the stream.
func ErrorEvent(message string) StreamEvent { return StreamEvent{Kind: EventError, Error: message} }

// FinalEvent carries the complete final assistant text for the turn.
func FinalEvent(text string) StreamEvent { return StreamEvent{Kind: EventFinal, Final: text} }

// DoneEvent returns the terminal marker, always last.
func DoneEvent() StreamEvent { return StreamEvent{Kind: EventDone} }
