// Package models defines the shared data model for the aide chat backend:
// conversation messages, tool calls and results, and the consumer-facing
// stream events produced during a turn.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartType distinguishes the typed parts of a multimodal message.
type ContentPartType string

const (
	PartText  ContentPartType = "text"
	PartImage ContentPartType = "image"
)

// ContentPart is one typed element of a multimodal user message. Text parts
// carry Text; image parts carry an Image descriptor.
type ContentPart struct {
	Type  ContentPartType `json:"type"`
	Text  string          `json:"text,omitempty"`
	Image *Attachment     `json:"image,omitempty"`
}

// Attachment is a normalized image attachment descriptor. URL may be a remote
// https URL or a data URL produced by the image normalization step.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// ToolCall is a model-issued request to invoke a named host-side tool.
// Arguments holds the raw argument payload as delivered by the provider;
// during streaming it is assembled from fragments before the call is
// considered final.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Signature returns the (name, serialized-arguments) pair used to detect
// duplicate tool-call requests within a turn.
func (tc ToolCall) Signature() string {
	return tc.Name + ":" + string(tc.Arguments)
}

// Message is one entry in the conversation log.
//
// Tool-role messages carry ToolCallID and Name referencing the assistant
// tool call they answer. Every tool-role message must match a tool_calls
// entry of a preceding assistant message; the orchestrator never appends
// one without a matching request.
type Message struct {
	ID        string        `json:"id,omitempty"`
	Role      Role          `json:"role"`
	Content   string        `json:"content,omitempty"`
	Parts     []ContentPart `json:"parts,omitempty"`
	ToolCalls []ToolCall    `json:"tool_calls,omitempty"`

	// Tool-role back-reference fields.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Text returns the textual content of the message, flattening multimodal
// parts when Content is empty.
func (m *Message) Text() string {
	if m.Content != "" || len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// HasImages reports whether the message carries at least one image part.
func (m *Message) HasImages() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage && p.Image != nil {
			return true
		}
	}
	return false
}

// ToolCallStatus is the lifecycle status of a tracked tool call.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

// TrackedToolCall is the consumer-facing projection of a tool call for the
// lifetime of one turn. Status transitions pending -> completed or
// pending -> error exactly once and never reverts.
type TrackedToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Args   string         `json:"args"`
	Status ToolCallStatus `json:"status"`
	Result *string        `json:"result"`
}

// Session identifies one conversation and its configuration.
type Session struct {
	ID           string    `json:"id"`
	Model        string    `json:"model,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
