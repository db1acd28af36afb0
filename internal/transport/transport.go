// Package transport implements the completion boundary: it sends conversation
// state plus tool schemas to the remote chat-completions API and delivers the
// response as a stream of raw chunks. Retry with backoff for transient
// failures happens entirely inside this package; the orchestrator only sees a
// terminal error once the retry budget is exhausted.
package transport

import (
	"context"
	"encoding/json"

	"github.com/aide-chat/aide/pkg/models"
)

// Sampling carries the optional sampling parameters for a completion request.
type Sampling struct {
	Temperature float32 `json:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Seed        *int    `json:"seed,omitempty"`
}

// ToolDef is the wire-level tool declaration passed to the provider.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is one completion exchange: the ordered message list, the declared
// tool schemas, and sampling parameters.
type Request struct {
	Model    string
	Messages []models.Message
	Tools    []ToolDef
	Sampling Sampling
}

// HasImages reports whether any message in the request carries an image
// attachment. Image-bearing requests back off more aggressively on 429.
func (r *Request) HasImages() bool {
	for i := range r.Messages {
		if r.Messages[i].HasImages() {
			return true
		}
	}
	return false
}

// ToolCallDelta is one index-addressed partial tool-call record from a
// streamed response. The id and name arrive once, on the first fragment for
// the index; Args carries argument string fragments to be concatenated in
// arrival order.
type ToolCallDelta struct {
	Index int
	ID    string
	Name  string
	Args  string
}

// Chunk is one increment of a completion response. Non-streaming responses
// are delivered as a single chunk carrying the full text and complete tool
// calls, followed by a Done chunk.
type Chunk struct {
	// Text is an incremental content fragment.
	Text string

	// ToolDelta is a partial tool-call record (streaming responses).
	ToolDelta *ToolCallDelta

	// ToolCalls carries complete tool calls (non-streaming responses).
	ToolCalls []models.ToolCall

	// Done marks the explicit end of the stream.
	Done bool

	// Err terminates the stream with a transport failure.
	Err error
}

// Completer is the completion transport consumed by the orchestrator.
//
// Complete returns a channel of chunks; the channel is closed after a Done or
// Err chunk. Implementations must be safe for concurrent use and must apply
// their per-attempt timeout and retry policy internally.
type Completer interface {
	Complete(ctx context.Context, req *Request) (<-chan Chunk, error)
	Name() string
}
