// Package conversation owns per-session conversation state: the ordered
// message log, its mutation operations (append, reset, rollback), the
// session store with single-writer turn locking, and named snapshot
// persistence.
package conversation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aide-chat/aide/pkg/models"
)

// State is the ordered message log for one session. It is exclusively owned
// and mutated by the orchestrator for the session; the store guarantees a
// single in-flight turn per session, so State itself carries no lock.
type State struct {
	SessionID    string
	Model        string
	SystemPrompt string

	messages []models.Message
}

// NewState creates conversation state seeded with the system message when a
// system prompt is configured.
func NewState(sessionID, model, systemPrompt string) *State {
	s := &State{
		SessionID:    sessionID,
		Model:        model,
		SystemPrompt: systemPrompt,
	}
	s.seedSystem()
	return s
}

func (s *State) seedSystem() {
	if s.SystemPrompt == "" {
		return
	}
	s.messages = append(s.messages, models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleSystem,
		Content:   s.SystemPrompt,
		CreatedAt: time.Now(),
	})
}

// Messages returns a copy of the message log for handing to the transport.
func (s *State) Messages() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the log.
func (s *State) Len() int { return len(s.messages) }

// AppendUser appends a user message with optional image attachments. When
// images are present the message is stored as typed content parts.
func (s *State) AppendUser(text string, images []models.Attachment) {
	msg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		CreatedAt: time.Now(),
	}
	if len(images) == 0 {
		msg.Content = text
	} else {
		parts := make([]models.ContentPart, 0, len(images)+1)
		if text != "" {
			parts = append(parts, models.ContentPart{Type: models.PartText, Text: text})
		}
		for i := range images {
			img := images[i]
			parts = append(parts, models.ContentPart{Type: models.PartImage, Image: &img})
		}
		msg.Parts = parts
	}
	s.messages = append(s.messages, msg)
}

// AppendAssistant appends the assistant turn, carrying any tool-call
// requests the model issued.
func (s *State) AppendAssistant(text string, toolCalls []models.ToolCall) {
	s.messages = append(s.messages, models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   text,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	})
}

// AppendToolResult appends a tool-role message answering callID. It refuses
// to append when no preceding assistant message issued that call id,
// preserving the back-reference invariant.
func (s *State) AppendToolResult(callID, name, content string) error {
	if !s.hasPendingCall(callID) {
		return fmt.Errorf("no assistant tool call with id %s precedes this result", callID)
	}
	s.messages = append(s.messages, models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: callID,
		Name:       name,
		CreatedAt:  time.Now(),
	})
	return nil
}

func (s *State) hasPendingCall(callID string) bool {
	for i := range s.messages {
		if s.messages[i].Role != models.RoleAssistant {
			continue
		}
		for _, tc := range s.messages[i].ToolCalls {
			if tc.ID == callID {
				return true
			}
		}
	}
	return false
}

// Reset truncates the log to only the system message, or to empty when no
// system prompt is configured.
func (s *State) Reset() {
	s.messages = s.messages[:0]
	s.seedSystem()
}

// Rollback removes the trailing exchange: every message from the last user
// message onward (the user turn plus the assistant and tool messages it
// produced). Used when the caller asks to regenerate. Returns the removed
// user message text, or false when there is no exchange to roll back.
func (s *State) Rollback() (string, bool) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == models.RoleUser {
			text := s.messages[i].Text()
			s.messages = s.messages[:i]
			return text, true
		}
	}
	return "", false
}

// Truncate trims the log to a window of the most recent messages, always
// preserving a leading system message. Used to bound transport payloads.
func (s *State) Truncate(limit int) {
	if limit <= 0 || len(s.messages) <= limit {
		return
	}
	var system *models.Message
	if s.messages[0].Role == models.RoleSystem {
		sys := s.messages[0]
		system = &sys
	}
	tail := s.messages[len(s.messages)-limit:]
	// Never start the window on an orphaned tool message.
	for len(tail) > 0 && tail[0].Role == models.RoleTool {
		tail = tail[1:]
	}
	out := make([]models.Message, 0, len(tail)+1)
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, tail...)
	s.messages = Repair(out)
}

// Restore replaces the message log with a loaded snapshot. The snapshot is
// repaired first so the tool_call_id back-reference invariant holds.
func (s *State) Restore(msgs []models.Message) {
	s.messages = Repair(msgs)
}

// CheckIntegrity verifies the tool_call_id back-reference invariant: every
// tool-role message answers a tool call issued by an earlier assistant
// message. Returns the first violation found.
func (s *State) CheckIntegrity() error {
	issued := map[string]bool{}
	for i := range s.messages {
		msg := &s.messages[i]
		switch msg.Role {
		case models.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				issued[tc.ID] = true
			}
		case models.RoleTool:
			if msg.ToolCallID == "" {
				return fmt.Errorf("tool message %s has no tool_call_id", msg.ID)
			}
			if !issued[msg.ToolCallID] {
				return fmt.Errorf("tool message %s references unknown tool call %s", msg.ID, msg.ToolCallID)
			}
		}
	}
	return nil
}
