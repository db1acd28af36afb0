package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/aide-chat/aide/pkg/models"
)

// RepairReport describes what a transcript repair changed.
type RepairReport struct {
	Messages []models.Message
	// Added counts synthetic tool results inserted for unanswered calls.
	Added int
	// DroppedDuplicates counts extra tool results for an already-answered call.
	DroppedDuplicates int
	// DroppedOrphans counts tool results with no matching assistant tool call.
	DroppedOrphans int
}

// Changed reports whether the repair modified the transcript.
func (r RepairReport) Changed() bool {
	return r.Added > 0 || r.DroppedDuplicates > 0 || r.DroppedOrphans > 0
}

// RepairTranscript normalizes tool call/result pairing in a message log so a
// completion API will accept it:
//
//   - tool results are kept directly after the assistant turn that issued them
//   - unanswered tool calls get a synthetic error result
//   - duplicate results for the same call id are dropped
//   - orphan results with no matching call are dropped
//
// Snapshots loaded from disk and truncated windows both pass through here.
func RepairTranscript(messages []models.Message) RepairReport {
	report := RepairReport{Messages: make([]models.Message, 0, len(messages))}
	answered := map[string]bool{}

	for i := 0; i < len(messages); i++ {
		msg := messages[i]

		if msg.Role == models.RoleTool {
			// Reached only when no preceding assistant turn claimed it.
			report.DroppedOrphans++
			continue
		}

		if msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
			report.Messages = append(report.Messages, msg)
			continue
		}

		wanted := map[string]string{}
		for _, tc := range msg.ToolCalls {
			wanted[tc.ID] = tc.Name
		}

		results := map[string]models.Message{}
		var remainder []models.Message

		j := i + 1
		for ; j < len(messages); j++ {
			next := messages[j]
			if next.Role == models.RoleAssistant {
				break
			}
			if next.Role == models.RoleTool {
				if _, ok := wanted[next.ToolCallID]; !ok {
					report.DroppedOrphans++
					continue
				}
				if answered[next.ToolCallID] {
					report.DroppedDuplicates++
					continue
				}
				answered[next.ToolCallID] = true
				results[next.ToolCallID] = next
				continue
			}
			remainder = append(remainder, next)
		}

		report.Messages = append(report.Messages, msg)
		for _, tc := range msg.ToolCalls {
			if result, ok := results[tc.ID]; ok {
				report.Messages = append(report.Messages, result)
				continue
			}
			report.Messages = append(report.Messages, syntheticToolResult(tc.ID, tc.Name))
			answered[tc.ID] = true
			report.Added++
		}
		report.Messages = append(report.Messages, remainder...)
		i = j - 1
	}

	return report
}

// Repair runs RepairTranscript and returns only the repaired messages.
func Repair(messages []models.Message) []models.Message {
	return RepairTranscript(messages).Messages
}

func syntheticToolResult(callID, name string) models.Message {
	if name == "" {
		name = "unknown"
	}
	return models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		Content:    "tool result missing from history; inserted synthetic error result",
		ToolCallID: callID,
		Name:       name,
		CreatedAt:  time.Now(),
	}
}
