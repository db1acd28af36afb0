package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aide-chat/aide/internal/toolkit"
)

// Notebook is the in-memory note and plan tracker behind the notes tools.
// Safe for concurrent use.
type Notebook struct {
	mu    sync.Mutex
	notes []string
	plan  []planStep
}

type planStep struct {
	text string
	done bool
}

// NewNotebook creates an empty notebook.
func NewNotebook() *Notebook { return &Notebook{} }

// Tools returns the note/plan tools bound to this notebook: save_note,
// list_notes, set_plan, and check_off_step.
func (n *Notebook) Tools() []toolkit.NativeFunction {
	return []toolkit.NativeFunction{
		{
			Name:        "save_note",
			Description: "Save a short note to remember for later in the conversation.",
			Required: []toolkit.Param{
				{Name: "text", Type: toolkit.TypeString},
			},
			Fn: n.saveNote,
		},
		{
			Name:        "list_notes",
			Description: "List all saved notes and the current plan.",
			Fn:          n.listNotes,
		},
		{
			Name:        "set_plan",
			Description: "Replace the current plan with an ordered list of steps.",
			Required: []toolkit.Param{
				{Name: "steps", Type: toolkit.TypeArray, Items: toolkit.TypeString, NonEmptyItems: true},
			},
			Fn: n.setPlan,
		},
		{
			Name:        "check_off_step",
			Description: "Mark a plan step as completed by its 1-based number.",
			Required: []toolkit.Param{
				{Name: "step", Type: toolkit.TypeInteger},
			},
			Fn: n.checkOffStep,
		},
	}
}

func (n *Notebook) saveNote(ctx context.Context, args map[string]any) (string, error) {
	text, _ := args["text"].(string)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, text)
	return fmt.Sprintf("saved note %d", len(n.notes)), nil
}

func (n *Notebook) listNotes(ctx context.Context, args map[string]any) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var sb strings.Builder
	if len(n.notes) == 0 {
		sb.WriteString("no notes saved\n")
	} else {
		sb.WriteString("notes:\n")
		for i, note := range n.notes {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, note)
		}
	}
	if len(n.plan) > 0 {
		sb.WriteString("plan:\n")
		for i, step := range n.plan {
			mark := " "
			if step.done {
				mark = "x"
			}
			fmt.Fprintf(&sb, "[%s] %d. %s\n", mark, i+1, step.text)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (n *Notebook) setPlan(ctx context.Context, args map[string]any) (string, error) {
	raw, _ := args["steps"].([]any)
	steps := make([]planStep, 0, len(raw))
	for _, entry := range raw {
		text, ok := entry.(string)
		if !ok {
			return "", fmt.Errorf("plan steps must be strings")
		}
		steps = append(steps, planStep{text: text})
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.plan = steps
	return fmt.Sprintf("plan set with %d steps", len(steps)), nil
}

func (n *Notebook) checkOffStep(ctx context.Context, args map[string]any) (string, error) {
	number, ok := toInt(args["step"])
	if !ok {
		return "", fmt.Errorf("step must be an integer")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if number < 1 || number > len(n.plan) {
		return "", fmt.Errorf("step %d out of range (plan has %d steps)", number, len(n.plan))
	}
	n.plan[number-1].done = true
	return fmt.Sprintf("step %d marked done", number), nil
}

// toInt accepts the numeric shapes JSON decoding produces.
func toInt(v any) (int, bool) {
	switch typed := v.(type) {
	case float64:
		return int(typed), true
	case int:
		return typed, true
	default:
		return 0, false
	}
}
