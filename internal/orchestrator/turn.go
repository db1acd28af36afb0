package orchestrator

import (
	"github.com/aide-chat/aide/pkg/models"
)

// turnState is the ephemeral bookkeeping for one user turn. Created when the
// user message is appended, discarded at the terminal state.
type turnState struct {
	// depth counts model re-queries performed after executing tool results.
	// The validation-correction path re-queries without touching it.
	depth int

	// validationRetries is the remaining budget for re-querying after the
	// model issued an invalid tool call.
	validationRetries int

	// seenSignatures suppresses re-execution of a name:arguments pair the
	// model repeated within this turn.
	seenSignatures map[string]bool

	// tracked holds the consumer-facing projection of every tool call
	// detected this turn, keyed by call id.
	tracked map[string]*models.TrackedToolCall

	// needsCorrection is set when any call in the current batch failed
	// validation; cleared before each batch.
	needsCorrection bool

	// invalidTools accumulates the names of tools that could not be
	// satisfied, for the terminal failure message.
	invalidTools []string
}

func newTurnState(validationRetries int) *turnState {
	return &turnState{
		validationRetries: validationRetries,
		seenSignatures:    make(map[string]bool),
		tracked:           make(map[string]*models.TrackedToolCall),
	}
}

// alreadySeen reports whether an identical call was already executed this
// turn. Only executed calls record their signature; an invalid call may be
// retried verbatim and must re-enter validation, not be suppressed.
func (t *turnState) alreadySeen(call models.ToolCall) bool {
	return t.seenSignatures[call.Signature()]
}

// markExecuted records the call signature once execution is committed.
func (t *turnState) markExecuted(call models.ToolCall) {
	t.seenSignatures[call.Signature()] = true
}

// track creates the pending projection for a newly detected call.
func (t *turnState) track(call models.ToolCall) *models.TrackedToolCall {
	tc := &models.TrackedToolCall{
		ID:     call.ID,
		Name:   call.Name,
		Args:   string(call.Arguments),
		Status: models.ToolCallPending,
	}
	t.tracked[call.ID] = tc
	return tc
}

// resolve moves a tracked call to its terminal status. Transitions are
// monotonic; a call already terminal is left untouched.
func (t *turnState) resolve(id string, status models.ToolCallStatus, result string) *models.TrackedToolCall {
	tc, ok := t.tracked[id]
	if !ok || tc.Status != models.ToolCallPending {
		return tc
	}
	tc.Status = status
	tc.Result = &result
	return tc
}

func (t *turnState) markInvalid(name string) {
	for _, existing := range t.invalidTools {
		if existing == name {
			return
		}
	}
	t.invalidTools = append(t.invalidTools, name)
}
