// Package orchestrator drives the tool-calling loop for one user turn: it
// sends conversation state to the completion transport, reassembles the
// streamed response, validates and executes requested tool calls, folds
// results back into the conversation, and re-queries the model until it
// produces a final answer or a budget trips. Every outcome, including
// failure, is delivered to the consumer as a typed event stream ending in a
// final text and a done marker.
package orchestrator

import (
	"errors"
	"fmt"
)

// Phase names the state-machine phase in which a turn failure occurred.
type Phase string

const (
	PhaseAwaitingModel  Phase = "awaiting_model"
	PhaseInspecting     Phase = "inspecting_response"
	PhaseExecutingTools Phase = "executing_tools"
)

var (
	// ErrMaxToolDepth is returned when the tool-call/re-query cycle did not
	// converge within the configured depth ceiling.
	ErrMaxToolDepth = errors.New("maximum tool call depth exceeded")

	// ErrValidationExhausted is returned when the model kept issuing invalid
	// tool calls past the validation retry budget.
	ErrValidationExhausted = errors.New("tool call validation retries exhausted")

	// ErrEmptyStream is returned internally when the provider produced no
	// usable content across the empty-stream retry budget.
	ErrEmptyStream = errors.New("model returned no content")
)

// TurnError wraps a terminal turn failure with the phase and depth at which
// it occurred.
type TurnError struct {
	Phase Phase
	Depth int
	Cause error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed in %s (depth %d): %v", e.Phase, e.Depth, e.Cause)
}

func (e *TurnError) Unwrap() error { return e.Cause }
