package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aide-chat/aide/internal/conversation"
	"github.com/aide-chat/aide/internal/observability"
	"github.com/aide-chat/aide/internal/toolkit"
	"github.com/aide-chat/aide/internal/transport"
	"github.com/aide-chat/aide/pkg/models"
)

// fallbackFinal is surfaced when the turn cannot produce real model output,
// so consumers always receive a final text before done.
const fallbackFinal = "I wasn't able to complete that request. Please try again."

const duplicateCallNote = "duplicate tool call suppressed; see the earlier result for this call"

// Config bounds one turn. Zero values select the defaults.
type Config struct {
	// MaxToolDepth caps model re-queries after tool execution. Default 5.
	MaxToolDepth int

	// ValidationRetries is the budget for re-querying after invalid tool
	// calls. Default 2.
	ValidationRetries int

	// EmptyStreamRetries caps re-queries after a contentless response.
	// Default 3.
	EmptyStreamRetries int

	// EmptyStreamDelay is the pause before an empty-stream re-query.
	// Default 500ms.
	EmptyStreamDelay time.Duration

	// TurnTimeout is the wall-clock ceiling for the whole turn. Default 60s.
	TurnTimeout time.Duration

	// ToolTimeout bounds each tool execution. Default 30s.
	ToolTimeout time.Duration

	// HistoryLimit is the message window sent to the provider. Default 200.
	HistoryLimit int

	// Sampling is the base sampling configuration for completion requests.
	Sampling transport.Sampling

	// TemperaturePerturbation is added to the temperature on each
	// empty-stream retry, clamped to 1.0. Default 0.05.
	TemperaturePerturbation float32
}

func (c Config) withDefaults() Config {
	if c.MaxToolDepth <= 0 {
		c.MaxToolDepth = 5
	}
	if c.ValidationRetries <= 0 {
		c.ValidationRetries = 2
	}
	if c.EmptyStreamRetries <= 0 {
		c.EmptyStreamRetries = 3
	}
	if c.EmptyStreamDelay <= 0 {
		c.EmptyStreamDelay = 500 * time.Millisecond
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 60 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 200
	}
	if c.TemperaturePerturbation <= 0 {
		c.TemperaturePerturbation = 0.05
	}
	return c
}

// Orchestrator runs the tool-calling loop. One Orchestrator serves all
// sessions; per-turn state lives on the stack of Run.
type Orchestrator struct {
	completer transport.Completer
	registry  *toolkit.Registry
	validator *toolkit.Validator
	executor  *Executor
	cfg       Config
	logger    *slog.Logger
}

// New creates an orchestrator over the given transport and tool registry.
func New(completer transport.Completer, registry *toolkit.Registry, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Orchestrator{
		completer: completer,
		registry:  registry,
		validator: toolkit.NewValidator(registry),
		executor:  NewExecutor(registry, cfg.ToolTimeout, logger, nil),
		cfg:       cfg,
		logger:    logger,
	}
}

// Run processes one user turn against the session's conversation state and
// returns the event stream. The channel is closed after the done event. The
// caller must hold the session's turn claim for the duration of the stream.
func (o *Orchestrator) Run(ctx context.Context, state *conversation.State, userText string, images []models.Attachment) <-chan models.StreamEvent {
	events := make(chan models.StreamEvent, 64)
	go o.run(ctx, state, userText, images, events)
	return events
}

func (o *Orchestrator) run(ctx context.Context, state *conversation.State, userText string, images []models.Attachment, events chan<- models.StreamEvent) {
	defer close(events)

	started := time.Now()
	status := "done"
	defer func() {
		observability.TurnsTotal.WithLabelValues(status).Inc()
		observability.TurnDuration.Observe(time.Since(started).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	emit := func(ev models.StreamEvent) { events <- ev }

	state.AppendUser(userText, images)
	turn := newTurnState(o.cfg.ValidationRetries)
	emit(models.StartEvent())

	logger := o.logger.With("session", state.SessionID)

	for {
		resp, err := o.requestModel(ctx, state, emit)
		if err != nil {
			if errors.Is(err, ErrEmptyStream) {
				// The turn still terminates with a visible response.
				logger.Warn("empty stream budget exhausted, substituting fallback response")
				state.AppendAssistant(fallbackFinal, nil)
				emit(models.FinalEvent(fallbackFinal))
				break
			}
			status = "failed"
			logger.Error("completion request failed",
				"error", &TurnError{Phase: PhaseAwaitingModel, Depth: turn.depth, Cause: err})
			emit(models.ErrorEvent(userFacingTransportError(ctx, err)))
			emit(models.FinalEvent(fallbackFinal))
			break
		}

		if len(resp.ToolCalls) == 0 {
			state.AppendAssistant(resp.Text, nil)
			emit(models.FinalEvent(resp.Text))
			break
		}

		state.AppendAssistant(resp.Text, resp.ToolCalls)
		o.executeBatch(ctx, state, turn, resp.ToolCalls, emit)

		if turn.needsCorrection {
			if turn.validationRetries == 0 {
				status = "failed"
				msg := fmt.Sprintf("unable to satisfy tool calls after retries: %s", strings.Join(turn.invalidTools, ", "))
				logger.Warn("validation retries exhausted", "tools", turn.invalidTools,
					"error", &TurnError{Phase: PhaseExecutingTools, Depth: turn.depth, Cause: ErrValidationExhausted})
				emit(models.ErrorEvent(msg))
				emit(models.FinalEvent(fallbackFinal))
				break
			}
			turn.validationRetries--
			logger.Debug("re-querying after invalid tool call", "retries_remaining", turn.validationRetries)
			continue
		}

		turn.depth++
		if turn.depth > o.cfg.MaxToolDepth {
			status = "failed"
			msg := fmt.Sprintf("maximum tool call depth (%d) exceeded", o.cfg.MaxToolDepth)
			logger.Warn("turn did not converge", "depth", turn.depth,
				"error", &TurnError{Phase: PhaseInspecting, Depth: turn.depth, Cause: ErrMaxToolDepth})
			emit(models.ErrorEvent(msg))
			emit(models.FinalEvent(fallbackFinal))
			break
		}
	}

	emit(models.DoneEvent())
}

// requestModel performs one model exchange, including the empty-stream retry
// loop: a response with no text and no tool calls is re-requested with a
// short delay and slightly higher temperature.
func (o *Orchestrator) requestModel(ctx context.Context, state *conversation.State, emit func(models.StreamEvent)) (*modelResponse, error) {
	sampling := o.cfg.Sampling

	for attempt := 0; ; attempt++ {
		state.Truncate(o.cfg.HistoryLimit)
		req := &transport.Request{
			Model:    state.Model,
			Messages: state.Messages(),
			Tools:    o.toolDefs(),
			Sampling: sampling,
		}

		observability.ModelRequestsTotal.Inc()
		chunks, err := o.completer.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		resp, err := o.collect(ctx, chunks, emit)
		if err != nil {
			return nil, err
		}
		if !resp.empty() {
			return resp, nil
		}

		if attempt >= o.cfg.EmptyStreamRetries {
			return nil, ErrEmptyStream
		}
		observability.EmptyStreamRetries.Inc()
		emit(models.InfoEvent("model returned an empty response, retrying", true))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.cfg.EmptyStreamDelay):
		}
		sampling.Temperature = perturb(sampling.Temperature, o.cfg.TemperaturePerturbation)
	}
}

// collect drains one chunk stream into a terminal response, emitting token
// events as fragments arrive.
func (o *Orchestrator) collect(ctx context.Context, chunks <-chan transport.Chunk, emit func(models.StreamEvent)) (*modelResponse, error) {
	asm := newAssembler()
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Text != "" {
			if fragment, ok := asm.addText(chunk.Text); ok {
				emit(models.TokenEvent(fragment))
			}
		}
		if chunk.ToolDelta != nil {
			asm.addDelta(chunk.ToolDelta)
		}
		for _, call := range chunk.ToolCalls {
			asm.addComplete(call)
		}
		if chunk.Done {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	asm.flush()
	return asm.response(), nil
}

// executeBatch runs the inspected tool calls sequentially in request order.
// Validation failures set the correction flag; execution failures fold back
// as tool output and never halt the turn.
func (o *Orchestrator) executeBatch(ctx context.Context, state *conversation.State, turn *turnState, calls []models.ToolCall, emit func(models.StreamEvent)) {
	turn.needsCorrection = false

	for _, call := range calls {
		if turn.alreadySeen(call) {
			// Repeated verbatim by the model; answer the call id without
			// re-executing so the transcript stays well-formed.
			o.appendToolResult(state, call, duplicateCallNote)
			observability.ToolExecutionsTotal.WithLabelValues(call.Name, "skipped").Inc()
			continue
		}

		tracked := turn.track(call)
		emit(models.ToolCallEvent(snapshot(tracked)))

		args, err := DecodeArguments(call.Arguments)
		if err != nil {
			o.failValidation(state, turn, call, err.Error(), emit)
			continue
		}
		if verr := o.validator.Validate(call.Name, args); verr != nil {
			o.failValidation(state, turn, call, verr.Error(), emit)
			continue
		}

		turn.markExecuted(call)
		outcome := o.executor.Execute(ctx, call.Name, args)
		o.appendToolResult(state, call, outcome.Content)
		status := models.ToolCallCompleted
		if outcome.IsError {
			status = models.ToolCallError
		}
		turn.resolve(call.ID, status, outcome.Content)
		emit(models.ToolUpdateEvent(snapshot(turn.tracked[call.ID])))
	}
}

// failValidation records an invalid call: the error is folded back to the
// model as tool output and the turn is flagged for a correction re-query.
func (o *Orchestrator) failValidation(state *conversation.State, turn *turnState, call models.ToolCall, detail string, emit func(models.StreamEvent)) {
	o.appendToolResult(state, call, "invalid tool call: "+detail)
	turn.resolve(call.ID, models.ToolCallError, detail)
	turn.needsCorrection = true
	turn.markInvalid(call.Name)
	observability.ToolExecutionsTotal.WithLabelValues(call.Name, "invalid").Inc()
	emit(models.ToolUpdateEvent(snapshot(turn.tracked[call.ID])))
}

func (o *Orchestrator) appendToolResult(state *conversation.State, call models.ToolCall, content string) {
	if err := state.AppendToolResult(call.ID, call.Name, content); err != nil {
		o.logger.Error("dropping tool result without matching call", "tool", call.Name, "error", err)
	}
}

func (o *Orchestrator) toolDefs() []transport.ToolDef {
	schemas := o.registry.Schemas()
	defs := make([]transport.ToolDef, 0, len(schemas))
	for _, s := range schemas {
		defs = append(defs, transport.ToolDef{Name: s.Name, Description: s.Description, Schema: s.Raw})
	}
	return defs
}

// snapshot copies a tracked call so emitted events are immune to later
// status transitions.
func snapshot(tc *models.TrackedToolCall) *models.TrackedToolCall {
	if tc == nil {
		return nil
	}
	copied := *tc
	if tc.Result != nil {
		r := *tc.Result
		copied.Result = &r
	}
	return &copied
}

func perturb(temperature, step float32) float32 {
	temperature += step
	if temperature > 1.0 {
		return 1.0
	}
	return temperature
}

func userFacingTransportError(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return "the request timed out before the model finished responding"
	}
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.Reason {
		case transport.ReasonRateLimit:
			return "the model provider is rate limiting requests; please try again shortly"
		case transport.ReasonTimeout:
			return "the model provider timed out"
		case transport.ReasonConnection:
			return "could not reach the model provider"
		}
	}
	return "the model request failed: " + err.Error()
}
