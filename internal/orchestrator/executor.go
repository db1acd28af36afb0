package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aide-chat/aide/internal/observability"
	"github.com/aide-chat/aide/internal/toolkit"
	"github.com/aide-chat/aide/pkg/models"
)

// ExecPhase identifies the executor lifecycle notification delivered to an
// event sink.
type ExecPhase string

const (
	ExecStarted  ExecPhase = "started"
	ExecFinished ExecPhase = "finished"
	ExecFailed   ExecPhase = "failed"
)

// EventSink receives structured executor lifecycle records. Optional.
type EventSink func(phase ExecPhase, tool string, payload string)

// Outcome is the result of one tool execution. The executor never lets a
// tool failure escape as an error; the orchestrator always receives an
// Outcome and folds Content back into the conversation either way.
type Outcome struct {
	Content string
	IsError bool
}

// Executor invokes validated tool calls synchronously, bounding each call
// with a timeout and capturing panics from tool implementations.
type Executor struct {
	registry *toolkit.Registry
	timeout  time.Duration
	logger   *slog.Logger
	sink     EventSink
}

// NewExecutor creates a tool executor over the registry. A zero timeout
// disables the per-call bound. sink may be nil.
func NewExecutor(registry *toolkit.Registry, timeout time.Duration, logger *slog.Logger, sink EventSink) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, timeout: timeout, logger: logger, sink: sink}
}

// DecodeArguments parses a finalized argument payload into the structured
// form tools consume. A parse failure here is malformed model output, not an
// execution error.
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments are not a valid JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// Execute runs one validated tool call and returns its outcome. Tool errors,
// timeouts, and panics all come back as error outcomes whose Content is the
// message text folded back to the model.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) Outcome {
	if e.sink != nil {
		e.sink(ExecStarted, name, "")
	}
	started := time.Now()

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := e.registry.Call(runCtx, name, args)
		resultCh <- result{value: value, err: err}
	}()

	var out Outcome
	select {
	case <-runCtx.Done():
		out = Outcome{Content: fmt.Sprintf("tool %s timed out after %s", name, e.timeout), IsError: true}
	case res := <-resultCh:
		if res.err != nil {
			out = Outcome{Content: res.err.Error(), IsError: true}
		} else {
			out = Outcome{Content: res.value}
		}
	}

	elapsed := time.Since(started)
	observability.ToolDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if out.IsError {
		observability.ToolExecutionsTotal.WithLabelValues(name, string(models.ToolCallError)).Inc()
		e.logger.Warn("tool execution failed", "tool", name, "elapsed", elapsed, "error", out.Content)
		if e.sink != nil {
			e.sink(ExecFailed, name, out.Content)
		}
	} else {
		observability.ToolExecutionsTotal.WithLabelValues(name, string(models.ToolCallCompleted)).Inc()
		e.logger.Debug("tool execution completed", "tool", name, "elapsed", elapsed)
		if e.sink != nil {
			e.sink(ExecFinished, name, out.Content)
		}
	}
	return out
}
