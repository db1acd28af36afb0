package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/aide-chat/aide/internal/conversation"
	"github.com/aide-chat/aide/internal/toolkit"
	"github.com/aide-chat/aide/internal/transport"
	"github.com/aide-chat/aide/pkg/models"
)

// fakeCompleter scripts completion exchanges by call index.
type fakeCompleter struct {
	mu       sync.Mutex
	script   func(call int, req *transport.Request) ([]transport.Chunk, error)
	requests []*transport.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req *transport.Request) (<-chan transport.Chunk, error) {
	f.mu.Lock()
	call := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	chunks, err := f.script(call, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan transport.Chunk, len(chunks)+1)
	for _, c := range chunks {
		ch <- c
	}
	ch <- transport.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func textChunks(fragments ...string) []transport.Chunk {
	out := make([]transport.Chunk, 0, len(fragments))
	for _, fr := range fragments {
		out = append(out, transport.Chunk{Text: fr})
	}
	return out
}

// toolChunks emits one streamed tool call: id and name on the first
// fragment, argument fragments concatenating across the rest.
func toolChunks(index int, id, name string, argFragments ...string) []transport.Chunk {
	out := []transport.Chunk{{ToolDelta: &transport.ToolCallDelta{Index: index, ID: id, Name: name}}}
	for _, fr := range argFragments {
		out = append(out, transport.Chunk{ToolDelta: &transport.ToolCallDelta{Index: index, Args: fr}})
	}
	return out
}

type executedCall struct {
	name string
	args map[string]any
}

type recorder struct {
	mu    sync.Mutex
	calls []executedCall
}

func (r *recorder) record(name string, args map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, executedCall{name: name, args: args})
}

func (r *recorder) executed() []executedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]executedCall(nil), r.calls...)
}

func testRegistry(t *testing.T, rec *recorder) *toolkit.Registry {
	t.Helper()
	reg := toolkit.NewRegistry()
	err := reg.RegisterNative(toolkit.NativeFunction{
		Name:        "calculator",
		Description: "Evaluate an arithmetic expression.",
		Required:    []toolkit.Param{{Name: "expr", Type: toolkit.TypeString}},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			if rec != nil {
				rec.record("calculator", args)
			}
			if args["expr"] == "2+2" {
				return "4", nil
			}
			return "", fmt.Errorf("cannot evaluate %v", args["expr"])
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = reg.RegisterNative(toolkit.NativeFunction{
		Name:        "websearch",
		Description: "Search the web.",
		Required:    []toolkit.Param{{Name: "query", Type: toolkit.TypeString}},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			if rec != nil {
				rec.record("websearch", args)
			}
			return fmt.Sprintf("results for %v", args["query"]), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	reg.Freeze()
	return reg
}

func testConfig() Config {
	return Config{EmptyStreamDelay: time.Millisecond, TurnTimeout: 5 * time.Second}
}

func runTurn(t *testing.T, o *Orchestrator, state *conversation.State, text string) []models.StreamEvent {
	t.Helper()
	var events []models.StreamEvent
	for ev := range o.Run(context.Background(), state, text, nil) {
		events = append(events, ev)
	}
	return events
}

// checkOrdering verifies the event grammar: start first, done last and
// exactly once, final present and last content event before done, errors
// only between the body and final, and every tool_update preceded by a
// tool_call with the same id.
func checkOrdering(t *testing.T, events []models.StreamEvent) {
	t.Helper()
	if len(events) < 3 {
		t.Fatalf("too few events: %d", len(events))
	}
	if events[0].Kind != models.EventStart {
		t.Errorf("first event = %s, want start", events[0].Kind)
	}
	if events[len(events)-1].Kind != models.EventDone {
		t.Errorf("last event = %s, want done", events[len(events)-1].Kind)
	}
	if events[len(events)-2].Kind != models.EventFinal {
		t.Errorf("event before done = %s, want final", events[len(events)-2].Kind)
	}

	doneCount := 0
	announced := map[string]bool{}
	sawError := false
	for i, ev := range events {
		switch ev.Kind {
		case models.EventDone:
			doneCount++
		case models.EventToolCall:
			announced[ev.ToolCall.ID] = true
		case models.EventToolUpdate:
			if !announced[ev.ToolCall.ID] {
				t.Errorf("tool_update for %s before its tool_call", ev.ToolCall.ID)
			}
		case models.EventError:
			sawError = true
		case models.EventToken, models.EventInfo:
			if sawError {
				t.Errorf("content event at %d after error event", i)
			}
		}
	}
	if doneCount != 1 {
		t.Errorf("done emitted %d times", doneCount)
	}
}

func finalText(events []models.StreamEvent) string {
	for _, ev := range events {
		if ev.Kind == models.EventFinal {
			return ev.Final
		}
	}
	return ""
}

func eventsOf(events []models.StreamEvent, kind models.StreamEventKind) []models.StreamEvent {
	var out []models.StreamEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestCalculatorToolRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		if call == 0 {
			return toolChunks(0, "call_1", "calculator", `{"expr":"2+2"}`), nil
		}
		return textChunks("The answer", " is 4."), nil
	}}

	o := New(fake, testRegistry(t, rec), testConfig(), nil)
	state := conversation.NewState("sess", "m", "sys")
	events := runTurn(t, o, state, "What's 2+2 using the calculator tool")
	checkOrdering(t, events)

	calls := eventsOf(events, models.EventToolCall)
	if len(calls) != 1 || calls[0].ToolCall.Status != models.ToolCallPending {
		t.Fatalf("tool_call events: %+v", calls)
	}
	updates := eventsOf(events, models.EventToolUpdate)
	if len(updates) != 1 {
		t.Fatalf("tool_update events: %+v", updates)
	}
	if updates[0].ToolCall.Status != models.ToolCallCompleted || updates[0].ToolCall.Result == nil || *updates[0].ToolCall.Result != "4" {
		t.Errorf("unexpected update: %+v", updates[0].ToolCall)
	}
	if got := finalText(events); got != "The answer is 4." {
		t.Errorf("final = %q", got)
	}
	if len(eventsOf(events, models.EventError)) != 0 {
		t.Error("unexpected error event")
	}

	if executed := rec.executed(); len(executed) != 1 || executed[0].args["expr"] != "2+2" {
		t.Errorf("executed calls: %+v", executed)
	}
	if err := state.CheckIntegrity(); err != nil {
		t.Errorf("transcript integrity: %v", err)
	}
}

func TestUnknownToolExhaustsValidationRetries(t *testing.T) {
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		return toolChunks(0, fmt.Sprintf("call_%d", call), "nonexistent_tool", `{"x":1}`), nil
	}}

	o := New(fake, testRegistry(t, nil), testConfig(), nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "do something")
	checkOrdering(t, events)

	if got := fake.calls(); got != 3 {
		t.Errorf("model requests = %d, want 3", got)
	}
	errs := eventsOf(events, models.EventError)
	if len(errs) != 1 || !strings.Contains(errs[0].Error, "nonexistent_tool") {
		t.Errorf("error events = %+v, want one naming nonexistent_tool", errs)
	}
}

func TestConsecutiveIdenticalTokensSuppressed(t *testing.T) {
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		return textChunks("Hello ", "Hello ", "world"), nil
	}}

	o := New(fake, testRegistry(t, nil), testConfig(), nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "hi")
	checkOrdering(t, events)

	var text strings.Builder
	for _, ev := range eventsOf(events, models.EventToken) {
		text.WriteString(ev.Token)
	}
	if text.String() != "Hello world" {
		t.Errorf("token stream = %q, want %q", text.String(), "Hello world")
	}
	if got := finalText(events); got != "Hello world" {
		t.Errorf("final = %q", got)
	}
}

func TestSplitToolArgumentsReassembled(t *testing.T) {
	rec := &recorder{}
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		if call == 0 {
			return toolChunks(0, "call_1", "websearch", `{"q`, `uery": "ca`, `ts"}`), nil
		}
		return textChunks("Cats are great."), nil
	}}

	o := New(fake, testRegistry(t, rec), testConfig(), nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "search cats")
	checkOrdering(t, events)

	executed := rec.executed()
	if len(executed) != 1 {
		t.Fatalf("executed %d times, want 1", len(executed))
	}
	if executed[0].args["query"] != "cats" {
		t.Errorf("args = %+v", executed[0].args)
	}
}

func TestDuplicateSignatureExecutedOnce(t *testing.T) {
	rec := &recorder{}
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		if call == 0 {
			chunks := toolChunks(0, "call_1", "websearch", `{"query":"cats"}`)
			chunks = append(chunks, toolChunks(1, "call_2", "websearch", `{"query":"cats"}`)...)
			return chunks, nil
		}
		return textChunks("done"), nil
	}}

	o := New(fake, testRegistry(t, rec), testConfig(), nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "search")
	checkOrdering(t, events)

	if executed := rec.executed(); len(executed) != 1 {
		t.Errorf("executed %d times, want 1", len(executed))
	}
	// The duplicate call id must still be answered in the transcript.
	if err := state.CheckIntegrity(); err != nil {
		t.Errorf("transcript integrity: %v", err)
	}
	answered := 0
	for _, msg := range state.Messages() {
		if msg.Role == models.RoleTool {
			answered++
		}
	}
	if answered != 2 {
		t.Errorf("tool messages = %d, want 2 (one real, one suppression note)", answered)
	}
}

func TestToolExecutionErrorContinuesTurn(t *testing.T) {
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		if call == 0 {
			return toolChunks(0, "call_1", "calculator", `{"expr":"nope"}`), nil
		}
		return textChunks("Sorry, I could not compute that."), nil
	}}

	o := New(fake, testRegistry(t, nil), testConfig(), nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "calc")
	checkOrdering(t, events)

	updates := eventsOf(events, models.EventToolUpdate)
	if len(updates) != 1 || updates[0].ToolCall.Status != models.ToolCallError {
		t.Fatalf("updates = %+v", updates)
	}
	// An execution error is not a validation failure: exactly two requests,
	// no error event, normal final.
	if got := fake.calls(); got != 2 {
		t.Errorf("model requests = %d, want 2", got)
	}
	if len(eventsOf(events, models.EventError)) != 0 {
		t.Error("tool execution error must not surface as an error event")
	}
}

func TestDepthCeilingTerminatesTurn(t *testing.T) {
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		// A model that always wants another (distinct) tool call.
		return toolChunks(0, fmt.Sprintf("call_%d", call), "websearch",
			fmt.Sprintf(`{"query":"page %d"}`, call)), nil
	}}

	cfg := testConfig()
	cfg.MaxToolDepth = 3
	o := New(fake, testRegistry(t, nil), cfg, nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "go")
	checkOrdering(t, events)

	errs := eventsOf(events, models.EventError)
	if len(errs) != 1 || !strings.Contains(errs[0].Error, "maximum tool call depth") {
		t.Errorf("errors = %+v, want maximum tool call depth", errs)
	}
	// Initial request plus one per allowed depth.
	if got := fake.calls(); got != cfg.MaxToolDepth+1 {
		t.Errorf("model requests = %d, want %d", got, cfg.MaxToolDepth+1)
	}
}

func TestEmptyStreamRetriesThenFallback(t *testing.T) {
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		return nil, nil
	}}

	cfg := testConfig()
	cfg.EmptyStreamRetries = 2
	o := New(fake, testRegistry(t, nil), cfg, nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "hi")
	checkOrdering(t, events)

	if got := fake.calls(); got != 3 {
		t.Errorf("model requests = %d, want 3 (initial + 2 retries)", got)
	}
	infos := eventsOf(events, models.EventInfo)
	if len(infos) != 2 {
		t.Errorf("info events = %d, want 2", len(infos))
	}
	for _, info := range infos {
		if !info.Info.Transient {
			t.Error("retry info should be transient")
		}
	}
	// Exhaustion substitutes a fallback final rather than failing.
	if len(eventsOf(events, models.EventError)) != 0 {
		t.Error("empty stream exhaustion must not emit an error event")
	}
	if finalText(events) == "" {
		t.Error("fallback final missing")
	}
}

func TestEmptyStreamRetryPerturbsTemperature(t *testing.T) {
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		if call == 0 {
			return nil, nil
		}
		return textChunks("ok"), nil
	}}

	cfg := testConfig()
	cfg.Sampling = transport.Sampling{Temperature: 0.7}
	o := New(fake, testRegistry(t, nil), cfg, nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "hi")
	checkOrdering(t, events)

	if got := fake.requests[0].Sampling.Temperature; got != 0.7 {
		t.Errorf("first request temperature = %v", got)
	}
	second := fake.requests[1].Sampling.Temperature
	if second <= 0.7 || second > 0.76 {
		t.Errorf("retry temperature = %v, want slightly above 0.7", second)
	}
}

func TestTransportFailureEmitsErrorAndFinal(t *testing.T) {
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		return nil, &transport.Error{Reason: transport.ReasonConnection, Message: "connection refused"}
	}}

	o := New(fake, testRegistry(t, nil), testConfig(), nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "hi")
	checkOrdering(t, events)

	errs := eventsOf(events, models.EventError)
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	if !strings.Contains(errs[0].Error, "could not reach the model provider") {
		t.Errorf("error = %q", errs[0].Error)
	}
}

func TestTurnTimeoutSurfacesAsError(t *testing.T) {
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		return nil, context.DeadlineExceeded
	}}

	cfg := testConfig()
	cfg.TurnTimeout = time.Millisecond
	o := New(fake, testRegistry(t, nil), cfg, nil)
	state := conversation.NewState("sess", "m", "")

	// Let the turn deadline expire before the exchange.
	time.Sleep(2 * time.Millisecond)
	events := runTurn(t, o, state, "hi")
	checkOrdering(t, events)

	errs := eventsOf(events, models.EventError)
	if len(errs) != 1 || !strings.Contains(errs[0].Error, "timed out") {
		t.Errorf("errors = %+v, want timeout message", errs)
	}
}

func TestValidationRetryRecoversWhenModelCorrects(t *testing.T) {
	rec := &recorder{}
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		switch call {
		case 0:
			// Missing the required parameter.
			return toolChunks(0, "call_1", "websearch", `{}`), nil
		case 1:
			return toolChunks(0, "call_2", "websearch", `{"query":"cats"}`), nil
		default:
			return textChunks("found it"), nil
		}
	}}

	o := New(fake, testRegistry(t, rec), testConfig(), nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "search")
	checkOrdering(t, events)

	if len(eventsOf(events, models.EventError)) != 0 {
		t.Error("recovered validation failure must not surface an error event")
	}
	if executed := rec.executed(); len(executed) != 1 {
		t.Errorf("executed %d times, want 1", len(executed))
	}
	if got := finalText(events); got != "found it" {
		t.Errorf("final = %q", got)
	}
}

func TestMalformedArgumentsConsumeValidationBudget(t *testing.T) {
	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		// Arguments that never parse as JSON.
		return toolChunks(0, fmt.Sprintf("call_%d", call), "websearch", `{"query": `), nil
	}}

	o := New(fake, testRegistry(t, nil), testConfig(), nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "go")
	checkOrdering(t, events)

	if got := fake.calls(); got != 3 {
		t.Errorf("model requests = %d, want 3", got)
	}
	errs := eventsOf(events, models.EventError)
	if len(errs) != 1 || !strings.Contains(errs[0].Error, "websearch") {
		t.Errorf("errors = %+v", errs)
	}
}

func TestPanickingToolIsCaptured(t *testing.T) {
	reg := toolkit.NewRegistry()
	err := reg.RegisterNative(toolkit.NativeFunction{
		Name: "explode",
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			panic("boom")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	reg.Freeze()

	fake := &fakeCompleter{script: func(call int, req *transport.Request) ([]transport.Chunk, error) {
		if call == 0 {
			return toolChunks(0, "call_1", "explode", `{}`), nil
		}
		return textChunks("recovered"), nil
	}}

	o := New(fake, reg, testConfig(), nil)
	state := conversation.NewState("sess", "m", "")
	events := runTurn(t, o, state, "go")
	checkOrdering(t, events)

	updates := eventsOf(events, models.EventToolUpdate)
	if len(updates) != 1 || updates[0].ToolCall.Status != models.ToolCallError {
		t.Fatalf("updates = %+v", updates)
	}
	if !strings.Contains(*updates[0].ToolCall.Result, "boom") {
		t.Errorf("result = %q", *updates[0].ToolCall.Result)
	}
	if got := finalText(events); got != "recovered" {
		t.Errorf("final = %q", got)
	}
}

func TestAssemblerArgumentCompletion(t *testing.T) {
	cases := []struct {
		args string
		want bool
	}{
		{`{}`, true},
		{`{"query":"cats"}`, true},
		{`{"query":"ca`, false},
		{`{"a":{"b":1}`, false},
		{`{"s":"brace } inside"}`, true},
		{`{"s":"esc \" quote"}`, true},
		{``, false},
		{`{"a":[1,2]}`, true},
	}
	for _, tc := range cases {
		if got := argumentsComplete(tc.args); got != tc.want {
			t.Errorf("argumentsComplete(%q) = %v, want %v", tc.args, got, tc.want)
		}
	}
}

func TestAssemblerInterleavedCalls(t *testing.T) {
	asm := newAssembler()
	asm.addDelta(&transport.ToolCallDelta{Index: 0, ID: "a", Name: "websearch", Args: `{"query":`})
	asm.addDelta(&transport.ToolCallDelta{Index: 1, ID: "b", Name: "calculator", Args: `{"expr":"2+2"}`})
	asm.addDelta(&transport.ToolCallDelta{Index: 0, Args: `"cats"}`})
	asm.flush()

	resp := asm.response()
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("finalized %d calls, want 2", len(resp.ToolCalls))
	}
	byID := map[string]models.ToolCall{}
	for _, c := range resp.ToolCalls {
		byID[c.ID] = c
	}
	if string(byID["a"].Arguments) != `{"query":"cats"}` {
		t.Errorf("call a args = %s", byID["a"].Arguments)
	}
	if byID["b"].Name != "calculator" {
		t.Errorf("call b = %+v", byID["b"])
	}
}

func TestRunRejectsInterleavedStateOnlyThroughStore(t *testing.T) {
	// The store is the concurrency boundary: a second Begin for the same
	// session fails while a turn holds the claim.
	store := conversation.NewStore("m", "", 0)
	_, release, err := store.Begin("sess")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if _, _, err := store.Begin("sess"); !errors.Is(err, conversation.ErrTurnInFlight) {
		t.Errorf("err = %v, want ErrTurnInFlight", err)
	}
}
