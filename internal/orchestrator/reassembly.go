package orchestrator

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/aide-chat/aide/internal/transport"
	"github.com/aide-chat/aide/pkg/models"
)

// modelResponse is the terminal assembly of one completion exchange.
type modelResponse struct {
	Text      string
	ToolCalls []models.ToolCall
}

// empty reports whether the exchange produced no usable content at all,
// which triggers the empty-stream retry path.
func (r *modelResponse) empty() bool {
	return r.Text == "" && len(r.ToolCalls) == 0
}

// partialCall accumulates one index-addressed tool call from stream
// fragments. The id and name arrive on the first fragment for the index;
// argument fragments concatenate in arrival order.
type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// assembler reconstructs the text and tool-call substreams from an
// interleaved chunk sequence.
type assembler struct {
	text         strings.Builder
	lastFragment string

	partials  map[int]*partialCall
	order     []int
	finalized []models.ToolCall
	done      map[int]bool
}

func newAssembler() *assembler {
	return &assembler{
		partials: make(map[int]*partialCall),
		done:     make(map[int]bool),
	}
}

// addText appends a content fragment, suppressing a fragment byte-identical
// to the immediately preceding one. Returns the fragment to surface as a
// token event and whether to surface it.
func (a *assembler) addText(fragment string) (string, bool) {
	if fragment == a.lastFragment {
		return "", false
	}
	a.lastFragment = fragment
	a.text.WriteString(fragment)
	return fragment, true
}

// addDelta folds one partial tool-call record into the accumulator and
// promotes the call once its argument string is syntactically closed and
// parses as JSON.
func (a *assembler) addDelta(d *transport.ToolCallDelta) {
	if a.done[d.Index] {
		return
	}
	p, ok := a.partials[d.Index]
	if !ok {
		p = &partialCall{}
		a.partials[d.Index] = p
		a.order = append(a.order, d.Index)
	}
	if d.ID != "" {
		p.id = d.ID
	}
	if d.Name != "" {
		p.name = d.Name
	}
	p.args.WriteString(d.Args)

	if p.name != "" && argumentsComplete(p.args.String()) {
		a.promote(d.Index, p)
	}
}

// addComplete records an already-assembled tool call from a non-streaming
// response.
func (a *assembler) addComplete(call models.ToolCall) {
	a.finalized = append(a.finalized, normalizeCall(call))
}

func (a *assembler) promote(index int, p *partialCall) {
	a.done[index] = true
	a.finalized = append(a.finalized, normalizeCall(models.ToolCall{
		ID:        p.id,
		Name:      p.name,
		Arguments: json.RawMessage(p.args.String()),
	}))
}

// flush promotes every remaining partial at end of stream, complete or not.
// Calls whose accumulated arguments never became valid JSON surface
// downstream as malformed output rather than being silently dropped.
func (a *assembler) flush() {
	sort.Ints(a.order)
	for _, index := range a.order {
		if a.done[index] {
			continue
		}
		p := a.partials[index]
		if p.name == "" && p.args.Len() == 0 {
			continue
		}
		a.promote(index, p)
	}
}

func (a *assembler) response() *modelResponse {
	return &modelResponse{Text: a.text.String(), ToolCalls: a.finalized}
}

// normalizeCall fills in the blanks a provider may leave: empty arguments
// become the empty object so no-parameter tools decode cleanly.
func normalizeCall(call models.ToolCall) models.ToolCall {
	if len(call.Arguments) == 0 {
		call.Arguments = json.RawMessage("{}")
	}
	return call
}

// argumentsComplete reports whether the accumulated argument string is
// syntactically closed (balanced braces outside string literals) and parses
// as JSON.
func argumentsComplete(args string) bool {
	if args == "" {
		return false
	}
	depth := 0
	inString := false
	escaped := false
	started := false
	for _, r := range args {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			depth++
			started = true
		case '}', ']':
			depth--
		}
	}
	if !started || depth != 0 || inString {
		return false
	}
	return json.Valid([]byte(args))
}
