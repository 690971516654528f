package chatloop

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/zubi-app/zubi/pkg/upstream/openai"
)

// toolCallAccumulator reassembles one tool call from streamed fragments.
// Argument fragments arrive split across many chunks and are concatenated,
// never overwritten.
type toolCallAccumulator struct {
	ID   string
	Name string
	Args strings.Builder
}

// streamAccumulator collects the text and tool calls of one streaming pass.
type streamAccumulator struct {
	text      strings.Builder
	toolCalls map[int]*toolCallAccumulator
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{toolCalls: make(map[int]*toolCallAccumulator)}
}

// apply folds one frame into the accumulator.
func (a *streamAccumulator) apply(f openai.Frame) {
	switch fr := f.(type) {
	case openai.TextFrame:
		a.text.WriteString(fr.Text)
	case openai.ToolCallFrame:
		acc, ok := a.toolCalls[fr.Index]
		if !ok {
			acc = &toolCallAccumulator{}
			a.toolCalls[fr.Index] = acc
		}
		if fr.ID != "" {
			acc.ID = fr.ID
		}
		if fr.Name != "" {
			acc.Name = fr.Name
		}
		if fr.Arguments != "" {
			acc.Args.WriteString(fr.Arguments)
		}
	}
}

// Text returns the full accumulated assistant text.
func (a *streamAccumulator) Text() string {
	return a.text.String()
}

// Calls returns the completed tool calls in index order. A call is actionable
// only once both its id and name are populated; incomplete entries are
// dropped.
func (a *streamAccumulator) Calls() []openai.ToolCall {
	indexes := make([]int, 0, len(a.toolCalls))
	for idx := range a.toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]openai.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		acc := a.toolCalls[idx]
		if acc.ID == "" || acc.Name == "" {
			continue
		}
		out = append(out, openai.ToolCall{
			ID:   acc.ID,
			Type: "function",
			Function: openai.FunctionCall{
				Name:      acc.Name,
				Arguments: acc.Args.String(),
			},
		})
	}
	return out
}

// uiAction is the parsed form of a ui_action argument payload.
type uiAction struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// parseUIAction decodes concatenated tool arguments. A malformed payload
// never fails the request: the call falls back to the tool name with an
// empty payload.
func parseUIAction(call openai.ToolCall) (action string, payload json.RawMessage) {
	action = call.Function.Name
	payload = json.RawMessage(`{}`)

	raw := call.Function.Arguments
	if strings.TrimSpace(raw) == "" {
		return action, payload
	}
	var parsed uiAction
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return action, payload
	}
	if parsed.Type != "" {
		action = parsed.Type
	}
	if len(parsed.Payload) > 0 && string(parsed.Payload) != "null" {
		payload = parsed.Payload
	}
	return action, payload
}
