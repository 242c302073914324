package upstream

import "encoding/json"

// wireEvent is the JSON envelope of one SSE payload from the agent API.
// Fields not used by a given event type stay at their zero value; fields the
// backend adds in the future are ignored on decode.
type wireEvent struct {
	Event     string         `json:"event"`
	Text      string         `json:"text"`
	CallID    string         `json:"call_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    string         `json:"result"`
	Prompt    string         `json:"prompt"`
	FinalText string         `json:"final_text"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
}

// Decode maps one raw payload to exactly one Event. It is pure and never
// blocks. A payload that is not valid JSON or names an unknown event type
// fails with an ErrDecode error.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, Errf(ErrDecode, "invalid event payload: %v", err)
	}

	switch w.Event {
	case "delta":
		return TextDelta{Text: w.Text}, nil
	case "tool_call":
		return ToolCallStarted{CallID: w.CallID, ToolName: w.Tool, Arguments: w.Arguments}, nil
	case "tool_result":
		return ToolCallFinished{CallID: w.CallID, Result: w.Result}, nil
	case "clarification":
		return ClarificationRequested{Prompt: w.Prompt}, nil
	case "done":
		return TurnCompleted{FinalText: w.FinalText}, nil
	case "error":
		kind := ErrorKind(w.Kind)
		if kind == "" {
			kind = ErrTruncated
		}
		return StreamError{Kind: kind, Message: w.Message}, nil
	default:
		return nil, Errf(ErrDecode, "unknown event type %q", w.Event)
	}
}
