package upstream

// Event is one decoded event from the agent API's stream. The set is closed:
// every shape the backend emits has a concrete variant here, so the session
// state machine can switch over them exhaustively and adding a new event
// kind is a compile-time-visible change.
type Event interface {
	isEvent()
}

// TextDelta is an incremental piece of the assistant's answer.
type TextDelta struct {
	Text string
}

// ToolCallStarted marks the beginning of a tool invocation inside the agent.
type ToolCallStarted struct {
	CallID    string
	ToolName  string
	Arguments map[string]any
}

// ToolCallFinished carries the result of a previously started tool call.
type ToolCallFinished struct {
	CallID string
	Result string
}

// ClarificationRequested suspends the turn until the user answers a question.
type ClarificationRequested struct {
	Prompt string
}

// TurnCompleted ends the turn. FinalText may repeat text already streamed
// as deltas; consumers treat it as a fallback, not a second copy.
type TurnCompleted struct {
	FinalText string
}

// StreamError ends the turn with a failure reported by the backend itself.
type StreamError struct {
	Kind    ErrorKind
	Message string
}

func (TextDelta) isEvent()              {}
func (ToolCallStarted) isEvent()        {}
func (ToolCallFinished) isEvent()       {}
func (ClarificationRequested) isEvent() {}
func (TurnCompleted) isEvent()          {}
func (StreamError) isEvent()            {}
