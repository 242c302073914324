package session

import "github.com/Rosti35/sgr-agent-core/upstream"

// FragmentKind classifies what a fragment carries.
type FragmentKind string

const (
	FragmentText    FragmentKind = "text"
	FragmentTool    FragmentKind = "tool_annotation"
	FragmentControl FragmentKind = "control"
)

// ToolNote describes one tool invocation or its result, for callers that
// have tool visibility enabled.
type ToolNote struct {
	CallID    string
	Tool      string
	Arguments map[string]any
	Result    string
	Finished  bool
}

// ControlNote carries out-of-band turn signals: a clarification question
// from the agent, or the category of a failure. Message is always
// caller-safe; internal detail stays in the logs.
type ControlNote struct {
	Clarification string
	ErrorKind     upstream.ErrorKind
	Message       string
}

// Fragment is the unit the delta emitter writes out. One backend event maps
// to zero or more fragments, in event order. Final marks the last fragment
// of a turn; Pending lists tools still open when the turn ended, which is a
// protocol violation surfaced rather than dropped.
type Fragment struct {
	Kind    FragmentKind
	Text    string
	Tool    *ToolNote
	Control *ControlNote
	Final   bool
	Pending []string
}

// ToolRecord is one entry of the per-turn tool activity summary returned by
// the non-streaming mode.
type ToolRecord struct {
	CallID    string `json:"call_id"`
	Tool      string `json:"tool"`
	Result    string `json:"result,omitempty"`
	Completed bool   `json:"completed"`
}
