package session

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rosti35/sgr-agent-core/upstream"
)

// Phase is the lifecycle state of one chat turn.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStreaming
	PhaseAwaitingClarification
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStreaming:
		return "streaming"
	case PhaseAwaitingClarification:
		return "awaiting_clarification"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// openCall tracks a tool call that has started but not yet finished.
type openCall struct {
	tool    string
	started time.Time
}

// Session tracks one in-flight turn: its phase, the open tool-call table,
// and the delta-accumulated answer text. A session is owned by the request
// handler that created it; Apply and Fail are not safe for concurrent use.
type Session struct {
	ID      string
	AgentID string
	Created time.Time

	phase     Phase
	openCalls map[string]openCall
	callOrder []string
	buf       strings.Builder
	activity  []ToolRecord
	showTools bool
	logger    *slog.Logger
}

// New creates a session in PhaseIdle for one turn against the given agent.
func New(agentID string, showTools bool, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Created:   time.Now(),
		phase:     PhaseIdle,
		openCalls: make(map[string]openCall),
		showTools: showTools,
		logger:    logger,
	}
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase { return s.phase }

// Terminal reports whether the session reached Completed or Failed.
func (s *Session) Terminal() bool {
	return s.phase == PhaseCompleted || s.phase == PhaseFailed
}

// Text returns the answer accumulated from deltas so far.
func (s *Session) Text() string { return s.buf.String() }

// Activity returns the tool activity summary in invocation order.
func (s *Session) Activity() []ToolRecord {
	out := make([]ToolRecord, len(s.activity))
	copy(out, s.activity)
	return out
}

// Resume moves an AwaitingClarification session back to Streaming so a
// chained request can continue the turn. Like Apply, it assumes the caller
// owns the session; handlers claim it with Store.Take before resuming.
func (s *Session) Resume() error {
	if s.phase != PhaseAwaitingClarification {
		return upstream.Errf(upstream.ErrProtocol, "session %s is %s, not awaiting clarification", s.ID, s.phase)
	}
	s.phase = PhaseStreaming
	return nil
}

// Apply feeds one decoded backend event through the state machine and
// returns the fragments it produces, in order. Events arriving after a
// terminal phase, or while the session is suspended on a clarification, are
// dropped with a log line.
func (s *Session) Apply(ev upstream.Event) []Fragment {
	if s.Terminal() {
		s.logger.Warn("event after terminal phase dropped",
			"session", s.ID, "phase", s.phase.String())
		return nil
	}
	if s.phase == PhaseAwaitingClarification {
		s.logger.Warn("event while awaiting clarification dropped",
			"session", s.ID)
		return nil
	}
	if s.phase == PhaseIdle {
		s.phase = PhaseStreaming
	}

	switch e := ev.(type) {
	case upstream.TextDelta:
		s.buf.WriteString(e.Text)
		return []Fragment{{Kind: FragmentText, Text: e.Text}}

	case upstream.ToolCallStarted:
		if _, dup := s.openCalls[e.CallID]; dup {
			s.logger.Warn("protocol violation: duplicate tool call id",
				"session", s.ID, "call_id", e.CallID, "tool", e.ToolName)
			return nil
		}
		s.openCalls[e.CallID] = openCall{tool: e.ToolName, started: time.Now()}
		s.callOrder = append(s.callOrder, e.CallID)
		s.activity = append(s.activity, ToolRecord{CallID: e.CallID, Tool: e.ToolName})
		if !s.showTools {
			return nil
		}
		return []Fragment{{Kind: FragmentTool, Tool: &ToolNote{
			CallID:    e.CallID,
			Tool:      e.ToolName,
			Arguments: e.Arguments,
		}}}

	case upstream.ToolCallFinished:
		oc, ok := s.openCalls[e.CallID]
		if !ok {
			s.logger.Warn("protocol violation: unmatched tool call finish",
				"session", s.ID, "call_id", e.CallID)
			return nil
		}
		delete(s.openCalls, e.CallID)
		s.removeFromOrder(e.CallID)
		for i := range s.activity {
			if s.activity[i].CallID == e.CallID {
				s.activity[i].Result = e.Result
				s.activity[i].Completed = true
			}
		}
		if !s.showTools {
			return nil
		}
		return []Fragment{{Kind: FragmentTool, Tool: &ToolNote{
			CallID:   e.CallID,
			Tool:     oc.tool,
			Result:   e.Result,
			Finished: true,
		}}}

	case upstream.ClarificationRequested:
		s.phase = PhaseAwaitingClarification
		return []Fragment{{Kind: FragmentControl, Control: &ControlNote{
			Clarification: e.Prompt,
		}}}

	case upstream.TurnCompleted:
		s.phase = PhaseCompleted
		frag := Fragment{Kind: FragmentText, Final: true, Pending: s.pendingTools()}
		// Delta-accumulated text is authoritative. The completion payload
		// only contributes what was never streamed: everything when no
		// deltas arrived, or a trailing remainder when it extends them.
		switch {
		case s.buf.Len() == 0 && e.FinalText != "":
			s.buf.WriteString(e.FinalText)
			frag.Text = e.FinalText
		case e.FinalText != "" && len(e.FinalText) > s.buf.Len() && strings.HasPrefix(e.FinalText, s.buf.String()):
			tail := e.FinalText[s.buf.Len():]
			s.buf.WriteString(tail)
			frag.Text = tail
		case e.FinalText != "" && e.FinalText != s.buf.String():
			s.logger.Warn("completion text disagrees with streamed deltas",
				"session", s.ID, "delta_len", s.buf.Len(), "final_len", len(e.FinalText))
		}
		if len(frag.Pending) > 0 {
			s.logLeftoverCalls()
		}
		return []Fragment{frag}

	case upstream.StreamError:
		return s.Fail(e.Kind, e.Message)
	}

	return nil
}

// Fail forces the session to PhaseFailed and returns the final control
// fragment describing the failure category. It is idempotent: once the
// session is terminal, further calls are no-ops.
func (s *Session) Fail(kind upstream.ErrorKind, detail string) []Fragment {
	if s.Terminal() {
		return nil
	}
	s.phase = PhaseFailed
	s.logger.Warn("session failed",
		"session", s.ID, "agent", s.AgentID, "kind", string(kind), "detail", detail)

	pending := s.pendingTools()
	if len(pending) > 0 {
		s.logLeftoverCalls()
	}
	return []Fragment{{
		Kind:    FragmentControl,
		Final:   true,
		Pending: pending,
		Control: &ControlNote{ErrorKind: kind, Message: kind.UserMessage()},
	}}
}

// pendingTools returns the names of tool calls still open, in start order.
func (s *Session) pendingTools() []string {
	if len(s.callOrder) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.callOrder))
	for _, id := range s.callOrder {
		if oc, ok := s.openCalls[id]; ok {
			names = append(names, oc.tool)
		}
	}
	return names
}

func (s *Session) logLeftoverCalls() {
	for _, id := range s.callOrder {
		if oc, ok := s.openCalls[id]; ok {
			s.logger.Warn("protocol violation: tool call still open at end of turn",
				"session", s.ID, "call_id", id, "tool", oc.tool,
				"open_for", time.Since(oc.started).String())
		}
	}
}

func (s *Session) removeFromOrder(callID string) {
	for i, id := range s.callOrder {
		if id == callID {
			s.callOrder = append(s.callOrder[:i], s.callOrder[i+1:]...)
			return
		}
	}
}
