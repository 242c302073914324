package session

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/Rosti35/sgr-agent-core/upstream"
)

func newTestSession(showTools bool) *Session {
	return New("researcher", showTools, slog.Default())
}

func TestSession_StartsIdle(t *testing.T) {
	s := newTestSession(true)
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected idle, got %v", s.Phase())
	}
	if s.ID == "" {
		t.Fatal("expected a session id")
	}
}

func TestSession_TextDelta(t *testing.T) {
	s := newTestSession(true)
	frags := s.Apply(upstream.TextDelta{Text: "Hello "})
	if len(frags) != 1 || frags[0].Kind != FragmentText || frags[0].Text != "Hello " {
		t.Fatalf("unexpected fragments: %+v", frags)
	}
	if frags[0].Final {
		t.Fatal("delta fragment must not be final")
	}
	s.Apply(upstream.TextDelta{Text: "world"})
	if s.Text() != "Hello world" {
		t.Fatalf("buffer mismatch: %q", s.Text())
	}
	if s.Phase() != PhaseStreaming {
		t.Fatalf("expected streaming, got %v", s.Phase())
	}
}

func TestSession_ToolVisibility(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		s := newTestSession(true)
		frags := s.Apply(upstream.ToolCallStarted{CallID: "1", ToolName: "search"})
		if len(frags) != 1 || frags[0].Kind != FragmentTool {
			t.Fatalf("expected tool annotation, got %+v", frags)
		}
		frags = s.Apply(upstream.ToolCallFinished{CallID: "1", Result: "3 hits"})
		if len(frags) != 1 || !frags[0].Tool.Finished || frags[0].Tool.Result != "3 hits" {
			t.Fatalf("expected finished annotation, got %+v", frags)
		}
		if frags[0].Tool.Tool != "search" {
			t.Fatalf("result annotation lost the tool name: %+v", frags[0].Tool)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		s := newTestSession(false)
		if frags := s.Apply(upstream.ToolCallStarted{CallID: "1", ToolName: "search"}); frags != nil {
			t.Fatalf("expected silent tracking, got %+v", frags)
		}
		if frags := s.Apply(upstream.ToolCallFinished{CallID: "1", Result: "ok"}); frags != nil {
			t.Fatalf("expected silent tracking, got %+v", frags)
		}
		// Still tracked for the activity summary.
		act := s.Activity()
		if len(act) != 1 || !act[0].Completed || act[0].Tool != "search" {
			t.Fatalf("unexpected activity: %+v", act)
		}
	})
}

func TestSession_DuplicateToolCallIgnored(t *testing.T) {
	s := newTestSession(true)
	s.Apply(upstream.ToolCallStarted{CallID: "1", ToolName: "search"})
	frags := s.Apply(upstream.ToolCallStarted{CallID: "1", ToolName: "search"})
	if frags != nil {
		t.Fatalf("duplicate call id must be ignored, got %+v", frags)
	}
	if s.Terminal() {
		t.Fatal("protocol violation must not abort the session")
	}
}

func TestSession_UnmatchedToolFinishIgnored(t *testing.T) {
	s := newTestSession(true)
	frags := s.Apply(upstream.ToolCallFinished{CallID: "ghost", Result: "x"})
	if frags != nil {
		t.Fatalf("unmatched finish must be ignored, got %+v", frags)
	}
	if s.Terminal() {
		t.Fatal("protocol violation must not abort the session")
	}
	// The session still reaches a terminal state normally.
	s.Apply(upstream.TurnCompleted{})
	if s.Phase() != PhaseCompleted {
		t.Fatalf("expected completed, got %v", s.Phase())
	}
}

func TestSession_Clarification(t *testing.T) {
	s := newTestSession(true)
	frags := s.Apply(upstream.ClarificationRequested{Prompt: "Which year?"})
	if len(frags) != 1 || frags[0].Kind != FragmentControl {
		t.Fatalf("expected control fragment, got %+v", frags)
	}
	if frags[0].Final {
		t.Fatal("clarification fragment must be non-final")
	}
	if frags[0].Control.Clarification != "Which year?" {
		t.Fatalf("lost the prompt: %+v", frags[0].Control)
	}
	if s.Phase() != PhaseAwaitingClarification {
		t.Fatalf("expected awaiting clarification, got %v", s.Phase())
	}

	// No forwarding while suspended.
	if frags := s.Apply(upstream.TextDelta{Text: "late"}); frags != nil {
		t.Fatalf("events while suspended must be dropped, got %+v", frags)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if s.Phase() != PhaseStreaming {
		t.Fatalf("expected streaming after resume, got %v", s.Phase())
	}
}

func TestSession_ResumeWrongPhase(t *testing.T) {
	s := newTestSession(true)
	if err := s.Resume(); err == nil {
		t.Fatal("expected error resuming an idle session")
	}
}

func TestSession_CompletionDeltaAuthoritative(t *testing.T) {
	t.Run("matching text not duplicated", func(t *testing.T) {
		s := newTestSession(true)
		s.Apply(upstream.TextDelta{Text: "Found 3 results"})
		frags := s.Apply(upstream.TurnCompleted{FinalText: "Found 3 results"})
		if len(frags) != 1 || !frags[0].Final {
			t.Fatalf("expected one final fragment, got %+v", frags)
		}
		if frags[0].Text != "" {
			t.Fatalf("completion must not repeat streamed text, got %q", frags[0].Text)
		}
		if s.Text() != "Found 3 results" {
			t.Fatalf("buffer mismatch: %q", s.Text())
		}
	})

	t.Run("fallback when nothing streamed", func(t *testing.T) {
		s := newTestSession(true)
		frags := s.Apply(upstream.TurnCompleted{FinalText: "full answer"})
		if frags[0].Text != "full answer" {
			t.Fatalf("expected fallback text, got %q", frags[0].Text)
		}
		if s.Text() != "full answer" {
			t.Fatalf("buffer mismatch: %q", s.Text())
		}
	})

	t.Run("trailing remainder emitted once", func(t *testing.T) {
		s := newTestSession(true)
		s.Apply(upstream.TextDelta{Text: "partial"})
		frags := s.Apply(upstream.TurnCompleted{FinalText: "partial answer"})
		if frags[0].Text != " answer" {
			t.Fatalf("expected trailing remainder, got %q", frags[0].Text)
		}
		if s.Text() != "partial answer" {
			t.Fatalf("buffer mismatch: %q", s.Text())
		}
	})

	t.Run("disagreement keeps deltas", func(t *testing.T) {
		s := newTestSession(true)
		s.Apply(upstream.TextDelta{Text: "streamed version"})
		frags := s.Apply(upstream.TurnCompleted{FinalText: "different version"})
		if frags[0].Text != "" {
			t.Fatalf("deltas are authoritative, got %q", frags[0].Text)
		}
		if s.Text() != "streamed version" {
			t.Fatalf("buffer mismatch: %q", s.Text())
		}
	})
}

func TestSession_PendingToolsSurfacedAtCompletion(t *testing.T) {
	s := newTestSession(true)
	s.Apply(upstream.ToolCallStarted{CallID: "1", ToolName: "search"})
	s.Apply(upstream.ToolCallStarted{CallID: "2", ToolName: "fetch"})
	frags := s.Apply(upstream.TurnCompleted{})
	if len(frags) != 1 {
		t.Fatalf("expected one final fragment, got %d", len(frags))
	}
	if strings.Join(frags[0].Pending, ",") != "search,fetch" {
		t.Fatalf("expected pending tools in start order, got %v", frags[0].Pending)
	}
}

func TestSession_StreamErrorFails(t *testing.T) {
	s := newTestSession(true)
	frags := s.Apply(upstream.StreamError{Kind: upstream.ErrTruncated, Message: "internal: socket reset at 10.0.0.7"})
	if len(frags) != 1 || !frags[0].Final || frags[0].Kind != FragmentControl {
		t.Fatalf("expected final control fragment, got %+v", frags)
	}
	if s.Phase() != PhaseFailed {
		t.Fatalf("expected failed, got %v", s.Phase())
	}
	// Caller-safe message only, never backend internals.
	if strings.Contains(frags[0].Control.Message, "10.0.0.7") {
		t.Fatalf("internal detail leaked: %q", frags[0].Control.Message)
	}
	if frags[0].Control.ErrorKind != upstream.ErrTruncated {
		t.Fatalf("expected truncated kind, got %v", frags[0].Control.ErrorKind)
	}
}

func TestSession_NoEventsAfterTerminal(t *testing.T) {
	s := newTestSession(true)
	s.Apply(upstream.TurnCompleted{FinalText: "done"})
	if frags := s.Apply(upstream.TextDelta{Text: "late"}); frags != nil {
		t.Fatalf("events after terminal must be dropped, got %+v", frags)
	}
	if s.Text() != "done" {
		t.Fatalf("buffer mutated after terminal: %q", s.Text())
	}
}

func TestSession_FailIdempotent(t *testing.T) {
	s := newTestSession(true)
	first := s.Fail(upstream.ErrCancelled, "caller gone")
	if len(first) != 1 {
		t.Fatalf("expected one final fragment, got %d", len(first))
	}
	if again := s.Fail(upstream.ErrCancelled, "caller gone"); again != nil {
		t.Fatalf("second Fail must be a no-op, got %+v", again)
	}
	if done := s.Fail(upstream.ErrTimedOut, "other path"); done != nil {
		t.Fatalf("Fail after terminal must be a no-op, got %+v", done)
	}
}

func TestSession_OrderPreserved(t *testing.T) {
	s := newTestSession(true)
	events := []upstream.Event{
		upstream.ToolCallStarted{CallID: "1", ToolName: "search"},
		upstream.ToolCallFinished{CallID: "1", Result: "3 hits"},
		upstream.TextDelta{Text: "Found 3 results"},
		upstream.TurnCompleted{FinalText: "Found 3 results"},
	}

	var got []Fragment
	for _, ev := range events {
		got = append(got, s.Apply(ev)...)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 fragments, got %d", len(got))
	}
	if got[0].Kind != FragmentTool || got[0].Tool.Finished {
		t.Fatalf("fragment 0 should be tool start, got %+v", got[0])
	}
	if got[1].Kind != FragmentTool || !got[1].Tool.Finished {
		t.Fatalf("fragment 1 should be tool result, got %+v", got[1])
	}
	if got[2].Kind != FragmentText || got[2].Text != "Found 3 results" {
		t.Fatalf("fragment 2 should be the text, got %+v", got[2])
	}
	if !got[3].Final || got[3].Text != "" {
		t.Fatalf("fragment 3 should be an empty final marker, got %+v", got[3])
	}
}
