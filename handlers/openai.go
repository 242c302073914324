package handlers

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Rosti35/sgr-agent-core/session"
	"github.com/Rosti35/sgr-agent-core/sse"
)

// chatMessage is one entry of the caller's conversation history.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the OpenAI-compatible chat completion request body, plus
// the session_id extension used to chain a clarification continuation.
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	SessionID string        `json:"session_id"`
	Title     bool          `json:"title"`
}

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// chatChunk is one OpenAI streaming chunk. SessionID rides along so the
// caller can chain a follow-up request after a clarification.
type chatChunk struct {
	ID        string        `json:"id"`
	Object    string        `json:"object"`
	Created   int64         `json:"created"`
	Model     string        `json:"model"`
	SessionID string        `json:"session_id,omitempty"`
	Choices   []chunkChoice `json:"choices"`
}

type completionChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatCompletion is the non-streaming response: the assembled text plus a
// structured summary of the backend's tool activity.
type chatCompletion struct {
	ID           string               `json:"id"`
	Object       string               `json:"object"`
	Created      int64                `json:"created"`
	Model        string               `json:"model"`
	SessionID    string               `json:"session_id,omitempty"`
	Choices      []completionChoice   `json:"choices"`
	ToolActivity []session.ToolRecord `json:"tool_activity,omitempty"`
}

const (
	finishStop          = "stop"
	finishError         = "error"
	finishClarification = "clarification_request"
)

// chunkEmitter serializes fragments into chat.completion.chunk events on a
// single SSE writer. Fragments are written in arrival order from one
// goroutine; the first chunk carries the assistant role.
type chunkEmitter struct {
	w         *sse.Writer
	id        string
	model     string
	sessionID string
	created   int64
	sentRole  bool
	finish    string
}

func newChunkEmitter(w *sse.Writer, sessionID, model string) *chunkEmitter {
	return &chunkEmitter{
		w:         w,
		id:        "chatcmpl-" + uuid.New().String(),
		model:     model,
		sessionID: sessionID,
		created:   time.Now().Unix(),
		finish:    finishStop,
	}
}

// emit writes the chunks for one fragment. It is the runner's Sink.
func (em *chunkEmitter) emit(f session.Fragment) error {
	content := ""
	switch f.Kind {
	case session.FragmentText:
		content = f.Text
	case session.FragmentTool:
		content = renderToolNote(f.Tool)
	case session.FragmentControl:
		if f.Control.Clarification != "" {
			em.finish = finishClarification
			content = f.Control.Clarification
		} else {
			em.finish = finishError
			content = "Error: " + f.Control.Message
		}
	}
	if f.Final && len(f.Pending) > 0 {
		content += fmt.Sprintf("\n\n> **Incomplete tool activity:** %s\n", strings.Join(f.Pending, ", "))
	}
	if content == "" {
		return nil
	}
	return em.send(content, nil)
}

// close writes the finish chunk and the [DONE] sentinel.
func (em *chunkEmitter) close() error {
	reason := em.finish
	if err := em.send("", &reason); err != nil {
		return err
	}
	return em.w.SendDone()
}

func (em *chunkEmitter) send(content string, finish *string) error {
	delta := chunkDelta{Content: content}
	if !em.sentRole {
		delta.Role = "assistant"
		em.sentRole = true
	}
	return em.w.SendData(chatChunk{
		ID:        em.id,
		Object:    "chat.completion.chunk",
		Created:   em.created,
		Model:     em.model,
		SessionID: em.sessionID,
		Choices:   []chunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	})
}

// renderToolNote formats a tool annotation as markdown, the way the
// research UI expects to display backend tool activity inline.
func renderToolNote(t *session.ToolNote) string {
	if t == nil {
		return ""
	}
	if t.Finished {
		return fmt.Sprintf("\n> **Tool result:** %s: %s\n\n", t.Tool, truncate(t.Result, 200))
	}
	out := fmt.Sprintf("\n\n> **Tool:** %s\n", t.Tool)
	if args := formatToolArguments(t.Arguments); args != "" {
		out += "> " + args + "\n\n"
	}
	return out
}

// formatToolArguments renders tool arguments for display: verbose reasoning
// fields are skipped, long values truncated, at most three shown.
func formatToolArguments(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		switch k {
		case "reasoning", "thought", "plan", "analysis":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, 3)
	for _, k := range keys {
		if len(parts) == 3 {
			break
		}
		val := fmt.Sprintf("%v", args[k])
		parts = append(parts, fmt.Sprintf("**%s**: %s", k, truncate(val, 100)))
	}
	return strings.Join(parts, " | ")
}

// truncate caps s at maxLen bytes, backing up to a rune boundary so a
// multibyte character is never cut in half.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
