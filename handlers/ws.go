package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Rosti35/sgr-agent-core/session"
	"github.com/Rosti35/sgr-agent-core/upstream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsTool mirrors a tool annotation on the socket.
type wsTool struct {
	CallID    string         `json:"call_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
	Finished  bool           `json:"finished"`
}

// wsFrame is one JSON frame on the interactive channel.
type wsFrame struct {
	Type      string   `json:"type"` // text, tool, clarification, error, done
	Text      string   `json:"text,omitempty"`
	Tool      *wsTool  `json:"tool,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
	Kind      string   `json:"kind,omitempty"`
	Message   string   `json:"message,omitempty"`
	Pending   []string `json:"pending,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// chatSocket serves the interactive WebSocket channel: the client sends one
// chat request, receives fragments as frames, and answers clarification
// questions in-band on the same connection instead of chaining a new HTTP
// request.
func (h *bridgeHandler) chatSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	var req chatRequest
	if err := ws.ReadJSON(&req); err != nil {
		h.deps.Logger.Warn("websocket request read failed", "error", err)
		return
	}

	sess, turn, _, err := h.prepareTurn(r, &req)
	if err != nil {
		ws.WriteJSON(wsFrame{Type: "error", Message: err.Error()})
		return
	}
	defer h.settleSession(sess)

	msgs := turn.Messages
	for {
		sink := func(f session.Fragment) error {
			return ws.WriteJSON(frameFor(f, sess.ID))
		}
		if err := h.deps.Runner.Run(r.Context(), sess, turn, sink); err != nil {
			h.deps.Logger.Warn("websocket turn ended with error",
				"session", sess.ID, "error", err)
			return
		}

		if sess.Phase() != session.PhaseAwaitingClarification {
			ws.WriteJSON(wsFrame{Type: "done", SessionID: sess.ID})
			return
		}

		// Wait for the clarification answer on the same connection.
		var answer struct {
			Content string `json:"content"`
		}
		if err := ws.ReadJSON(&answer); err != nil {
			// Connection dropped mid-clarification: settleSession keeps the
			// session so an HTTP request can still chain onto it.
			return
		}
		if err := sess.Resume(); err != nil {
			ws.WriteJSON(wsFrame{Type: "error", Message: err.Error()})
			return
		}
		msgs = append(msgs, upstream.Message{Role: "user", Content: answer.Content})
		turn = upstream.TurnRequest{Messages: msgs, Stream: true, SessionID: sess.ID}
	}
}

func frameFor(f session.Fragment, sessionID string) wsFrame {
	frame := wsFrame{SessionID: sessionID, Pending: f.Pending}
	switch f.Kind {
	case session.FragmentText:
		frame.Type = "text"
		frame.Text = f.Text
	case session.FragmentTool:
		frame.Type = "tool"
		frame.Tool = &wsTool{
			CallID:    f.Tool.CallID,
			Tool:      f.Tool.Tool,
			Arguments: f.Tool.Arguments,
			Result:    f.Tool.Result,
			Finished:  f.Tool.Finished,
		}
	case session.FragmentControl:
		if f.Control.Clarification != "" {
			frame.Type = "clarification"
			frame.Prompt = f.Control.Clarification
		} else {
			frame.Type = "error"
			frame.Kind = string(f.Control.ErrorKind)
			frame.Message = f.Control.Message
		}
	}
	return frame
}
