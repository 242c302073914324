package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Rosti35/sgr-agent-core/registry"
	"github.com/Rosti35/sgr-agent-core/session"
	"github.com/Rosti35/sgr-agent-core/sse"
	"github.com/Rosti35/sgr-agent-core/upstream"
)

// Config holds handler-level configuration. The core receives it already
// validated; parsing flags/env/files is the cmd layer's job.
type Config struct {
	DefaultAgent  string
	ShowToolCalls bool
}

// Deps holds shared dependencies injected into handlers.
type Deps struct {
	Registry *registry.Registry
	Runner   *session.Runner
	Sessions *session.Store
	Config   *Config
	Logger   *slog.Logger
}

// RegisterRoutes registers the OpenAI-compatible bridge routes on the mux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &bridgeHandler{deps: deps}

	mux.HandleFunc("/v1/models", h.listModels)
	mux.HandleFunc("/v1/chat/completions", h.chatCompletions)
	mux.HandleFunc("/v1/chat/ws", h.chatSocket)
}

type bridgeHandler struct {
	deps *Deps
}

// keepAliveInterval is how often an idle SSE stream gets a comment ping.
const keepAliveInterval = 15 * time.Second

// --- Models ---

type modelEntry struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	OwnedBy     string `json:"owned_by"`
	DisplayName string `json:"display_name,omitempty"`
}

func (h *bridgeHandler) listModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	agents, err := h.deps.Registry.Agents(r.Context())
	if err != nil {
		// Never been reachable: advertise the well-known defaults so the
		// front-end still has something to select.
		h.deps.Logger.Warn("serving fallback model list", "error", err)
		agents = []registry.Descriptor{
			{ID: "sgr_tool_calling_agent", DisplayName: "Sgr Tool Calling Agent"},
			{ID: "sgr_research_agent", DisplayName: "Sgr Research Agent"},
		}
	}

	data := make([]modelEntry, len(agents))
	for i, a := range agents {
		data[i] = modelEntry{
			ID:          a.ID,
			Object:      "model",
			OwnedBy:     "sgr-agent",
			DisplayName: a.DisplayName,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// --- Chat completions ---

func (h *bridgeHandler) chatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	// Title generation side-requests never hit the research agent.
	if req.Title {
		writeJSON(w, http.StatusOK, titleCompletion(req.Model))
		return
	}

	sess, turn, status, err := h.prepareTurn(r, &req)
	if err != nil {
		writeJSONError(w, status, err.Error())
		return
	}

	if !req.Stream {
		h.completeTurn(w, r, sess, turn, req.Model)
		return
	}

	// Validate before SSE headers are sent (NewWriter commits 200).
	w.Header().Set("X-Session-ID", sess.ID)
	writer := sse.NewWriter(w)
	if writer == nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Research turns can run for minutes between events; ping so proxies
	// do not idle the connection out.
	stopPing := writer.KeepAlive(keepAliveInterval)
	defer stopPing()

	em := newChunkEmitter(writer, sess.ID, req.Model)
	if err := h.deps.Runner.Run(r.Context(), sess, turn, em.emit); err != nil {
		h.deps.Logger.Warn("turn ended with error",
			"session", sess.ID, "agent", sess.AgentID, "error", err)
	}
	h.settleSession(sess)

	// The failure fragment (if any) was already emitted by the runner;
	// close out the stream regardless so the caller sees [DONE].
	if err := em.close(); err != nil {
		h.deps.Logger.Debug("closing stream failed, caller gone",
			"session", sess.ID, "error", err)
	}
}

// completeTurn serves the non-streaming mode: run the whole turn, then
// return the assembled text plus the tool activity summary.
func (h *bridgeHandler) completeTurn(w http.ResponseWriter, r *http.Request, sess *session.Session, turn upstream.TurnRequest, model string) {
	var clarification string
	sink := func(f session.Fragment) error {
		if f.Control != nil && f.Control.Clarification != "" {
			clarification = f.Control.Clarification
		}
		return nil
	}

	err := h.deps.Runner.Run(r.Context(), sess, turn, sink)
	h.settleSession(sess)
	if err != nil {
		kind := errorKind(err)
		writeJSONError(w, statusFor(kind), kind.UserMessage())
		return
	}

	finish := finishStop
	content := sess.Text()
	if sess.Phase() == session.PhaseAwaitingClarification {
		finish = finishClarification
		content = clarification
	}

	w.Header().Set("X-Session-ID", sess.ID)
	writeJSON(w, http.StatusOK, chatCompletion{
		ID:        "chatcmpl-" + sess.ID,
		Object:    "chat.completion",
		Created:   time.Now().Unix(),
		Model:     model,
		SessionID: sess.ID,
		Choices: []completionChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: finish,
		}},
		ToolActivity: sess.Activity(),
	})
}

// prepareTurn validates the request, resolves the agent and either creates
// a fresh session or resumes one awaiting clarification.
func (h *bridgeHandler) prepareTurn(r *http.Request, req *chatRequest) (*session.Session, upstream.TurnRequest, int, error) {
	if len(req.Messages) == 0 {
		return nil, upstream.TurnRequest{}, http.StatusBadRequest, errors.New("messages must not be empty")
	}
	if !hasUserMessage(req.Messages) {
		return nil, upstream.TurnRequest{}, http.StatusBadRequest, errors.New("no user message found in the request")
	}

	agentID := normalizeModelID(req.Model)
	if agentID == "" {
		agentID = h.deps.Config.DefaultAgent
	}
	desc, err := h.deps.Registry.Resolve(r.Context(), agentID)
	if err != nil {
		return nil, upstream.TurnRequest{}, http.StatusNotFound, errors.New("unknown model " + agentID)
	}

	var sess *session.Session
	if req.SessionID != "" {
		// Take, not Get: a session is owned by one request at a time, so a
		// concurrent continuation of the same id sees it as unknown.
		sess = h.deps.Sessions.Take(req.SessionID)
		if sess == nil {
			return nil, upstream.TurnRequest{}, http.StatusNotFound, errors.New("unknown session " + req.SessionID)
		}
		if err := sess.Resume(); err != nil {
			h.deps.Sessions.Put(sess)
			return nil, upstream.TurnRequest{}, http.StatusConflict, errors.New("session is not awaiting clarification")
		}
	} else {
		sess = session.New(desc.ID, h.deps.Config.ShowToolCalls, h.deps.Logger)
	}

	msgs := make([]upstream.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = upstream.Message{Role: m.Role, Content: m.Content}
	}
	turn := upstream.TurnRequest{Messages: msgs, Stream: true, SessionID: sess.ID}
	return sess, turn, 0, nil
}

// settleSession keeps sessions that wait for the user and discards the rest.
func (h *bridgeHandler) settleSession(sess *session.Session) {
	if sess.Phase() == session.PhaseAwaitingClarification {
		h.deps.Sessions.Put(sess)
		return
	}
	h.deps.Sessions.Delete(sess.ID)
}

// --- Helpers ---

func titleCompletion(model string) chatCompletion {
	return chatCompletion{
		ID:      "chatcmpl-title",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []completionChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: "Research Session"},
			FinishReason: finishStop,
		}},
	}
}

// normalizeModelID strips the pipeline prefix some front-ends attach
// (e.g. "sgr_deep_research.sgr_tool_calling_agent").
func normalizeModelID(model string) string {
	if i := strings.LastIndex(model, "."); i >= 0 {
		return model[i+1:]
	}
	return model
}

func hasUserMessage(msgs []chatMessage) bool {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && strings.TrimSpace(msgs[i].Content) != "" {
			return true
		}
	}
	return false
}

func errorKind(err error) upstream.ErrorKind {
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return upstream.ErrTruncated
}

func statusFor(kind upstream.ErrorKind) int {
	switch kind {
	case upstream.ErrTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
