package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxEventBytes caps the size of a single SSE payload from the backend.
const maxEventBytes = 1 << 20

// Message is one turn of conversation history, in the role/content shape
// both sides of the bridge share.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRequest is the body of a streaming invocation. SessionID chains a
// continuation onto a turn that is awaiting clarification.
type TurnRequest struct {
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	SessionID string    `json:"session_id,omitempty"`
}

// ModelInfo is one entry of the agent API's model listing.
type ModelInfo struct {
	ID           string   `json:"id"`
	OwnedBy      string   `json:"owned_by"`
	Capabilities []string `json:"capabilities"`
}

// Client talks to the SGR agent API: one streaming invocation endpoint per
// agent, a model listing and a health probe.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a client for the agent API at baseURL. Streaming calls
// carry no client-side timeout; the per-turn deadline arrives via context.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

// Stream opens the agent's streaming endpoint and forwards each raw SSE
// payload to ch in arrival order. ch is always closed before Stream returns.
// A failure before any payload was delivered reports ErrUnreachable, a
// failure after that ErrTruncated; cancellation and deadline expiry map to
// ErrCancelled and ErrTimedOut. Payloads already sent remain valid.
func (c *Client) Stream(ctx context.Context, agentID string, req TurnRequest, ch chan<- json.RawMessage) error {
	defer close(ch)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal turn request: %w", err)
	}

	endpoint := c.baseURL + "/v1/agents/" + url.PathEscape(agentID) + "/stream"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classify(ctx, err, false)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Errf(ErrUnreachable, "agent API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	delivered := false
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		payload := json.RawMessage(append([]byte(nil), data...))
		select {
		case ch <- payload:
			delivered = true
		case <-ctx.Done():
			return classify(ctx, ctx.Err(), delivered)
		}
	}

	if err := scanner.Err(); err != nil {
		return classify(ctx, err, delivered)
	}
	// EOF without the [DONE] sentinel: the connection closed under us.
	return Errf(ErrTruncated, "stream ended without [DONE]")
}

// classify maps a transport error onto the taxonomy, preferring the
// cancellation cause when the context drove the failure.
func classify(ctx context.Context, err error, delivered bool) *Error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return Errf(ErrCancelled, "%v", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Errf(ErrTimedOut, "%v", err)
	case delivered:
		return Errf(ErrTruncated, "%v", err)
	default:
		return Errf(ErrUnreachable, "%v", err)
	}
}

// ListModels fetches the agent API's model listing.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, Errf(ErrRegistry, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, Errf(ErrRegistry, "agent API returned %d", resp.StatusCode)
	}

	var out struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Errf(ErrRegistry, "parse model listing: %v", err)
	}
	return out.Data, nil
}

// Health probes the agent API's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Errf(ErrUnreachable, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Errf(ErrUnreachable, "agent API returned %d", resp.StatusCode)
	}
	return nil
}
