package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Writer sends Server-Sent Events to an http.ResponseWriter using the
// OpenAI streaming framing: unnamed data events with JSON payloads,
// terminated by a literal [DONE] sentinel. Writes are serialized, so a
// keep-alive goroutine may share the writer with the event producer.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and commits the response headers.
// Returns nil if the ResponseWriter doesn't support http.Flusher.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}
}

// SendData writes one data event with JSON-encoded payload and flushes.
func (s *Writer) SendData(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendDone writes the [DONE] sentinel that terminates an OpenAI stream.
func (s *Writer) SendDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendComment writes an SSE comment (for keep-alive pings).
func (s *Writer) SendComment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flusher.Flush()
}

// KeepAlive sends comment pings every interval so proxies do not idle out
// a long-running turn. The returned stop function halts the pings and does
// not return until the ping goroutine has exited, so the ResponseWriter is
// not touched after the handler returns.
func (s *Writer) KeepAlive(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SendComment("ping")
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
