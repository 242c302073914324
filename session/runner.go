package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Rosti35/sgr-agent-core/upstream"
)

// eventBuffer is the channel depth between the stream client and the state
// machine. Once it fills, a slow caller backpressures the backend read.
const eventBuffer = 64

// Streamer is the part of the upstream client the runner drives.
type Streamer interface {
	Stream(ctx context.Context, agentID string, req upstream.TurnRequest, ch chan<- json.RawMessage) error
}

// Sink receives fragments in arrival order. A Sink that blocks slows the
// whole pipeline down rather than dropping fragments; a Sink error means
// the caller is gone and the turn is cancelled.
type Sink func(Fragment) error

// Runner drives one turn through the pipeline: the stream client feeds raw
// payloads to the decoder, decoded events go through the state machine, and
// the resulting fragments reach the sink. It also owns the turn deadline
// and propagates caller cancellation to the backend connection.
type Runner struct {
	client  Streamer
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a runner with the given per-turn timeout.
func NewRunner(client Streamer, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, timeout: timeout, logger: logger}
}

// Run executes one turn. It returns nil when the session completed or is
// awaiting clarification, and the classifying error otherwise. The session
// is always in a settled phase (terminal or awaiting) when Run returns.
func (r *Runner) Run(ctx context.Context, sess *Session, turn upstream.TurnRequest, sink Sink) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	raw := make(chan json.RawMessage, eventBuffer)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- r.client.Stream(ctx, sess.AgentID, turn, raw)
	}()

	var lastDecodeErr error
	for payload := range raw {
		ev, err := upstream.Decode(payload)
		if err != nil {
			// Recovered locally: log, skip, keep the session going.
			r.logger.Warn("skipping undecodable event",
				"session", sess.ID, "error", err)
			lastDecodeErr = err
			continue
		}
		lastDecodeErr = nil

		for _, frag := range sess.Apply(ev) {
			if err := sink(frag); err != nil {
				// Caller is gone: close the backend connection and fail the
				// session without emitting anything further.
				cancel()
				drain(raw, streamErr)
				sess.Fail(upstream.ErrCancelled, "caller write failed: "+err.Error())
				return upstream.Errf(upstream.ErrCancelled, "caller write failed: %v", err)
			}
		}
	}

	err := <-streamErr
	if err != nil {
		kind := upstream.ErrTruncated
		var ue *upstream.Error
		if errors.As(err, &ue) {
			kind = ue.Kind
		}
		r.emitFinal(sess.Fail(kind, err.Error()), sink)
		return err
	}

	if sess.Terminal() || sess.Phase() == PhaseAwaitingClarification {
		return nil
	}

	// The stream closed cleanly but the turn never completed. If a decode
	// failure ate the last signal, what should have been the completion is
	// gone; either way the caller sees a truncated turn.
	detail := "stream ended before completion"
	if lastDecodeErr != nil {
		detail = "last event undecodable: " + lastDecodeErr.Error()
	}
	r.emitFinal(sess.Fail(upstream.ErrTruncated, detail), sink)
	return upstream.Errf(upstream.ErrTruncated, "%s", detail)
}

func (r *Runner) emitFinal(frags []Fragment, sink Sink) {
	for _, frag := range frags {
		if err := sink(frag); err != nil {
			r.logger.Warn("dropping final fragment, caller gone", "error", err)
			return
		}
	}
}

// drain unblocks the stream goroutine after a cancel so it can observe the
// closed context and exit.
func drain(raw <-chan json.RawMessage, streamErr <-chan error) {
	for range raw {
	}
	<-streamErr
}
