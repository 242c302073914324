package registry

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/Rosti35/sgr-agent-core/upstream"
)

// fakeLister counts calls and can be flipped to failing mid-test.
type fakeLister struct {
	models []upstream.ModelInfo
	err    error
	calls  int
}

func (f *fakeLister) ListModels(ctx context.Context) ([]upstream.ModelInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.models, nil
}

var twoAgents = []upstream.ModelInfo{
	{ID: "sgr_tool_calling_agent", Capabilities: []string{"tools", "streaming"}},
	{ID: "sgr_research_agent", Capabilities: []string{"streaming"}},
}

func TestRegistry_FetchAndCache(t *testing.T) {
	lister := &fakeLister{models: twoAgents}
	r := New(lister, time.Minute, slog.Default())

	agents, err := r.Agents(context.Background())
	if err != nil {
		t.Fatalf("listing failed: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].DisplayName != "Sgr Tool Calling Agent" {
		t.Fatalf("unexpected display name: %q", agents[0].DisplayName)
	}

	// Fresh cache is served without hitting the backend again.
	if _, err := r.Agents(context.Background()); err != nil {
		t.Fatalf("cached listing failed: %v", err)
	}
	if lister.calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", lister.calls)
	}
}

func TestRegistry_StaleOnError(t *testing.T) {
	lister := &fakeLister{models: twoAgents}
	r := New(lister, time.Nanosecond, slog.Default())

	if _, err := r.Agents(context.Background()); err != nil {
		t.Fatalf("initial listing failed: %v", err)
	}

	// Backend goes away; the stale snapshot keeps serving.
	lister.err = errors.New("connection refused")
	time.Sleep(time.Millisecond)
	agents, err := r.Agents(context.Background())
	if err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected stale snapshot, got %d agents", len(agents))
	}
}

func TestRegistry_NeverReachable(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	r := New(lister, time.Minute, slog.Default())

	_, err := r.Agents(context.Background())
	var ue *upstream.Error
	if !errors.As(err, &ue) || ue.Kind != upstream.ErrRegistry {
		t.Fatalf("expected registry error, got %v", err)
	}
}

func TestRegistry_ResolveKnown(t *testing.T) {
	r := New(&fakeLister{models: twoAgents}, time.Minute, slog.Default())
	d, err := r.Resolve(context.Background(), "sgr_research_agent")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if d.DisplayName != "Sgr Research Agent" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := New(&fakeLister{models: twoAgents}, time.Minute, slog.Default())
	_, err := r.Resolve(context.Background(), "nope")
	var ue *upstream.Error
	if !errors.As(err, &ue) || ue.Kind != upstream.ErrProtocol {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestRegistry_ResolvePassThroughWhenUnavailable(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	r := New(lister, time.Minute, slog.Default())

	d, err := r.Resolve(context.Background(), "sgr_tool_calling_agent")
	if err != nil {
		t.Fatalf("registry outage must not fail resolution: %v", err)
	}
	if d.ID != "sgr_tool_calling_agent" {
		t.Fatalf("expected pass-through descriptor, got %+v", d)
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"sgr_tool_calling_agent": "Sgr Tool Calling Agent",
		"researcher":             "Researcher",
		"a_b":                    "A B",
	}
	for in, want := range cases {
		if got := displayName(in); got != want {
			t.Errorf("displayName(%q) = %q, want %q", in, got, want)
		}
	}
}
