// Package registry discovers the backend's agents and advertises them as
// selectable models, behind a short-lived cache that degrades to stale data
// when the backend is unreachable.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Rosti35/sgr-agent-core/upstream"
)

const defaultTTL = 30 * time.Second

// Lister is the part of the upstream client the registry uses.
type Lister interface {
	ListModels(ctx context.Context) ([]upstream.ModelInfo, error)
}

// Descriptor is a cached snapshot of one backend agent. Descriptors are
// never mutated in place; a refresh replaces the whole slice.
type Descriptor struct {
	ID           string
	DisplayName  string
	Capabilities []string
}

// Registry caches the backend's model listing. Reads never block on a
// refresh in progress: a refresh fetches outside the read lock and swaps
// the snapshot atomically.
type Registry struct {
	client Lister
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.RWMutex
	agents    []Descriptor
	fetchedAt time.Time

	// refreshMu serializes refreshes; readers never take it.
	refreshMu sync.Mutex
}

// New creates a registry over the given lister. ttl <= 0 uses the default.
func New(client Lister, ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{client: client, ttl: ttl, logger: logger}
}

// Agents returns the advertised agent list. A fresh cache is served as-is;
// a stale one triggers a refresh, falling back to the stale snapshot when
// the backend cannot be reached. Only a registry that has never succeeded
// surfaces ErrRegistry.
func (r *Registry) Agents(ctx context.Context) ([]Descriptor, error) {
	if snap, ok := r.fresh(); ok {
		return snap, nil
	}

	if !r.refreshMu.TryLock() {
		// Another request is refreshing; serve whatever we have.
		if snap, _, ok := r.snapshot(); ok {
			return snap, nil
		}
		return nil, upstream.Errf(upstream.ErrRegistry, "initial agent listing in progress")
	}
	defer r.refreshMu.Unlock()

	// Re-check: the refresh we waited on may have landed.
	if snap, ok := r.fresh(); ok {
		return snap, nil
	}

	models, err := r.client.ListModels(ctx)
	if err != nil {
		if snap, age, ok := r.snapshot(); ok {
			r.logger.Warn("agent listing failed, serving stale cache",
				"error", err, "age", age.String())
			return snap, nil
		}
		return nil, upstream.Errf(upstream.ErrRegistry, "list agents: %v", err)
	}

	agents := make([]Descriptor, len(models))
	for i, m := range models {
		agents[i] = Descriptor{
			ID:           m.ID,
			DisplayName:  displayName(m.ID),
			Capabilities: m.Capabilities,
		}
	}

	r.mu.Lock()
	r.agents = agents
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	return agents, nil
}

// Resolve maps a model id to its descriptor. When the registry has never
// been reachable it passes the id through unchecked, so registry outages
// degrade rather than failing turns; a reachable registry that does not
// know the id reports ErrProtocol.
func (r *Registry) Resolve(ctx context.Context, id string) (Descriptor, error) {
	agents, err := r.Agents(ctx)
	if err != nil {
		r.logger.Warn("resolving agent without registry", "agent", id, "error", err)
		return Descriptor{ID: id, DisplayName: displayName(id)}, nil
	}
	for _, a := range agents {
		if a.ID == id {
			return a, nil
		}
	}
	return Descriptor{}, upstream.Errf(upstream.ErrProtocol, "unknown agent %q", id)
}

func (r *Registry) fresh() ([]Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.agents == nil || time.Since(r.fetchedAt) > r.ttl {
		return nil, false
	}
	return r.agents, true
}

func (r *Registry) snapshot() ([]Descriptor, time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.agents == nil {
		return nil, 0, false
	}
	return r.agents, time.Since(r.fetchedAt), true
}

// displayName turns an agent id like "sgr_tool_calling_agent" into
// "Sgr Tool Calling Agent".
func displayName(id string) string {
	words := strings.Split(strings.ReplaceAll(id, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
