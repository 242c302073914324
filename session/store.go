package session

import (
	"sync"
	"time"
)

const defaultSessionTTL = 30 * time.Minute

// storeEntry wraps a Session with a last-accessed timestamp for TTL eviction.
type storeEntry struct {
	sess       *Session
	lastAccess time.Time
}

// Store keeps sessions that are awaiting clarification so a follow-up
// request can chain onto them. Abandoned sessions are evicted after the TTL.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*storeEntry
	ttl      time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewStore creates a session store with the default TTL and starts eviction.
func NewStore() *Store {
	return NewStoreTTL(defaultSessionTTL)
}

// NewStoreTTL creates a session store with the given TTL.
func NewStoreTTL(ttl time.Duration) *Store {
	st := &Store{
		sessions: make(map[string]*storeEntry),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go st.evictLoop()
	return st
}

// Put stores a session and refreshes its TTL.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID] = &storeEntry{sess: s, lastAccess: time.Now()}
}

// Get returns the session or nil, refreshing its TTL on hit.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	entry, ok := st.sessions[id]
	if !ok {
		return nil
	}
	entry.lastAccess = time.Now()
	return entry.sess
}

// Take removes and returns the session, or nil when absent. Removal and
// lookup are one atomic step, so exactly one request can claim a suspended
// session for continuation; the claimer re-Puts it if the turn suspends
// again.
func (st *Store) Take(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	entry, ok := st.sessions[id]
	if !ok {
		return nil
	}
	delete(st.sessions, id)
	return entry.sess
}

// Delete removes a session.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len returns the number of stored sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Close stops the eviction loop.
func (st *Store) Close() {
	st.once.Do(func() { close(st.stop) })
}

func (st *Store) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st.evict()
		case <-st.stop:
			return
		}
	}
}

func (st *Store) evict() {
	st.mu.Lock()
	defer st.mu.Unlock()
	cutoff := time.Now().Add(-st.ttl)
	for id, entry := range st.sessions {
		if entry.lastAccess.Before(cutoff) {
			delete(st.sessions, id)
		}
	}
}
