package session

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Rosti35/sgr-agent-core/upstream"
)

func TestStore_PutGetDelete(t *testing.T) {
	st := NewStoreTTL(time.Minute)
	defer st.Close()

	s := New("researcher", true, slog.Default())
	st.Put(s)

	if got := st.Get(s.ID); got != s {
		t.Fatalf("expected stored session back, got %v", got)
	}
	if st.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", st.Len())
	}

	st.Delete(s.ID)
	if got := st.Get(s.ID); got != nil {
		t.Fatalf("expected nil after delete, got %v", got)
	}
}

func TestStore_TakeClaimsOnce(t *testing.T) {
	st := NewStoreTTL(time.Minute)
	defer st.Close()

	s := New("researcher", true, slog.Default())
	s.Apply(upstream.ClarificationRequested{Prompt: "Which year?"})
	st.Put(s)

	// Concurrent continuations of the same id: exactly one may claim the
	// suspended session and resume it.
	claims := make(chan *Session, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := st.Take(s.ID); got != nil {
				claims <- got
			}
		}()
	}
	wg.Wait()
	close(claims)

	var winners []*Session
	for c := range claims {
		winners = append(winners, c)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one claim, got %d", len(winners))
	}
	if err := winners[0].Resume(); err != nil {
		t.Fatalf("claimed session must resume: %v", err)
	}
	if st.Get(s.ID) != nil {
		t.Fatal("claimed session must leave the store")
	}
}

func TestStore_TakeUnknown(t *testing.T) {
	st := NewStoreTTL(time.Minute)
	defer st.Close()
	if got := st.Take("nope"); got != nil {
		t.Fatalf("expected nil for unknown id, got %v", got)
	}
}

func TestStore_GetUnknown(t *testing.T) {
	st := NewStoreTTL(time.Minute)
	defer st.Close()
	if got := st.Get("nope"); got != nil {
		t.Fatalf("expected nil for unknown id, got %v", got)
	}
}

func TestStore_EvictsExpired(t *testing.T) {
	st := NewStoreTTL(10 * time.Millisecond)
	defer st.Close()

	old := New("researcher", true, slog.Default())
	st.Put(old)
	time.Sleep(20 * time.Millisecond)

	fresh := New("researcher", true, slog.Default())
	st.Put(fresh)

	st.evict()
	if st.Get(old.ID) != nil {
		t.Fatal("expected expired session to be evicted")
	}
	if st.Get(fresh.ID) == nil {
		t.Fatal("fresh session must survive eviction")
	}
}

func TestStore_GetRefreshesTTL(t *testing.T) {
	st := NewStoreTTL(30 * time.Millisecond)
	defer st.Close()

	s := New("researcher", true, slog.Default())
	st.Put(s)

	time.Sleep(20 * time.Millisecond)
	st.Get(s.ID)
	time.Sleep(20 * time.Millisecond)

	st.evict()
	if st.Get(s.ID) == nil {
		t.Fatal("access must refresh the TTL")
	}
}

func TestStore_CloseIdempotent(t *testing.T) {
	st := NewStoreTTL(time.Minute)
	st.Close()
	st.Close()
}
