package conversation

import (
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversation.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndGetRecent_OrderedOldestFirst(t *testing.T) {
	s := openTestStore(t)
	id := s.StartNewSession()

	if err := s.AppendTurn(id, "user", "first"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendTurn(id, "assistant", "second"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendTurn(id, "user", "third"); err != nil {
		t.Fatalf("append: %v", err)
	}

	turns, err := s.GetRecent(id, 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Text != "first" || turns[1].Text != "second" || turns[2].Text != "third" {
		t.Errorf("expected oldest-first ordering, got %+v", turns)
	}
}

func TestGetRecent_RespectsLimit(t *testing.T) {
	s := openTestStore(t)
	id := s.StartNewSession()

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		if err := s.AppendTurn(id, "user", text); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	turns, err := s.GetRecent(id, 2)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Text != "d" || turns[1].Text != "e" {
		t.Errorf("expected the 2 most recent turns in order, got %+v", turns)
	}
}

func TestGetRecent_UnknownSessionReturnsEmpty(t *testing.T) {
	s := openTestStore(t)
	turns, err := s.GetRecent("does-not-exist", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected no turns for unknown session, got %d", len(turns))
	}
}

func TestDeleteSession_RemovesTurns(t *testing.T) {
	s := openTestStore(t)
	id := s.StartNewSession()
	if err := s.AppendTurn(id, "user", "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.DeleteSession(id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	turns, err := s.GetRecent(id, 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected no turns after delete, got %d", len(turns))
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	s := openTestStore(t)
	a := s.StartNewSession()
	b := s.StartNewSession()

	if err := s.AppendTurn(a, "user", "session a"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendTurn(b, "user", "session b"); err != nil {
		t.Fatalf("append: %v", err)
	}

	aTurns, _ := s.GetRecent(a, 10)
	bTurns, _ := s.GetRecent(b, 10)
	if len(aTurns) != 1 || aTurns[0].Text != "session a" {
		t.Errorf("unexpected turns for session a: %+v", aTurns)
	}
	if len(bTurns) != 1 || bTurns[0].Text != "session b" {
		t.Errorf("unexpected turns for session b: %+v", bTurns)
	}
}

func TestAppendTurn_ConcurrentSameSessionSerializes(t *testing.T) {
	s := openTestStore(t)
	id := s.StartNewSession()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := s.AppendTurn(id, "user", "turn"); err != nil {
				t.Errorf("append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	turns, err := s.GetRecent(id, 100)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(turns) != 20 {
		t.Errorf("expected 20 turns after concurrent appends, got %d", len(turns))
	}
}
