package tokens

import (
	"sync"
	"testing"
)

func TestConsumeIsSingleUse(t *testing.T) {
	s := NewStore()
	tok := s.Issue("u1")

	uid, next, ok := s.Consume(tok)
	if !ok || uid != "u1" {
		t.Fatalf("Consume = (%q, ok=%v)", uid, ok)
	}
	if next == "" || next == tok {
		t.Fatalf("rotation produced %q", next)
	}

	if _, _, ok := s.Consume(tok); ok {
		t.Fatal("consumed token validated twice")
	}
	if uid, _, ok := s.Consume(next); !ok || uid != "u1" {
		t.Fatal("rotated token should validate for the same uid")
	}
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	s := NewStore()
	tok := s.Issue("u1")

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, next, ok := s.Consume(tok); ok {
				wins <- next
			}
		}()
	}
	wg.Wait()
	close(wins)

	var replacements []string
	for n := range wins {
		replacements = append(replacements, n)
	}
	if len(replacements) != 1 {
		t.Fatalf("%d racers consumed the same token", len(replacements))
	}
}

func TestRevokeAll(t *testing.T) {
	s := NewStore()
	t1 := s.Issue("u1")
	t2 := s.Issue("u1")
	other := s.Issue("u2")

	s.RevokeAll("u1")
	if _, _, ok := s.Consume(t1); ok {
		t.Error("revoked token validated")
	}
	if _, _, ok := s.Consume(t2); ok {
		t.Error("revoked token validated")
	}
	if uid, _, ok := s.Consume(other); !ok || uid != "u2" {
		t.Error("revocation hit an unrelated uid")
	}
}

func TestCount(t *testing.T) {
	s := NewStore()
	s.Issue("u1")
	s.Issue("u2")
	if got := s.Count(); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}
}
