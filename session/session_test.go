package session

import (
	"testing"
	"time"
)

func TestBeginReplacesLiveSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	scope := UserScope(1, 2)

	first, stale := r.Begin(scope, KindCreateMeal)
	if len(stale) != 0 {
		t.Fatalf("Begin() first stale = %v, want none", stale)
	}
	first.Messages.Track(MessageRef{ChatID: 1, MessageID: 10}, RolePrompt)

	second, stale := r.Begin(scope, KindCreateMeal)
	if second.ID == first.ID {
		t.Fatalf("Begin() reused session id")
	}
	if len(stale) != 1 || stale[0].Ref.MessageID != 10 {
		t.Fatalf("Begin() stale = %v, want replaced prompt", stale)
	}

	got, _, ok := r.Get(scope)
	if !ok || got.ID != second.ID {
		t.Fatalf("Get() = %+v, ok=%v, want second session", got, ok)
	}
}

func TestGetExpiresIdleSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	r.SetClock(func() time.Time { return now })

	scope := ChatScope(7)
	s, _ := r.Begin(scope, KindPlanning)
	s.Messages.Track(MessageRef{ChatID: 7, MessageID: 3}, RoleKeyboard)

	now = base.Add(30 * time.Second)
	if _, _, ok := r.Get(scope); !ok {
		t.Fatalf("Get() before timeout ok = false")
	}

	now = base.Add(2 * time.Minute)
	_, cleanup, ok := r.Get(scope)
	if ok {
		t.Fatalf("Get() after timeout ok = true, want expired")
	}
	if len(cleanup) != 1 || cleanup[0].Ref.MessageID != 3 {
		t.Fatalf("Get() cleanup = %v, want tracked keyboard", cleanup)
	}
	if _, _, ok := r.Get(scope); ok {
		t.Fatalf("Get() expired session still present")
	}
}

func TestAdvanceRefreshesDeadline(t *testing.T) {
	t.Parallel()

	r := NewRegistry(time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	r.SetClock(func() time.Time { return now })

	scope := UserScope(1, 2)
	r.Begin(scope, KindCreateMeal)

	now = base.Add(50 * time.Second)
	if _, ok := r.Advance(scope, Step("awaiting-rating"), nil); !ok {
		t.Fatalf("Advance() ok = false")
	}

	// Would have expired at base+1m without the refresh.
	now = base.Add(100 * time.Second)
	s, _, ok := r.Get(scope)
	if !ok {
		t.Fatalf("Get() after refreshed advance ok = false")
	}
	if s.Step != Step("awaiting-rating") {
		t.Fatalf("Step = %q, want awaiting-rating", s.Step)
	}
}

func TestEndDrainsMessages(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	scope := ChatScope(5)
	s, _ := r.Begin(scope, KindRatingPoll)
	s.Messages.Track(MessageRef{ChatID: 5, MessageID: 1}, RolePrompt)
	s.Messages.Track(MessageRef{ChatID: 5, MessageID: 2}, RoleEcho)

	cleanup := r.End(scope)
	if len(cleanup) != 2 {
		t.Fatalf("End() cleanup = %v, want two tracked messages", cleanup)
	}
	if _, _, ok := r.Get(scope); ok {
		t.Fatalf("Get() after End ok = true")
	}
	if again := r.End(scope); again != nil {
		t.Fatalf("End() twice = %v, want nil", again)
	}
}

func TestTrackerSupersedeKeepsOneLivePerRole(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	first := MessageRef{ChatID: 1, MessageID: 1}
	second := MessageRef{ChatID: 1, MessageID: 2}

	if _, ok := tr.Supersede(first, RolePrompt); ok {
		t.Fatalf("Supersede() with no prior returned ok")
	}
	prev, ok := tr.Supersede(second, RolePrompt)
	if !ok || prev != first {
		t.Fatalf("Supersede() prev = %v, ok=%v, want first message", prev, ok)
	}
	live, ok := tr.Live(RolePrompt)
	if !ok || live != second {
		t.Fatalf("Live() = %v, want second message", live)
	}
	if got := tr.Drain(); len(got) != 1 {
		t.Fatalf("Drain() = %v, want single live prompt", got)
	}
	if got := tr.Drain(); len(got) != 0 {
		t.Fatalf("Drain() twice = %v, want empty", got)
	}
}
