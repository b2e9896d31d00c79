package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/framefighter/ate/meal"
)

// Kind names the flow a session drives.
type Kind string

const (
	KindCreateMeal Kind = "creating-meal"
	KindRatingPoll Kind = "rating-poll"
	KindPlanning   Kind = "planning"
)

// Step is a flow-specific state name. The owning flow defines the legal
// order; cancellation is always legal.
type Step string

// DefaultTTL is how long a session may sit idle before a lookup treats
// it as expired.
const DefaultTTL = 15 * time.Minute

// Session is the state of one in-flight multi-step interaction.
type Session struct {
	ID        string
	Scope     Scope
	Kind      Kind
	Step      Step
	Draft     *meal.Meal
	PollID    string
	PlanNames []string
	PlanCount int
	Messages  *Tracker
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Registry holds at most one live session per scope.
type Registry struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[Scope]*Session
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[Scope]*Session),
	}
}

// Begin starts a fresh session for scope, replacing any live one. The
// returned Tracked slice holds the replaced session's messages so the
// caller can delete them.
func (r *Registry) Begin(scope Scope, kind Kind) (*Session, []Tracked) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []Tracked
	if prev, ok := r.sessions[scope]; ok {
		stale = prev.Messages.Drain()
	}
	now := r.now()
	s := &Session{
		ID:        uuid.NewString(),
		Scope:     scope,
		Kind:      kind,
		Messages:  NewTracker(),
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
	r.sessions[scope] = s
	return s, stale
}

// Get returns the live session for scope. A session past its deadline is
// removed and treated as absent; its tracked messages are returned for
// cleanup.
func (r *Registry) Get(scope Scope) (*Session, []Tracked, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[scope]
	if !ok {
		return nil, nil, false
	}
	if r.now().After(s.ExpiresAt) {
		delete(r.sessions, scope)
		return nil, s.Messages.Drain(), false
	}
	return s, nil, true
}

// Advance moves the session to step and applies patch while holding the
// registry lock. The idle deadline is refreshed. Returns false when no
// live session exists for scope.
func (r *Registry) Advance(scope Scope, step Step, patch func(*Session)) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[scope]
	if !ok {
		return nil, false
	}
	if r.now().After(s.ExpiresAt) {
		delete(r.sessions, scope)
		return nil, false
	}
	s.Step = step
	if patch != nil {
		patch(s)
	}
	s.ExpiresAt = r.now().Add(r.ttl)
	return s, true
}

// End terminates the session for scope and returns its tracked messages
// for cleanup. Ending an absent session is a no-op.
func (r *Registry) End(scope Scope) []Tracked {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[scope]
	if !ok {
		return nil
	}
	delete(r.sessions, scope)
	return s.Messages.Drain()
}

// SetClock overrides the registry's time source. Tests only.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
