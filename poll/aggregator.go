// Package poll runs group rating polls: one open poll per flow,
// one counted vote per voter, reduced to a single rating at close time.
package poll

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/framefighter/ate/session"
)

// NeutralRating is applied when a poll closes without any votes.
const NeutralRating = 3

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// State is the aggregator's record of one poll.
type State struct {
	ID        string
	MealName  string
	Scope     session.Scope
	SessionID string
	// Message is the poll message in the chat, once known.
	Message  session.MessageRef
	Deadline time.Time
	Status   Status

	votes map[int64]int
}

// Outcome is the reduction of a closed poll.
type Outcome struct {
	Poll   State
	Rating int
	Votes  int
	// Canceled outcomes must not be applied to the meal.
	Canceled bool
}

// Aggregator owns all open polls and their auto-close timers.
type Aggregator struct {
	mu      sync.Mutex
	polls   map[string]*State
	timers  map[string]*time.Timer
	quorum  int
	neutral int
	expire  func(pollID string)
}

// New builds an aggregator. quorum is the vote count that triggers an
// early close; zero disables quorum closing.
func New(quorum int) *Aggregator {
	return &Aggregator{
		polls:   make(map[string]*State),
		timers:  make(map[string]*time.Timer),
		quorum:  quorum,
		neutral: NeutralRating,
	}
}

// SetExpiryHandler installs the callback invoked (on the timer
// goroutine) when a poll reaches its deadline. The handler is expected
// to call Close.
func (a *Aggregator) SetExpiryHandler(fn func(pollID string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expire = fn
}

// Open creates a poll for mealName owned by the given session and
// schedules the automatic close.
func (a *Aggregator) Open(mealName string, scope session.Scope, sessionID string, duration time.Duration) State {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := &State{
		ID:        uuid.NewString(),
		MealName:  mealName,
		Scope:     scope,
		SessionID: sessionID,
		Deadline:  time.Now().Add(duration),
		Status:    StatusOpen,
		votes:     make(map[int64]int),
	}
	a.polls[p.ID] = p
	if duration > 0 {
		id := p.ID
		a.timers[id] = time.AfterFunc(duration, func() {
			a.mu.Lock()
			fn := a.expire
			a.mu.Unlock()
			if fn != nil {
				fn(id)
			}
		})
	}
	return *p
}

// SetMessage records the chat message carrying the poll.
func (a *Aggregator) SetMessage(pollID string, ref session.MessageRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.polls[pollID]; ok {
		p.Message = ref
	}
}

// Get returns a copy of the poll state.
func (a *Aggregator) Get(pollID string) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.polls[pollID]
	if !ok {
		return State{}, false
	}
	return *p, true
}

// RecordVote stores value for voter, overwriting any earlier vote from
// the same voter. Votes against closed or unknown polls are dropped
// silently. The second result reports whether the quorum threshold has
// been reached.
func (a *Aggregator) RecordVote(pollID string, voterID int64, value int) (recorded, quorum bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.polls[pollID]
	if !ok || p.Status != StatusOpen {
		return false, false
	}
	p.votes[voterID] = value
	return true, a.quorum > 0 && len(p.votes) >= a.quorum
}

// Close stops the poll and reduces its votes to a rating: the rounded
// arithmetic mean, or the neutral rating when nobody voted. Closing an
// unknown or already-closed poll reports ok=false. The scheduled
// auto-close is canceled.
func (a *Aggregator) Close(pollID string) (Outcome, bool) {
	return a.finish(pollID, false)
}

// Cancel closes the poll without producing a rating to apply; the
// stale timer is stopped so it cannot mutate the meal later.
func (a *Aggregator) Cancel(pollID string) (Outcome, bool) {
	return a.finish(pollID, true)
}

func (a *Aggregator) finish(pollID string, canceled bool) (Outcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.polls[pollID]
	if !ok || p.Status != StatusOpen {
		return Outcome{}, false
	}
	p.Status = StatusClosed
	if t, ok := a.timers[pollID]; ok {
		t.Stop()
		delete(a.timers, pollID)
	}
	delete(a.polls, pollID)

	out := Outcome{Poll: *p, Votes: len(p.votes), Canceled: canceled}
	if len(p.votes) == 0 {
		out.Rating = a.neutral
		return out, true
	}
	sum := 0
	for _, v := range p.votes {
		sum += v
	}
	out.Rating = int(math.Round(float64(sum) / float64(len(p.votes))))
	return out, true
}

// FindByScope returns the open poll owned by scope, if any.
func (a *Aggregator) FindByScope(scope session.Scope) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.polls {
		if p.Scope == scope {
			return *p, true
		}
	}
	return State{}, false
}
