// Package guard decides which Telegram users may run privileged
// commands. An empty operator list disables the check entirely.
package guard

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotAllowed is returned by callers when a user fails the check.
var ErrNotAllowed = errors.New("guard: user not allowed")

type Config struct {
	// Operators holds the user IDs allowed to run privileged
	// commands. Empty means everyone is allowed.
	Operators []int64
}

type Guard struct {
	mu        sync.RWMutex
	operators map[int64]bool
}

func New(cfg Config) *Guard {
	g := &Guard{operators: make(map[int64]bool, len(cfg.Operators))}
	for _, id := range cfg.Operators {
		g.operators[id] = true
	}
	return g
}

// Open reports whether the guard admits every user.
func (g *Guard) Open() bool {
	if g == nil {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.operators) == 0
}

// Allowed reports whether userID may run privileged commands.
func (g *Guard) Allowed(userID int64) bool {
	if g == nil {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.operators) == 0 {
		return true
	}
	return g.operators[userID]
}

// Grant adds userID to the operator list. Granting on an open guard
// closes it to the granted user plus the granter's set.
func (g *Guard) Grant(userID int64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.operators[userID] = true
}

// Revoke removes userID. Revoking the last operator reopens the guard.
func (g *Guard) Revoke(userID int64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.operators, userID)
}

// Operators returns the sorted operator IDs.
func (g *Guard) Operators() []int64 {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]int64, 0, len(g.operators))
	for id := range g.operators {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
