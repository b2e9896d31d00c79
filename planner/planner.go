// Package planner picks meals by rating-weighted random sampling
// without replacement, so higher-rated meals show up more often while
// every meal keeps a nonzero chance.
package planner

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/framefighter/ate/meal"
)

var ErrInvalidCount = errors.New("planner: count must be positive")

// Result is one generated plan. Selection order is the draw order.
type Result struct {
	Selection []meal.Meal
	Count     int
	// Truncated is set when fewer meals existed than requested.
	Truncated bool
	// Empty is set when there was nothing to plan at all.
	Empty bool
}

// Names returns the selected meal names in draw order.
func (r Result) Names() []string {
	out := make([]string, len(r.Selection))
	for i, m := range r.Selection {
		out[i] = m.Name
	}
	return out
}

// Planner generates plans. Safe for concurrent use.
type Planner struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func New() *Planner {
	return &Planner{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded returns a planner with a deterministic source. Tests only.
func NewSeeded(seed uint64) *Planner {
	return &Planner{rng: rand.New(rand.NewPCG(seed, seed))}
}

// weight maps a rating to a sampling weight. Unrated and zero-rated
// meals keep a floor weight so they stay drawable.
func weight(m meal.Meal) float64 {
	if m.Rating < 1 {
		return 1
	}
	return float64(m.Rating)
}

// Plan draws count distinct meals, each draw proportional to the
// remaining pool's weights. When count exceeds the pool the whole pool
// is returned in weighted order and the result is marked truncated.
func (p *Planner) Plan(meals []meal.Meal, count int) (Result, error) {
	if count <= 0 {
		return Result{}, ErrInvalidCount
	}
	if len(meals) == 0 {
		return Result{Count: count, Empty: true}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	truncated := false
	if count > len(meals) {
		count = len(meals)
		truncated = true
	}
	return Result{
		Selection: p.sample(meals, count),
		Count:     count,
		Truncated: truncated,
	}, nil
}

// Reroll regenerates a plan of the same size. The previous selection is
// excluded when enough other meals exist; otherwise the exclusion is
// lifted and only the exact previous ordering is avoided.
func (p *Planner) Reroll(meals []meal.Meal, prev Result) (Result, error) {
	count := prev.Count
	if count <= 0 {
		count = len(prev.Selection)
	}
	if count <= 0 {
		return Result{}, ErrInvalidCount
	}
	if len(meals) == 0 {
		return Result{Count: count, Empty: true}, nil
	}

	exclude := make(map[string]bool, len(prev.Selection))
	for _, m := range prev.Selection {
		exclude[m.Key()] = true
	}
	fresh := make([]meal.Meal, 0, len(meals))
	for _, m := range meals {
		if !exclude[m.Key()] {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) >= count {
		p.mu.Lock()
		defer p.mu.Unlock()
		return Result{Selection: p.sample(fresh, count), Count: count}, nil
	}

	// Pool too small to avoid reuse entirely: draw from everything but
	// reject the exact previous ordering while an alternative exists.
	res, err := p.Plan(meals, count)
	if err != nil {
		return Result{}, err
	}
	if len(meals) <= res.Count {
		return res, nil
	}
	prevNames := prev.Names()
	for attempt := 0; attempt < 16 && sameSelection(res.Names(), prevNames); attempt++ {
		res, err = p.Plan(meals, count)
		if err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// sample performs weighted sampling without replacement: draw one meal
// proportional to weight, remove it, repeat.
func (p *Planner) sample(pool []meal.Meal, count int) []meal.Meal {
	remaining := make([]meal.Meal, len(pool))
	copy(remaining, pool)

	out := make([]meal.Meal, 0, count)
	for len(out) < count && len(remaining) > 0 {
		total := 0.0
		for _, m := range remaining {
			total += weight(m)
		}
		target := p.rng.Float64() * total
		idx := len(remaining) - 1
		acc := 0.0
		for i, m := range remaining {
			acc += weight(m)
			if target < acc {
				idx = i
				break
			}
		}
		out = append(out, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return out
}

func sameSelection(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if meal.NormalizeName(a[i]) != meal.NormalizeName(b[i]) {
			return false
		}
	}
	return true
}
