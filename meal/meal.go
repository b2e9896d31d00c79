package meal

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// MaxRating is the highest star rating a meal can have. A rating of 0
// means the meal has not been rated yet.
const MaxRating = 5

var (
	ErrEmptyName     = errors.New("meal: name is empty")
	ErrInvalidRating = errors.New("meal: rating out of range")
)

// Meal is a single tracked meal. Name is unique store-wide by its
// normalized form.
type Meal struct {
	Name      string    `json:"name" yaml:"name"`
	Rating    int       `json:"rating,omitempty" yaml:"rating,omitempty"`
	Tags      []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Refs      []string  `json:"refs,omitempty" yaml:"refs,omitempty"`
	PhotoID   string    `json:"photo_id,omitempty" yaml:"photo_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// NormalizeName returns the canonical store key for a meal name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Validate reports whether the meal can be persisted as-is.
func (m *Meal) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return ErrEmptyName
	}
	if m.Rating < 0 || m.Rating > MaxRating {
		return fmt.Errorf("%w: %d", ErrInvalidRating, m.Rating)
	}
	return nil
}

// Key returns the normalized name the meal is stored under.
func (m *Meal) Key() string {
	return NormalizeName(m.Name)
}

// String renders the chat display form: upper-cased name, a star row for
// the rating, tags joined with pipes, and refs in parentheses.
func (m *Meal) String() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(m.Name))
	if m.Rating > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("⭐", m.Rating))
	}
	if len(m.Tags) > 0 {
		b.WriteString("\n\n| ")
		b.WriteString(strings.Join(m.Tags, " | "))
		b.WriteString(" |")
	}
	for _, ref := range m.Refs {
		b.WriteString("\n\n(")
		b.WriteString(ref)
		b.WriteString(")")
	}
	return b.String()
}

// Search returns the meals whose names fuzzily match query, best match
// first. An empty query returns the input unchanged.
func Search(meals []Meal, query string) []Meal {
	query = strings.TrimSpace(query)
	if query == "" {
		return meals
	}
	names := make([]string, len(meals))
	byName := make(map[string]Meal, len(meals))
	for i, m := range meals {
		names[i] = m.Name
		byName[m.Name] = m
	}
	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Sort(ranks)
	out := make([]Meal, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, byName[r.Target])
	}
	return out
}
