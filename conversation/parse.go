package conversation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/framefighter/ate/meal"
)

// ErrBadInput marks malformed user input. It is always recovered by
// re-prompting, never surfaced as a failure.
var ErrBadInput = errors.New("conversation: bad input")

// NewCommand is the parsed form of a single-shot
// "/new name[, rating][, tags][, refs]" line.
type NewCommand struct {
	Draft meal.Meal
	// HasRating distinguishes "/new Pasta" (fall back to the dialog)
	// from "/new Pasta, 4" (persist in one step).
	HasRating bool
}

// ParseNew splits a /new argument line on commas: name, then rating,
// then space-separated tags, then references. A rating field that does
// not parse as a whole number in range is bad input.
func ParseNew(args string) (NewCommand, error) {
	parts := strings.Split(args, ",")
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return NewCommand{}, fmt.Errorf("%w: meal name is required", ErrBadInput)
	}
	cmd := NewCommand{Draft: meal.Meal{Name: name}}

	if len(parts) > 1 {
		raw := strings.TrimSpace(parts[1])
		rating, err := strconv.Atoi(raw)
		if err != nil || rating < 0 || rating > meal.MaxRating {
			return NewCommand{}, fmt.Errorf("%w: rating %q must be a number between 0 and %d", ErrBadInput, raw, meal.MaxRating)
		}
		cmd.Draft.Rating = rating
		cmd.HasRating = true
	}
	if len(parts) > 2 {
		if tags := strings.Fields(parts[2]); len(tags) > 0 {
			cmd.Draft.Tags = tags
		}
	}
	if len(parts) > 3 {
		for _, ref := range parts[3:] {
			if ref = strings.TrimSpace(ref); ref != "" {
				cmd.Draft.Refs = append(cmd.Draft.Refs, ref)
			}
		}
	}
	return cmd, nil
}

// parseRating accepts either a bare number or a row of star runes, the
// two shapes the rating step can receive as text.
func parseRating(text string) (int, error) {
	text = strings.TrimSpace(text)
	if stars := strings.Count(text, "⭐"); stars > 0 && strings.ReplaceAll(text, "⭐", "") == "" {
		if stars > meal.MaxRating {
			return 0, fmt.Errorf("%w: too many stars", ErrBadInput)
		}
		return stars, nil
	}
	rating, err := strconv.Atoi(text)
	if err != nil || rating < 0 || rating > meal.MaxRating {
		return 0, fmt.Errorf("%w: rating must be between 0 and %d", ErrBadInput, meal.MaxRating)
	}
	return rating, nil
}

// skipRequested reports whether a text reply opts out of an optional
// step.
func skipRequested(text string) bool {
	t := strings.TrimSpace(text)
	return t == "-" || strings.EqualFold(t, "skip")
}
