package meal

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Pasta", "pasta"},
		{"  Pasta  Carbonara ", "pasta carbonara"},
		{"PASTA", "pasta"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeName(tc.in); got != tc.want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := (&Meal{Name: "Pasta", Rating: 4}).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := (&Meal{Name: "  "}).Validate(); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("Validate() error = %v, want ErrEmptyName", err)
	}
	if err := (&Meal{Name: "Pasta", Rating: MaxRating + 1}).Validate(); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("Validate() error = %v, want ErrInvalidRating", err)
	}
	if err := (&Meal{Name: "Pasta", Rating: -1}).Validate(); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("Validate() error = %v, want ErrInvalidRating", err)
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	m := Meal{
		Name:   "Pasta",
		Rating: 3,
		Tags:   []string{"italian", "quick"},
		Refs:   []string{"https://example.com/pasta"},
	}
	got := m.String()
	if !strings.HasPrefix(got, "PASTA") {
		t.Fatalf("String() = %q, want upper-cased name first", got)
	}
	if !strings.Contains(got, "⭐⭐⭐") {
		t.Fatalf("String() = %q, want three stars", got)
	}
	if strings.Contains(got, "⭐⭐⭐⭐") {
		t.Fatalf("String() = %q, want exactly three stars", got)
	}
	if !strings.Contains(got, "| italian | quick |") {
		t.Fatalf("String() = %q, want piped tags", got)
	}
	if !strings.Contains(got, "(https://example.com/pasta)") {
		t.Fatalf("String() = %q, want parenthesized ref", got)
	}

	unrated := Meal{Name: "Soup"}
	if strings.Contains(unrated.String(), "⭐") {
		t.Fatalf("String() rendered stars for unrated meal: %q", unrated.String())
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	meals := []Meal{
		{Name: "Pasta Carbonara"},
		{Name: "Pizza"},
		{Name: "Ramen"},
	}

	all := Search(meals, "")
	if len(all) != len(meals) {
		t.Fatalf("Search(empty) returned %d meals, want %d", len(all), len(meals))
	}

	got := Search(meals, "carbonara")
	if len(got) != 1 || got[0].Name != "Pasta Carbonara" {
		t.Fatalf("Search(carbonara) = %+v, want Pasta Carbonara", got)
	}

	if got := Search(meals, "xyzzy"); len(got) != 0 {
		t.Fatalf("Search(xyzzy) = %+v, want empty", got)
	}
}
