package session

import "testing"

func TestBuildScopes(t *testing.T) {
	if got := ChatScope(-1001); got != Scope("tg:-1001") {
		t.Fatalf("ChatScope() = %q", got)
	}
	if got := UserScope(-1001, 42); got != Scope("tg:-1001:42") {
		t.Fatalf("UserScope() = %q", got)
	}
	if got := UserScope(-1001, 42).ChatID(); got != -1001 {
		t.Fatalf("ChatID() = %d, want -1001", got)
	}
}

func TestParseScope(t *testing.T) {
	if _, err := ParseScope("tg:-1001:42"); err != nil {
		t.Fatalf("ParseScope() error = %v", err)
	}

	cases := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: "  "},
		{name: "contains space", raw: "tg:1 2"},
		{name: "wrong prefix", raw: "slack:1"},
		{name: "non-numeric part", raw: "tg:abc"},
		{name: "too many parts", raw: "tg:1:2:3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseScope(tc.raw); err == nil {
				t.Fatalf("ParseScope(%q) expected error", tc.raw)
			}
		})
	}
}
