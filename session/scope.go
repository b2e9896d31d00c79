package session

import (
	"fmt"
	"strconv"
	"strings"
)

// Scope identifies the conversation a session belongs to: a chat for
// group flows, or a chat plus user for personal flows. Sessions for
// different scopes never interact.
type Scope string

// ChatScope builds a scope covering a whole chat.
func ChatScope(chatID int64) Scope {
	return Scope("tg:" + strconv.FormatInt(chatID, 10))
}

// UserScope builds a scope for one user inside one chat.
func UserScope(chatID, userID int64) Scope {
	return Scope(fmt.Sprintf("tg:%d:%d", chatID, userID))
}

// ParseScope validates an externally supplied scope key.
func ParseScope(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("scope key is required")
	}
	if strings.Contains(raw, " ") {
		return "", fmt.Errorf("scope key must not contain spaces")
	}
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] != "tg" {
		return "", fmt.Errorf("malformed scope key: %q", raw)
	}
	for _, part := range parts[1:] {
		if _, err := strconv.ParseInt(part, 10, 64); err != nil {
			return "", fmt.Errorf("malformed scope key: %q", raw)
		}
	}
	return Scope(raw), nil
}

// ChatID extracts the chat component of the scope.
func (s Scope) ChatID() int64 {
	parts := strings.Split(string(s), ":")
	if len(parts) < 2 {
		return 0
	}
	id, _ := strconv.ParseInt(parts[1], 10, 64)
	return id
}
