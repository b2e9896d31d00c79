// Package conversation is the orchestration core: it turns inbound chat
// events into declarative outbound actions, driving the meal creation
// dialog, rating polls and planning through per-scope sessions.
package conversation

// EventKind classifies an inbound event from the transport.
type EventKind string

const (
	EventCommand  EventKind = "command"
	EventText     EventKind = "text"
	EventButton   EventKind = "button"
	EventPollVote EventKind = "pollvote"
	EventPhoto    EventKind = "photo"
)

// Event is one inbound chat event, already decoded by the transport.
// Only the fields matching Kind are set.
type Event struct {
	Kind      EventKind
	ChatID    int64
	UserID    int64
	MessageID int
	// Group is set for group and supergroup chats, where command echoes
	// get deleted and mutating commands consult the operator guard.
	Group bool

	// Kind == EventCommand
	Command string
	Args    string

	// Kind == EventText
	Text string

	// Kind == EventButton
	ButtonData string
	CallbackID string

	// Kind == EventPollVote
	PollID  string
	VoterID int64
	Vote    int

	// Kind == EventPhoto
	PhotoID string
}
