package session

// Role classifies a tracked outbound message. At most one live message
// exists per role per session, which is what keeps multi-step flows from
// littering the chat with stale prompts.
type Role string

const (
	// RolePrompt is the bot's current question or status message.
	RolePrompt Role = "prompt"
	// RoleKeyboard is a message carrying an inline keyboard.
	RoleKeyboard Role = "keyboard"
	// RoleEcho is the user's own command message, deleted best-effort in
	// group chats.
	RoleEcho Role = "echo"
)

// MessageRef names one message in one chat.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// Tracked pairs a message with its role.
type Tracked struct {
	Ref  MessageRef `json:"ref"`
	Role Role       `json:"role"`
}

// Tracker records which outbound messages belong to a session so they
// can be superseded or cleaned up instead of accumulating.
type Tracker struct {
	live map[Role]MessageRef
}

func NewTracker() *Tracker {
	return &Tracker{live: make(map[Role]MessageRef)}
}

// Track records ref as the live message for role. Any previous holder is
// silently replaced; callers that need the old message deleted should use
// Supersede.
func (t *Tracker) Track(ref MessageRef, role Role) {
	t.live[role] = ref
}

// Supersede replaces the live message for role and returns the previous
// one, if any, so the caller can delete or edit it.
func (t *Tracker) Supersede(ref MessageRef, role Role) (MessageRef, bool) {
	prev, ok := t.live[role]
	t.live[role] = ref
	if ok && prev == ref {
		return MessageRef{}, false
	}
	return prev, ok
}

// Live returns the current message for role.
func (t *Tracker) Live(role Role) (MessageRef, bool) {
	ref, ok := t.live[role]
	return ref, ok
}

// Drain removes and returns every tracked message. Called on session
// end so the owning flow can emit deletes.
func (t *Tracker) Drain() []Tracked {
	out := make([]Tracked, 0, len(t.live))
	for _, role := range []Role{RolePrompt, RoleKeyboard, RoleEcho} {
		if ref, ok := t.live[role]; ok {
			out = append(out, Tracked{Ref: ref, Role: role})
		}
	}
	t.live = make(map[Role]MessageRef)
	return out
}
