package conversation

import "github.com/framefighter/ate/session"

// Action is one declarative outbound instruction for the transport.
// The closed set below is everything the core ever asks for.
type Action interface {
	isAction()
}

// Button is one inline keyboard button.
type Button struct {
	Label string
	Data  string
}

// Row builds a single keyboard row.
func Row(buttons ...Button) [][]Button {
	return [][]Button{buttons}
}

// SendPrompt sends a new message. When Scope and Role are set the
// transport must report the sent message back through Engine.MessageSent
// so stale prompts with the same role get cleaned up.
type SendPrompt struct {
	ChatID  int64
	Text    string
	Buttons [][]Button
	Scope   session.Scope
	Role    session.Role
}

// EditMessage replaces the text (and keyboard) of an existing message.
type EditMessage struct {
	Ref     session.MessageRef
	Text    string
	Buttons [][]Button
}

// DeleteMessage removes a message. BestEffort deletes may fail (for
// example on missing permissions) without aborting anything.
type DeleteMessage struct {
	Ref        session.MessageRef
	BestEffort bool
}

// SendPhoto sends a stored photo with a caption.
type SendPhoto struct {
	ChatID  int64
	PhotoID string
	Caption string
}

// OpenPoll asks the transport to post a native poll. The transport
// reports the posted message back through Engine.PollMessageSent.
type OpenPoll struct {
	ChatID   int64
	PollID   string
	Question string
	Options  []string
}

// ClosePoll stops the native poll carried by Ref.
type ClosePoll struct {
	Ref    session.MessageRef
	PollID string
}

// AnswerButton acknowledges a callback query, optionally with a toast.
type AnswerButton struct {
	CallbackID string
	Text       string
}

func (SendPrompt) isAction()    {}
func (EditMessage) isAction()   {}
func (DeleteMessage) isAction() {}
func (SendPhoto) isAction()     {}
func (OpenPoll) isAction()      {}
func (ClosePoll) isAction()     {}
func (AnswerButton) isAction()  {}
