package conversation

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/framefighter/ate/guard"
	"github.com/framefighter/ate/meal"
	"github.com/framefighter/ate/planner"
	"github.com/framefighter/ate/poll"
	"github.com/framefighter/ate/session"
)

// Creation dialog steps, in order. Cancellation is legal from any of
// them.
const (
	StepAwaitingName   session.Step = "awaiting-name"
	StepAwaitingRating session.Step = "awaiting-rating"
	StepAwaitingTags   session.Step = "awaiting-tags"
	StepAwaitingPhoto  session.Step = "awaiting-photo"
	StepConfirm        session.Step = "confirm"
	StepPollOpen       session.Step = "poll-open"
	StepPlanReview     session.Step = "plan-review"
)

// Button payloads.
const (
	dataSkip      = "skip"
	dataSave      = "save"
	dataOverwrite = "overwrite"
	dataCancel    = "cancel"
	dataPollStop  = "poll:stop"
	dataReroll    = "plan:reroll"
	dataPlanDone  = "plan:done"
	dataRate      = "rate:" // rate:<n>
	dataGet       = "get:"  // get:<name>
)

type Config struct {
	// SessionTTL bounds how long an idle flow survives.
	SessionTTL time.Duration
	// PollDuration is how long a rating poll stays open.
	PollDuration time.Duration
	// PollQuorum closes a poll early once this many voters voted.
	// Zero disables quorum closing.
	PollQuorum int
	// DefaultPlanSize is used when /plan is called without a count.
	DefaultPlanSize int
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = session.DefaultTTL
	}
	if c.PollDuration <= 0 {
		c.PollDuration = 60 * time.Second
	}
	if c.DefaultPlanSize <= 0 {
		c.DefaultPlanSize = 1
	}
	return c
}

const stripeCount = 32

// Engine is the single entry point the transport feeds events into.
// Events for the same chat are processed strictly in arrival order;
// different chats interleave freely.
type Engine struct {
	cfg      Config
	store    meal.Store
	guard    *guard.Guard
	sessions *session.Registry
	polls    *poll.Aggregator
	planner  *planner.Planner
	log      *slog.Logger

	stripes [stripeCount]sync.Mutex

	mu       sync.Mutex
	dispatch func([]Action)
}

func NewEngine(store meal.Store, g *guard.Guard, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:      cfg,
		store:    store,
		guard:    g,
		sessions: session.NewRegistry(cfg.SessionTTL),
		polls:    poll.New(cfg.PollQuorum),
		planner:  planner.New(),
		log:      log,
	}
	e.polls.SetExpiryHandler(e.pollExpired)
	return e
}

// SetDispatch installs the callback that delivers timer-driven actions
// (poll auto-closes) to the transport.
func (e *Engine) SetDispatch(fn func([]Action)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatch = fn
}

func (e *Engine) stripe(chatID int64) *sync.Mutex {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(chatID >> (8 * i))
	}
	h.Write(buf[:])
	return &e.stripes[h.Sum32()%stripeCount]
}

// Handle processes one inbound event and returns the outbound actions
// it produced, in order.
func (e *Engine) Handle(ctx context.Context, ev Event) []Action {
	mu := e.stripe(ev.ChatID)
	mu.Lock()
	defer mu.Unlock()

	switch ev.Kind {
	case EventCommand:
		return e.handleCommand(ctx, ev)
	case EventButton:
		return e.handleButton(ctx, ev)
	case EventText, EventPhoto:
		return e.handleFlowInput(ctx, ev)
	case EventPollVote:
		return e.handlePollVote(ctx, ev)
	default:
		e.log.Warn("dropping event of unknown kind", "kind", ev.Kind, "chat", ev.ChatID)
		return nil
	}
}

// MessageSent reports a sent tracked message back to the engine. The
// returned actions delete whatever message previously held the role.
func (e *Engine) MessageSent(scope session.Scope, role session.Role, ref session.MessageRef) []Action {
	mu := e.stripe(scope.ChatID())
	mu.Lock()
	defer mu.Unlock()

	s, expired, ok := e.sessions.Get(scope)
	out := deleteTracked(expired)
	if !ok {
		return out
	}
	if prev, had := s.Messages.Supersede(ref, role); had {
		out = append(out, DeleteMessage{Ref: prev, BestEffort: role == session.RoleEcho})
	}
	return out
}

// PollMessageSent binds the chat message carrying a native poll to its
// poll state so the poll can be stopped later.
func (e *Engine) PollMessageSent(pollID string, ref session.MessageRef) {
	e.polls.SetMessage(pollID, ref)
}

// handleFlowInput routes free-form text and photos to the flow that
// expects them; input nobody waits for is dropped.
func (e *Engine) handleFlowInput(ctx context.Context, ev Event) []Action {
	userScope := session.UserScope(ev.ChatID, ev.UserID)
	if s, expired, ok := e.sessions.Get(userScope); ok {
		if s.Kind == session.KindCreateMeal {
			return e.advanceCreation(ctx, ev, userScope, s)
		}
	} else if len(expired) > 0 {
		return deleteTracked(expired)
	}
	return nil
}

func (e *Engine) handlePollVote(ctx context.Context, ev Event) []Action {
	recorded, quorum := e.polls.RecordVote(ev.PollID, ev.VoterID, ev.Vote)
	if !recorded {
		return nil
	}
	if quorum {
		return e.finishPoll(ctx, ev.PollID, false)
	}
	return nil
}

// pollExpired runs on the timer goroutine when a poll hits its
// deadline. It re-enters the engine through the owning chat's stripe
// and pushes the resulting actions through the dispatch callback.
func (e *Engine) pollExpired(pollID string) {
	p, ok := e.polls.Get(pollID)
	if !ok {
		return
	}
	mu := e.stripe(p.Scope.ChatID())
	mu.Lock()
	actions := e.finishPoll(context.Background(), pollID, false)
	mu.Unlock()

	e.mu.Lock()
	fn := e.dispatch
	e.mu.Unlock()
	if fn != nil && len(actions) > 0 {
		fn(actions)
	}
}

func deleteTracked(tracked []session.Tracked) []Action {
	var out []Action
	for _, t := range tracked {
		out = append(out, DeleteMessage{Ref: t.Ref, BestEffort: t.Role == session.RoleEcho})
	}
	return out
}

func prompt(chatID int64, scope session.Scope, text string, buttons [][]Button) SendPrompt {
	role := session.RolePrompt
	if len(buttons) > 0 {
		role = session.RoleKeyboard
	}
	return SendPrompt{
		ChatID:  chatID,
		Text:    text,
		Buttons: buttons,
		Scope:   scope,
		Role:    role,
	}
}

// notice is an untracked one-off message.
func notice(chatID int64, text string) SendPrompt {
	return SendPrompt{ChatID: chatID, Text: text}
}

func starRow() [][]Button {
	row := make([]Button, 0, meal.MaxRating)
	for i := 1; i <= meal.MaxRating; i++ {
		row = append(row, Button{Label: strings.Repeat("⭐", i), Data: dataRate + strconv.Itoa(i)})
	}
	return [][]Button{row}
}
