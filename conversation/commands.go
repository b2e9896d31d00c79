package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/framefighter/ate/meal"
	"github.com/framefighter/ate/session"
)

const helpText = `I keep track of what you eat and pick what to eat next.

/new <name>[, rating][, tags][, refs] - save a meal in one go
/new - start the step-by-step meal dialog
/list [query] - browse saved meals
/get <name> - show one meal
/remove <name> - delete a meal
/rate <name> - open a group rating poll
/plan [n] - pick n meals, rating-weighted
/cancel - abort the current flow
/op <user id> - add an operator`

// mutating lists the commands gated by the operator guard in groups.
var mutating = map[string]bool{
	"new":    true,
	"remove": true,
	"rate":   true,
	"op":     true,
}

func (e *Engine) handleCommand(ctx context.Context, ev Event) []Action {
	var out []Action
	if ev.Group && ev.MessageID != 0 {
		out = append(out, DeleteMessage{
			Ref:        session.MessageRef{ChatID: ev.ChatID, MessageID: ev.MessageID},
			BestEffort: true,
		})
	}

	cmd := strings.ToLower(strings.TrimPrefix(ev.Command, "/"))
	if ev.Group && mutating[cmd] && !e.guard.Allowed(ev.UserID) {
		e.log.Info("command blocked", "command", cmd, "user", ev.UserID, "chat", ev.ChatID)
		return append(out, notice(ev.ChatID, "You are not allowed to do that here."))
	}

	switch cmd {
	case "help", "start":
		return append(out, notice(ev.ChatID, helpText))
	case "new", "newmeal":
		return append(out, e.cmdNew(ctx, ev)...)
	case "list":
		return append(out, e.cmdList(ctx, ev)...)
	case "get":
		return append(out, e.cmdGet(ctx, ev)...)
	case "remove":
		return append(out, e.cmdRemove(ctx, ev)...)
	case "plan":
		return append(out, e.cmdPlan(ctx, ev)...)
	case "rate":
		return append(out, e.cmdRate(ctx, ev)...)
	case "cancel":
		return append(out, e.cmdCancel(ctx, ev)...)
	case "op":
		return append(out, e.cmdOp(ev)...)
	default:
		return append(out, notice(ev.ChatID, fmt.Sprintf("Unknown command /%s. Try /help.", cmd)))
	}
}

// cmdNew either persists a complete single-shot line or starts the
// step dialog, pre-seeded with whatever the line already carried.
func (e *Engine) cmdNew(ctx context.Context, ev Event) []Action {
	scope := session.UserScope(ev.ChatID, ev.UserID)

	if strings.TrimSpace(ev.Args) == "" {
		s, stale := e.sessions.Begin(scope, session.KindCreateMeal)
		s.Step = StepAwaitingName
		s.Draft = &meal.Meal{}
		out := deleteTracked(stale)
		return append(out, prompt(ev.ChatID, scope, "What is the meal called?", nil))
	}

	parsed, err := ParseNew(ev.Args)
	if err != nil {
		return []Action{notice(ev.ChatID, userMessage(err))}
	}
	if parsed.HasRating {
		m := parsed.Draft
		if err := e.persist(ctx, &m); err != nil {
			e.log.Error("persisting meal failed", "meal", m.Key(), "error", err)
			return []Action{notice(ev.ChatID, "Saving the meal failed, try again.")}
		}
		return []Action{notice(ev.ChatID, "Saved!\n\n"+m.String())}
	}

	// Name only: continue in the dialog, asking for the rating first.
	s, stale := e.sessions.Begin(scope, session.KindCreateMeal)
	s.Step = StepAwaitingRating
	draft := parsed.Draft
	s.Draft = &draft
	out := deleteTracked(stale)
	return append(out, prompt(ev.ChatID, scope,
		fmt.Sprintf("How would you rate %s?", strings.ToUpper(draft.Name)), starRow()))
}

func (e *Engine) cmdList(ctx context.Context, ev Event) []Action {
	meals, err := e.store.List(ctx)
	if err != nil {
		e.log.Error("listing meals failed", "error", err)
		return []Action{notice(ev.ChatID, "Could not read the meal list.")}
	}
	meals = meal.Search(meals, ev.Args)
	if len(meals) == 0 {
		return []Action{notice(ev.ChatID, "No meals found. Add one with /new.")}
	}

	buttons := make([][]Button, 0, len(meals))
	for _, m := range meals {
		label := m.Name
		if m.Rating > 0 {
			label = fmt.Sprintf("%s %s", m.Name, strings.Repeat("⭐", m.Rating))
		}
		buttons = append(buttons, []Button{{Label: label, Data: dataGet + m.Key()}})
	}
	scope := session.UserScope(ev.ChatID, ev.UserID)
	return []Action{prompt(ev.ChatID, scope, fmt.Sprintf("%d meals:", len(meals)), buttons)}
}

func (e *Engine) cmdGet(ctx context.Context, ev Event) []Action {
	name := strings.TrimSpace(ev.Args)
	if name == "" {
		return []Action{notice(ev.ChatID, "Which meal? /get <name>")}
	}
	return e.showMeal(ctx, ev.ChatID, name)
}

func (e *Engine) showMeal(ctx context.Context, chatID int64, name string) []Action {
	m, err := e.store.Get(ctx, name)
	if errors.Is(err, meal.ErrNotFound) {
		return []Action{notice(chatID, fmt.Sprintf("I don't know %q.", name))}
	}
	if err != nil {
		e.log.Error("reading meal failed", "meal", name, "error", err)
		return []Action{notice(chatID, "Could not read that meal.")}
	}
	if m.PhotoID != "" {
		return []Action{SendPhoto{ChatID: chatID, PhotoID: m.PhotoID, Caption: m.String()}}
	}
	return []Action{notice(chatID, m.String())}
}

func (e *Engine) cmdRemove(ctx context.Context, ev Event) []Action {
	name := strings.TrimSpace(ev.Args)
	if name == "" {
		return []Action{notice(ev.ChatID, "Which meal? /remove <name>")}
	}
	err := e.store.Delete(ctx, name)
	if errors.Is(err, meal.ErrNotFound) {
		return []Action{notice(ev.ChatID, fmt.Sprintf("I don't know %q.", name))}
	}
	if err != nil {
		e.log.Error("deleting meal failed", "meal", name, "error", err)
		return []Action{notice(ev.ChatID, "Deleting failed, try again.")}
	}
	return []Action{notice(ev.ChatID, fmt.Sprintf("Removed %s.", strings.ToUpper(name)))}
}

func (e *Engine) cmdCancel(ctx context.Context, ev Event) []Action {
	userScope := session.UserScope(ev.ChatID, ev.UserID)
	if _, _, ok := e.sessions.Get(userScope); ok {
		out := deleteTracked(e.sessions.End(userScope))
		return append(out, notice(ev.ChatID, "Canceled."))
	}

	chatScope := session.ChatScope(ev.ChatID)
	if p, ok := e.polls.FindByScope(chatScope); ok {
		return append(e.finishPoll(ctx, p.ID, true), notice(ev.ChatID, "Poll canceled."))
	}
	if _, _, ok := e.sessions.Get(chatScope); ok {
		out := deleteTracked(e.sessions.End(chatScope))
		return append(out, notice(ev.ChatID, "Canceled."))
	}
	return []Action{notice(ev.ChatID, "Nothing to cancel.")}
}

// cmdOp grows the operator whitelist at runtime. On a closed guard only
// existing operators may add more; on an open guard the first /op
// claims the bot.
func (e *Engine) cmdOp(ev Event) []Action {
	if !e.guard.Open() && !e.guard.Allowed(ev.UserID) {
		return []Action{notice(ev.ChatID, "Only an operator can add operators.")}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(ev.Args), 10, 64)
	if err != nil {
		return []Action{notice(ev.ChatID, "Usage: /op <user id>")}
	}
	if e.guard.Open() {
		e.guard.Grant(ev.UserID)
	}
	e.guard.Grant(id)
	e.log.Info("operator added", "user", id, "by", ev.UserID)
	return []Action{notice(ev.ChatID, fmt.Sprintf("User %d is now an operator.", id))}
}

// persist writes a meal through the store, keeping the original
// creation time on overwrite.
func (e *Engine) persist(ctx context.Context, m *meal.Meal) error {
	if err := m.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if existing, err := e.store.Get(ctx, m.Name); err == nil {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return e.store.Put(ctx, *m)
}

// userMessage strips the sentinel prefix off a bad-input error so the
// remainder reads as a chat reply.
func userMessage(err error) string {
	msg := err.Error()
	if cut, ok := strings.CutPrefix(msg, ErrBadInput.Error()+": "); ok {
		return strings.ToUpper(cut[:1]) + cut[1:]
	}
	return msg
}
