package conversation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/framefighter/ate/meal"
	"github.com/framefighter/ate/planner"
	"github.com/framefighter/ate/poll"
	"github.com/framefighter/ate/session"
)

// advanceCreation feeds one text or photo event into the creation
// dialog. Input that does not fit the current step re-prompts without
// moving; the superseded prompt is deleted once the new one is sent.
func (e *Engine) advanceCreation(ctx context.Context, ev Event, scope session.Scope, s *session.Session) []Action {
	switch s.Step {
	case StepAwaitingName:
		if ev.Kind != EventText || strings.TrimSpace(ev.Text) == "" {
			return []Action{prompt(ev.ChatID, scope, "I need a name first. What is the meal called?", nil)}
		}
		name := strings.TrimSpace(ev.Text)
		e.sessions.Advance(scope, StepAwaitingRating, func(s *session.Session) {
			s.Draft.Name = name
		})
		return []Action{prompt(ev.ChatID, scope,
			fmt.Sprintf("How would you rate %s?", strings.ToUpper(name)), starRow())}

	case StepAwaitingRating:
		if ev.Kind != EventText {
			return []Action{prompt(ev.ChatID, scope, "Pick a rating first.", starRow())}
		}
		rating, err := parseRating(ev.Text)
		if err != nil {
			return []Action{prompt(ev.ChatID, scope, userMessage(err), starRow())}
		}
		return e.setRating(ev, scope, rating)

	case StepAwaitingTags:
		if ev.Kind != EventText {
			return []Action{prompt(ev.ChatID, scope,
				"Send tags separated by spaces, or skip.", Row(Button{Label: "Skip", Data: dataSkip}))}
		}
		var tags []string
		if !skipRequested(ev.Text) {
			tags = strings.Fields(ev.Text)
		}
		e.sessions.Advance(scope, StepAwaitingPhoto, func(s *session.Session) {
			s.Draft.Tags = tags
		})
		return []Action{prompt(ev.ChatID, scope,
			"Got it. Send a photo of the meal, or skip.", Row(Button{Label: "Skip", Data: dataSkip}))}

	case StepAwaitingPhoto:
		if ev.Kind == EventPhoto && ev.PhotoID != "" {
			s, _ := e.sessions.Advance(scope, StepConfirm, func(s *session.Session) {
				s.Draft.PhotoID = ev.PhotoID
			})
			return []Action{e.confirmPrompt(ev.ChatID, scope, s.Draft)}
		}
		if ev.Kind == EventText && skipRequested(ev.Text) {
			s, _ := e.sessions.Advance(scope, StepConfirm, nil)
			return []Action{e.confirmPrompt(ev.ChatID, scope, s.Draft)}
		}
		return []Action{prompt(ev.ChatID, scope,
			"Send a photo of the meal, or skip.", Row(Button{Label: "Skip", Data: dataSkip}))}

	case StepConfirm:
		return []Action{e.confirmPrompt(ev.ChatID, scope, s.Draft)}
	}
	return nil
}

func (e *Engine) confirmPrompt(chatID int64, scope session.Scope, draft *meal.Meal) Action {
	return prompt(chatID, scope, "Save this meal?\n\n"+draft.String(),
		Row(Button{Label: "Save", Data: dataSave}, Button{Label: "Cancel", Data: dataCancel}))
}

func (e *Engine) setRating(ev Event, scope session.Scope, rating int) []Action {
	e.sessions.Advance(scope, StepAwaitingTags, func(s *session.Session) {
		s.Draft.Rating = rating
	})
	return []Action{prompt(ev.ChatID, scope,
		"Send tags separated by spaces, or skip.", Row(Button{Label: "Skip", Data: dataSkip}))}
}

// handleButton routes inline keyboard presses. Every press gets a
// callback ack even when the press no longer applies.
func (e *Engine) handleButton(ctx context.Context, ev Event) []Action {
	ack := AnswerButton{CallbackID: ev.CallbackID}
	out := []Action{ack}

	if name, ok := strings.CutPrefix(ev.ButtonData, dataGet); ok {
		return append(out, e.showMeal(ctx, ev.ChatID, name)...)
	}
	if ev.ButtonData == dataPollStop {
		return append(out, e.stopPoll(ctx, ev)...)
	}
	if ev.ButtonData == dataReroll || ev.ButtonData == dataPlanDone {
		return append(out, e.handlePlanButton(ctx, ev)...)
	}

	scope := session.UserScope(ev.ChatID, ev.UserID)
	s, expired, ok := e.sessions.Get(scope)
	if !ok {
		out = append(out, deleteTracked(expired)...)
		if ev.ButtonData == dataCancel {
			return out
		}
		return append(out, notice(ev.ChatID, "That flow is over. Start again with /new."))
	}

	switch {
	case ev.ButtonData == dataCancel:
		out = append(out, deleteTracked(e.sessions.End(scope))...)
		return append(out, notice(ev.ChatID, "Canceled."))

	case strings.HasPrefix(ev.ButtonData, dataRate):
		if s.Step != StepAwaitingRating {
			return out
		}
		rating, err := strconv.Atoi(strings.TrimPrefix(ev.ButtonData, dataRate))
		if err != nil || rating < 1 || rating > meal.MaxRating {
			return out
		}
		return append(out, e.setRating(ev, scope, rating)...)

	case ev.ButtonData == dataSkip:
		switch s.Step {
		case StepAwaitingTags:
			e.sessions.Advance(scope, StepAwaitingPhoto, nil)
			return append(out, prompt(ev.ChatID, scope,
				"Got it. Send a photo of the meal, or skip.", Row(Button{Label: "Skip", Data: dataSkip})))
		case StepAwaitingPhoto:
			s, _ := e.sessions.Advance(scope, StepConfirm, nil)
			return append(out, e.confirmPrompt(ev.ChatID, scope, s.Draft))
		}
		return out

	case ev.ButtonData == dataSave:
		if s.Step != StepConfirm {
			return out
		}
		return append(out, e.saveDraft(ctx, ev, scope, s, false)...)

	case ev.ButtonData == dataOverwrite:
		if s.Step != StepConfirm {
			return out
		}
		return append(out, e.saveDraft(ctx, ev, scope, s, true)...)
	}
	return out
}

// saveDraft validates and persists the dialog draft. A name collision
// without the overwrite flag keeps the session alive and asks.
func (e *Engine) saveDraft(ctx context.Context, ev Event, scope session.Scope, s *session.Session, overwrite bool) []Action {
	draft := *s.Draft
	if err := draft.Validate(); err != nil {
		e.sessions.Advance(scope, StepAwaitingName, func(s *session.Session) {
			s.Draft = &meal.Meal{}
		})
		return []Action{prompt(ev.ChatID, scope, "That draft is not valid. What is the meal called?", nil)}
	}
	if !overwrite {
		_, err := e.store.Get(ctx, draft.Name)
		switch {
		case err == nil:
			return []Action{prompt(ev.ChatID, scope,
				fmt.Sprintf("%s already exists. Overwrite it?", strings.ToUpper(draft.Name)),
				Row(Button{Label: "Overwrite", Data: dataOverwrite}, Button{Label: "Cancel", Data: dataCancel}))}
		case !errors.Is(err, meal.ErrNotFound):
			e.log.Error("duplicate check failed", "meal", draft.Key(), "error", err)
			return []Action{prompt(ev.ChatID, scope, "Saving failed, try again or cancel.",
				Row(Button{Label: "Save", Data: dataSave}, Button{Label: "Cancel", Data: dataCancel}))}
		}
	}
	if err := e.persist(ctx, &draft); err != nil {
		e.log.Error("persisting meal failed", "meal", draft.Key(), "error", err)
		return []Action{prompt(ev.ChatID, scope, "Saving failed, try again or cancel.",
			Row(Button{Label: "Save", Data: dataSave}, Button{Label: "Cancel", Data: dataCancel}))}
	}
	out := deleteTracked(e.sessions.End(scope))
	return append(out, notice(ev.ChatID, "Saved!\n\n"+draft.String()))
}

// cmdRate opens a group rating poll for an existing meal.
func (e *Engine) cmdRate(ctx context.Context, ev Event) []Action {
	name := strings.TrimSpace(ev.Args)
	if name == "" {
		return []Action{notice(ev.ChatID, "Which meal? /rate <name>")}
	}
	m, err := e.store.Get(ctx, name)
	if errors.Is(err, meal.ErrNotFound) {
		return []Action{notice(ev.ChatID, fmt.Sprintf("I don't know %q.", name))}
	}
	if err != nil {
		e.log.Error("reading meal failed", "meal", name, "error", err)
		return []Action{notice(ev.ChatID, "Could not read that meal.")}
	}

	scope := session.ChatScope(ev.ChatID)
	if _, ok := e.polls.FindByScope(scope); ok {
		return []Action{notice(ev.ChatID, "A rating poll is already open here. /cancel it first.")}
	}

	s, replaced := e.beginChatFlow(scope, session.KindRatingPoll)
	p := e.polls.Open(m.Name, scope, s.ID, e.cfg.PollDuration)
	e.sessions.Advance(scope, StepPollOpen, func(s *session.Session) {
		s.PollID = p.ID
	})
	e.log.Info("rating poll opened", "meal", m.Key(), "poll", p.ID, "chat", ev.ChatID)

	options := make([]string, 0, meal.MaxRating)
	for i := 1; i <= meal.MaxRating; i++ {
		options = append(options, strings.Repeat("⭐", i))
	}
	out := append(replaced, OpenPoll{
		ChatID:   ev.ChatID,
		PollID:   p.ID,
		Question: fmt.Sprintf("How was %s?", strings.ToUpper(m.Name)),
		Options:  options,
	})
	return append(out, prompt(ev.ChatID, scope, "Vote above. I will close the poll myself.",
		Row(Button{Label: "Close now", Data: dataPollStop})))
}

// beginChatFlow replaces the chat-scope session. An open rating poll
// owned by the replaced session is canceled first so its timer cannot
// mutate the meal after the flow ended.
func (e *Engine) beginChatFlow(scope session.Scope, kind session.Kind) (*session.Session, []Action) {
	var out []Action
	if p, ok := e.polls.FindByScope(scope); ok {
		if res, canceled := e.polls.Cancel(p.ID); canceled && res.Poll.Message != (session.MessageRef{}) {
			out = append(out, ClosePoll{Ref: res.Poll.Message, PollID: p.ID})
		}
	}
	s, stale := e.sessions.Begin(scope, kind)
	return s, append(out, deleteTracked(stale)...)
}

func (e *Engine) stopPoll(ctx context.Context, ev Event) []Action {
	p, ok := e.polls.FindByScope(session.ChatScope(ev.ChatID))
	if !ok {
		return nil
	}
	return e.finishPoll(ctx, p.ID, false)
}

// finishPoll closes (or cancels) a poll, applies the resulting rating
// and tears down the owning session. Safe to call for polls that
// already finished.
func (e *Engine) finishPoll(ctx context.Context, pollID string, canceled bool) []Action {
	var (
		res poll.Outcome
		ok  bool
	)
	if canceled {
		res, ok = e.polls.Cancel(pollID)
	} else {
		res, ok = e.polls.Close(pollID)
	}
	if !ok {
		return nil
	}

	var actions []Action
	if res.Poll.Message != (session.MessageRef{}) {
		actions = append(actions, ClosePoll{Ref: res.Poll.Message, PollID: pollID})
	}
	// Only tear down the session that opened this poll; the scope may
	// already be running a newer flow.
	if s, _, ok := e.sessions.Get(res.Poll.Scope); ok && s.ID == res.Poll.SessionID {
		actions = append(actions, deleteTracked(e.sessions.End(res.Poll.Scope))...)
	}
	chatID := res.Poll.Scope.ChatID()

	if res.Canceled {
		return actions
	}

	rating := res.Rating
	m, err := e.store.Get(ctx, res.Poll.MealName)
	if err != nil {
		e.log.Error("poll target vanished", "meal", res.Poll.MealName, "error", err)
		return append(actions, notice(chatID, fmt.Sprintf("Could not rate %q anymore.", res.Poll.MealName)))
	}
	// A meal that already had a rating keeps half of it.
	if m.Rating > 0 {
		rating = int(math.Round((float64(res.Rating) + float64(m.Rating)) / 2))
	}
	m.Rating = rating
	if err := e.persist(ctx, &m); err != nil {
		e.log.Error("applying poll rating failed", "meal", m.Key(), "error", err)
		return append(actions, notice(chatID, "Saving the rating failed."))
	}
	e.log.Info("rating poll closed", "meal", m.Key(), "votes", res.Votes, "rating", rating)
	return append(actions, notice(chatID,
		fmt.Sprintf("%s is now rated %s (%d votes).", strings.ToUpper(m.Name), strings.Repeat("⭐", rating), res.Votes)))
}

// cmdPlan draws a rating-weighted selection and parks it in a planning
// session so the keyboard can reroll it.
func (e *Engine) cmdPlan(ctx context.Context, ev Event) []Action {
	count := e.cfg.DefaultPlanSize
	if args := strings.TrimSpace(ev.Args); args != "" {
		n, err := strconv.Atoi(args)
		if err != nil {
			return []Action{notice(ev.ChatID, "Usage: /plan [number of meals]")}
		}
		count = n
	}

	meals, err := e.store.List(ctx)
	if err != nil {
		e.log.Error("listing meals failed", "error", err)
		return []Action{notice(ev.ChatID, "Could not read the meal list.")}
	}
	res, err := e.planner.Plan(meals, count)
	if errors.Is(err, planner.ErrInvalidCount) {
		return []Action{notice(ev.ChatID, "I can only plan one or more meals.")}
	}
	if res.Empty {
		return []Action{notice(ev.ChatID, "No meals to plan yet. Add some with /new.")}
	}

	scope := session.ChatScope(ev.ChatID)
	s, replaced := e.beginChatFlow(scope, session.KindPlanning)
	s.Step = StepPlanReview
	s.PlanNames = res.Names()
	s.PlanCount = res.Count

	return append(replaced, prompt(ev.ChatID, scope, renderPlan(res), planButtons()))
}

func (e *Engine) handlePlanButton(ctx context.Context, ev Event) []Action {
	scope := session.ChatScope(ev.ChatID)
	s, expired, ok := e.sessions.Get(scope)
	if !ok || s.Kind != session.KindPlanning {
		return deleteTracked(expired)
	}

	switch ev.ButtonData {
	case dataReroll:
		meals, err := e.store.List(ctx)
		if err != nil {
			e.log.Error("listing meals failed", "error", err)
			return []Action{notice(ev.ChatID, "Could not read the meal list.")}
		}
		prev := previousResult(meals, s.PlanNames, s.PlanCount)
		res, err := e.planner.Reroll(meals, prev)
		if err != nil || res.Empty {
			return []Action{notice(ev.ChatID, "No meals to plan anymore.")}
		}
		e.sessions.Advance(scope, StepPlanReview, func(s *session.Session) {
			s.PlanNames = res.Names()
			s.PlanCount = res.Count
		})
		if ref, live := s.Messages.Live(session.RoleKeyboard); live {
			return []Action{EditMessage{Ref: ref, Text: renderPlan(res), Buttons: planButtons()}}
		}
		return []Action{prompt(ev.ChatID, scope, renderPlan(res), planButtons())}

	case dataPlanDone:
		names := s.PlanNames
		keyboard, hadKeyboard := s.Messages.Live(session.RoleKeyboard)
		var out []Action
		for _, t := range e.sessions.End(scope) {
			if hadKeyboard && t.Ref == keyboard {
				continue
			}
			out = append(out, DeleteMessage{Ref: t.Ref, BestEffort: t.Role == session.RoleEcho})
		}
		text := "Enjoy!\n\n" + numberedList(names)
		if hadKeyboard {
			return append(out, EditMessage{Ref: keyboard, Text: text})
		}
		return append(out, notice(ev.ChatID, text))
	}
	return nil
}

func planButtons() [][]Button {
	return Row(
		Button{Label: "Reroll", Data: dataReroll},
		Button{Label: "Sounds good", Data: dataPlanDone},
	)
}

func renderPlan(res planner.Result) string {
	var b strings.Builder
	b.WriteString("Here is the plan:\n\n")
	b.WriteString(numberedList(res.Names()))
	if res.Truncated {
		fmt.Fprintf(&b, "\n\nOnly %d meals exist, so that is all of them.", len(res.Selection))
	}
	return b.String()
}

func numberedList(names []string) string {
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, strings.ToUpper(name))
	}
	return b.String()
}

// previousResult rebuilds the planner result held in the session so a
// reroll can exclude it.
func previousResult(meals []meal.Meal, names []string, count int) planner.Result {
	byKey := make(map[string]meal.Meal, len(meals))
	for _, m := range meals {
		byKey[m.Key()] = m
	}
	sel := make([]meal.Meal, 0, len(names))
	for _, name := range names {
		if m, ok := byKey[meal.NormalizeName(name)]; ok {
			sel = append(sel, m)
		} else {
			sel = append(sel, meal.Meal{Name: name})
		}
	}
	return planner.Result{Selection: sel, Count: count}
}
