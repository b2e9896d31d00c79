package conversation

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/framefighter/ate/guard"
	"github.com/framefighter/ate/meal"
	"github.com/framefighter/ate/session"
)

func newTestEngine(t *testing.T, g *guard.Guard) (*Engine, *meal.MemoryStore) {
	t.Helper()
	store := meal.NewMemoryStore()
	e := NewEngine(store, g, Config{PollDuration: time.Hour}, nil)
	return e, store
}

func seed(t *testing.T, store meal.Store, meals ...meal.Meal) {
	t.Helper()
	for _, m := range meals {
		if err := store.Put(context.Background(), m); err != nil {
			t.Fatalf("seeding %q: %v", m.Name, err)
		}
	}
}

func command(chat, user int64, cmd, args string) Event {
	return Event{Kind: EventCommand, ChatID: chat, UserID: user, MessageID: 100, Command: cmd, Args: args}
}

func text(chat, user int64, body string) Event {
	return Event{Kind: EventText, ChatID: chat, UserID: user, Text: body}
}

func press(chat, user int64, data string) Event {
	return Event{Kind: EventButton, ChatID: chat, UserID: user, ButtonData: data, CallbackID: "cb"}
}

func photo(chat, user int64, id string) Event {
	return Event{Kind: EventPhoto, ChatID: chat, UserID: user, PhotoID: id}
}

func vote(chat int64, pollID string, voter int64, value int) Event {
	return Event{Kind: EventPollVote, ChatID: chat, PollID: pollID, VoterID: voter, Vote: value}
}

func firstPrompt(t *testing.T, actions []Action) SendPrompt {
	t.Helper()
	for _, a := range actions {
		if p, ok := a.(SendPrompt); ok {
			return p
		}
	}
	t.Fatalf("no SendPrompt in %#v", actions)
	return SendPrompt{}
}

func firstOpenPoll(t *testing.T, actions []Action) OpenPoll {
	t.Helper()
	for _, a := range actions {
		if p, ok := a.(OpenPoll); ok {
			return p
		}
	}
	t.Fatalf("no OpenPoll in %#v", actions)
	return OpenPoll{}
}

func TestCreationDialogEndToEnd(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()

	p := firstPrompt(t, e.Handle(ctx, command(1, 7, "/new", "")))
	if !strings.Contains(p.Text, "called") {
		t.Fatalf("name prompt = %q", p.Text)
	}

	p = firstPrompt(t, e.Handle(ctx, text(1, 7, "Pasta")))
	if len(p.Buttons) == 0 {
		t.Fatal("rating prompt has no star buttons")
	}

	e.Handle(ctx, press(1, 7, "rate:4"))
	e.Handle(ctx, text(1, 7, "italian quick"))
	e.Handle(ctx, photo(1, 7, "photo-123"))

	actions := e.Handle(ctx, press(1, 7, dataSave))
	if p := firstPrompt(t, actions); !strings.Contains(p.Text, "Saved") {
		t.Fatalf("save reply = %q", p.Text)
	}

	got, err := store.Get(ctx, "pasta")
	if err != nil {
		t.Fatalf("meal not persisted: %v", err)
	}
	if got.Rating != 4 || !reflect.DeepEqual(got.Tags, []string{"italian", "quick"}) || got.PhotoID != "photo-123" {
		t.Fatalf("persisted meal = %+v", got)
	}

	if _, _, ok := e.sessions.Get(session.UserScope(1, 7)); ok {
		t.Fatal("session still alive after save")
	}
}

func TestWrongTypedInputReprompts(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	e.Handle(ctx, command(1, 7, "/new", ""))
	e.Handle(ctx, text(1, 7, "Pasta"))

	// A photo while a rating is expected must not advance the flow.
	p := firstPrompt(t, e.Handle(ctx, photo(1, 7, "photo-1")))
	if len(p.Buttons) == 0 {
		t.Fatalf("expected the rating keyboard again, got %q", p.Text)
	}
	s, _, ok := e.sessions.Get(session.UserScope(1, 7))
	if !ok || s.Step != StepAwaitingRating {
		t.Fatalf("step = %v, want %v", s.Step, StepAwaitingRating)
	}
}

func TestSingleShotNewPersistsWithoutSession(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()

	actions := e.Handle(ctx, command(1, 7, "/new", "Pasta, 4, italian quick"))
	if p := firstPrompt(t, actions); !strings.Contains(p.Text, "Saved") {
		t.Fatalf("reply = %q", p.Text)
	}

	got, err := store.Get(ctx, "Pasta")
	if err != nil {
		t.Fatalf("meal not persisted: %v", err)
	}
	if got.Rating != 4 || !reflect.DeepEqual(got.Tags, []string{"italian", "quick"}) {
		t.Fatalf("persisted meal = %+v", got)
	}
	if _, _, ok := e.sessions.Get(session.UserScope(1, 7)); ok {
		t.Fatal("single-shot create must not leave a session")
	}
}

func TestSingleShotNewWithoutRatingSeedsDialog(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	p := firstPrompt(t, e.Handle(ctx, command(1, 7, "/new", "Pasta")))
	if len(p.Buttons) == 0 {
		t.Fatal("expected the rating keyboard")
	}
	s, _, ok := e.sessions.Get(session.UserScope(1, 7))
	if !ok || s.Step != StepAwaitingRating || s.Draft.Name != "Pasta" {
		t.Fatalf("session = %+v, %v", s, ok)
	}
}

func TestDuplicateNameNeedsOverwrite(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	seed(t, store, meal.Meal{Name: "Pasta", Rating: 2})

	e.Handle(ctx, command(1, 7, "/new", ""))
	e.Handle(ctx, text(1, 7, "Pasta"))
	e.Handle(ctx, press(1, 7, "rate:5"))
	e.Handle(ctx, press(1, 7, dataSkip))
	e.Handle(ctx, press(1, 7, dataSkip))

	p := firstPrompt(t, e.Handle(ctx, press(1, 7, dataSave)))
	if !strings.Contains(p.Text, "Overwrite") && !strings.Contains(p.Text, "already exists") {
		t.Fatalf("expected overwrite question, got %q", p.Text)
	}
	if got, _ := store.Get(ctx, "Pasta"); got.Rating != 2 {
		t.Fatalf("meal changed before overwrite confirmation: %+v", got)
	}

	e.Handle(ctx, press(1, 7, dataOverwrite))
	if got, _ := store.Get(ctx, "Pasta"); got.Rating != 5 {
		t.Fatalf("overwrite not applied: %+v", got)
	}
}

// flakyStore fails Get on demand so store errors reach the dialog.
type flakyStore struct {
	meal.Store
	getErr error
}

func (s *flakyStore) Get(ctx context.Context, name string) (meal.Meal, error) {
	if s.getErr != nil {
		return meal.Meal{}, s.getErr
	}
	return s.Store.Get(ctx, name)
}

func TestSaveKeepsDialogWhenStoreReadFails(t *testing.T) {
	store := &flakyStore{Store: meal.NewMemoryStore()}
	e := NewEngine(store, nil, Config{PollDuration: time.Hour}, nil)
	ctx := context.Background()

	e.Handle(ctx, command(1, 7, "/new", ""))
	e.Handle(ctx, text(1, 7, "Pasta"))
	e.Handle(ctx, press(1, 7, "rate:4"))
	e.Handle(ctx, press(1, 7, dataSkip))
	e.Handle(ctx, press(1, 7, dataSkip))

	store.getErr = errors.New("disk gone")
	p := firstPrompt(t, e.Handle(ctx, press(1, 7, dataSave)))
	if !strings.Contains(p.Text, "failed") {
		t.Fatalf("reply = %q, want a save failure", p.Text)
	}
	s, _, ok := e.sessions.Get(session.UserScope(1, 7))
	if !ok || s.Step != StepConfirm {
		t.Fatalf("session = %+v, %v, want step %v", s, ok, StepConfirm)
	}

	store.getErr = nil
	if _, err := store.Get(ctx, "Pasta"); !errors.Is(err, meal.ErrNotFound) {
		t.Fatalf("meal persisted despite failed duplicate check: %v", err)
	}

	// Retrying once the store recovers completes the save.
	if p := firstPrompt(t, e.Handle(ctx, press(1, 7, dataSave))); !strings.Contains(p.Text, "Saved") {
		t.Fatalf("retry reply = %q", p.Text)
	}
	if _, err := store.Get(ctx, "Pasta"); err != nil {
		t.Fatalf("meal not persisted after retry: %v", err)
	}
}

func TestGuardBlocksMutatingGroupCommands(t *testing.T) {
	g := guard.New(guard.Config{Operators: []int64{1}})
	e, store := newTestEngine(t, g)
	ctx := context.Background()
	seed(t, store, meal.Meal{Name: "Pasta"})

	ev := command(1, 99, "/remove", "Pasta")
	ev.Group = true
	actions := e.Handle(ctx, ev)

	if _, ok := actions[0].(DeleteMessage); !ok {
		t.Fatalf("group command echo not deleted: %#v", actions[0])
	}
	if p := firstPrompt(t, actions); !strings.Contains(p.Text, "not allowed") {
		t.Fatalf("reply = %q", p.Text)
	}
	if _, err := store.Get(ctx, "Pasta"); err != nil {
		t.Fatal("meal deleted despite guard")
	}

	// The operator may.
	ev.UserID = 1
	e.Handle(ctx, ev)
	if _, err := store.Get(ctx, "Pasta"); err == nil {
		t.Fatal("operator delete did not happen")
	}
}

func TestRatingPollAppliesMean(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	seed(t, store, meal.Meal{Name: "Soup"})

	open := firstOpenPoll(t, e.Handle(ctx, command(1, 7, "/rate", "Soup")))

	e.Handle(ctx, vote(1, open.PollID, 10, 4))
	e.Handle(ctx, vote(1, open.PollID, 11, 2))
	// Voter 10 changes their mind; only the second vote counts.
	e.Handle(ctx, vote(1, open.PollID, 10, 2))

	e.Handle(ctx, press(1, 7, dataPollStop))

	got, _ := store.Get(ctx, "Soup")
	if got.Rating != 2 {
		t.Fatalf("rating = %d, want 2", got.Rating)
	}

	// The poll is gone, late votes change nothing.
	e.Handle(ctx, vote(1, open.PollID, 12, 5))
	if got, _ := store.Get(ctx, "Soup"); got.Rating != 2 {
		t.Fatalf("late vote changed rating to %d", got.Rating)
	}
}

func TestRatingPollAveragesWithPriorRating(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	seed(t, store, meal.Meal{Name: "Soup", Rating: 5})

	open := firstOpenPoll(t, e.Handle(ctx, command(1, 7, "/rate", "Soup")))
	e.Handle(ctx, vote(1, open.PollID, 10, 1))
	e.Handle(ctx, press(1, 7, dataPollStop))

	got, _ := store.Get(ctx, "Soup")
	if got.Rating != 3 {
		t.Fatalf("rating = %d, want 3 (mean 1 averaged with prior 5)", got.Rating)
	}
}

func TestRatingPollNoVotesNeutral(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	seed(t, store, meal.Meal{Name: "Soup"})

	e.Handle(ctx, command(1, 7, "/rate", "Soup"))
	e.Handle(ctx, press(1, 7, dataPollStop))

	got, _ := store.Get(ctx, "Soup")
	if got.Rating != 3 {
		t.Fatalf("rating = %d, want neutral 3", got.Rating)
	}
}

func TestCancelDiscardsPoll(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	seed(t, store, meal.Meal{Name: "Soup", Rating: 1})

	open := firstOpenPoll(t, e.Handle(ctx, command(1, 7, "/rate", "Soup")))
	e.Handle(ctx, vote(1, open.PollID, 10, 5))
	e.Handle(ctx, command(1, 7, "/cancel", ""))

	if got, _ := store.Get(ctx, "Soup"); got.Rating != 1 {
		t.Fatalf("canceled poll still changed the rating: %+v", got)
	}
	if _, _, ok := e.sessions.Get(session.ChatScope(1)); ok {
		t.Fatal("poll session survived cancel")
	}
}

func TestNewChatFlowCancelsOpenPoll(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	seed(t, store, meal.Meal{Name: "Soup", Rating: 1})

	open := firstOpenPoll(t, e.Handle(ctx, command(1, 7, "/rate", "Soup")))
	ref := session.MessageRef{ChatID: 1, MessageID: 42}
	e.PollMessageSent(open.PollID, ref)
	e.Handle(ctx, vote(1, open.PollID, 10, 5))

	// Starting a plan in the same chat discards the poll outright.
	actions := e.Handle(ctx, command(1, 7, "/plan", "1"))
	closed := false
	for _, a := range actions {
		if cp, ok := a.(ClosePoll); ok && cp.Ref == ref {
			closed = true
		}
	}
	if !closed {
		t.Fatalf("replaced poll message not closed: %#v", actions)
	}
	if _, ok := e.polls.Get(open.PollID); ok {
		t.Fatal("poll survived chat flow replacement")
	}
	if got, _ := store.Get(ctx, "Soup"); got.Rating != 1 {
		t.Fatalf("discarded poll changed the rating to %d", got.Rating)
	}

	s, _, ok := e.sessions.Get(session.ChatScope(1))
	if !ok || s.Kind != session.KindPlanning {
		t.Fatalf("planning session = %+v, %v", s, ok)
	}

	// The poll's timer firing late must not touch the new flow either.
	e.pollExpired(open.PollID)
	if _, _, ok := e.sessions.Get(session.ChatScope(1)); !ok {
		t.Fatal("stale poll deadline tore down the planning session")
	}
	if got, _ := store.Get(ctx, "Soup"); got.Rating != 1 {
		t.Fatalf("stale poll deadline changed the rating to %d", got.Rating)
	}
}

func TestPlanRerollAndDone(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	seed(t, store,
		meal.Meal{Name: "A", Rating: 5},
		meal.Meal{Name: "B", Rating: 1},
		meal.Meal{Name: "C"},
	)

	p := firstPrompt(t, e.Handle(ctx, command(1, 7, "/plan", "2")))
	if !strings.Contains(p.Text, "1.") || !strings.Contains(p.Text, "2.") {
		t.Fatalf("plan text = %q", p.Text)
	}
	scope := session.ChatScope(1)
	s, _, ok := e.sessions.Get(scope)
	if !ok || len(s.PlanNames) != 2 {
		t.Fatalf("planning session = %+v, %v", s, ok)
	}

	ref := session.MessageRef{ChatID: 1, MessageID: 55}
	e.MessageSent(scope, session.RoleKeyboard, ref)

	first := append([]string(nil), s.PlanNames...)
	actions := e.Handle(ctx, press(1, 7, dataReroll))
	edited := false
	for _, a := range actions {
		if em, ok := a.(EditMessage); ok && em.Ref == ref {
			edited = true
		}
	}
	if !edited {
		t.Fatalf("reroll should edit the plan message, got %#v", actions)
	}
	s, _, _ = e.sessions.Get(scope)
	if reflect.DeepEqual(first, s.PlanNames) {
		t.Fatalf("reroll returned the identical selection %v", first)
	}

	actions = e.Handle(ctx, press(1, 7, dataPlanDone))
	finalized := false
	for _, a := range actions {
		if em, ok := a.(EditMessage); ok && em.Ref == ref && len(em.Buttons) == 0 {
			finalized = true
		}
	}
	if !finalized {
		t.Fatalf("done should strip the keyboard, got %#v", actions)
	}
	if _, _, ok := e.sessions.Get(scope); ok {
		t.Fatal("planning session survived done")
	}
}

func TestPlanTruncatesOversizedRequest(t *testing.T) {
	e, store := newTestEngine(t, nil)
	ctx := context.Background()
	seed(t, store, meal.Meal{Name: "A"}, meal.Meal{Name: "B"})

	p := firstPrompt(t, e.Handle(ctx, command(1, 7, "/plan", "10")))
	if !strings.Contains(p.Text, "all of them") {
		t.Fatalf("expected truncation note, got %q", p.Text)
	}
}

func TestPlanEmptyPool(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	p := firstPrompt(t, e.Handle(context.Background(), command(1, 7, "/plan", "2")))
	if !strings.Contains(p.Text, "No meals") {
		t.Fatalf("reply = %q", p.Text)
	}
}

func TestMessageSentSupersedesPrompt(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	e.Handle(ctx, command(1, 7, "/new", ""))
	scope := session.UserScope(1, 7)

	ref1 := session.MessageRef{ChatID: 1, MessageID: 10}
	if actions := e.MessageSent(scope, session.RolePrompt, ref1); len(actions) != 0 {
		t.Fatalf("first tracked message should delete nothing, got %#v", actions)
	}

	ref2 := session.MessageRef{ChatID: 1, MessageID: 11}
	actions := e.MessageSent(scope, session.RolePrompt, ref2)
	if len(actions) != 1 {
		t.Fatalf("want one delete, got %#v", actions)
	}
	if del := actions[0].(DeleteMessage); del.Ref != ref1 {
		t.Fatalf("deleted %+v, want %+v", del.Ref, ref1)
	}
}

func TestCancelCleansTrackedMessages(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	e.Handle(ctx, command(1, 7, "/new", ""))
	scope := session.UserScope(1, 7)
	ref := session.MessageRef{ChatID: 1, MessageID: 10}
	e.MessageSent(scope, session.RolePrompt, ref)

	actions := e.Handle(ctx, command(1, 7, "/cancel", ""))
	deleted := false
	for _, a := range actions {
		if del, ok := a.(DeleteMessage); ok && del.Ref == ref {
			deleted = true
		}
	}
	if !deleted {
		t.Fatalf("tracked prompt not deleted on cancel: %#v", actions)
	}
}

func TestQuorumClosesEarly(t *testing.T) {
	store := meal.NewMemoryStore()
	e := NewEngine(store, nil, Config{PollDuration: time.Hour, PollQuorum: 2}, nil)
	ctx := context.Background()
	seed(t, store, meal.Meal{Name: "Soup"})

	open := firstOpenPoll(t, e.Handle(ctx, command(1, 7, "/rate", "Soup")))
	e.Handle(ctx, vote(1, open.PollID, 10, 5))
	e.Handle(ctx, vote(1, open.PollID, 11, 3))

	got, _ := store.Get(ctx, "Soup")
	if got.Rating != 4 {
		t.Fatalf("quorum close rating = %d, want 4", got.Rating)
	}
	if _, _, ok := e.sessions.Get(session.ChatScope(1)); ok {
		t.Fatal("poll session survived quorum close")
	}
}

func TestUnknownCommand(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	p := firstPrompt(t, e.Handle(context.Background(), command(1, 7, "/frobnicate", "")))
	if !strings.Contains(p.Text, "Unknown command") {
		t.Fatalf("reply = %q", p.Text)
	}
}
