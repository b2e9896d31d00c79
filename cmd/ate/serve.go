package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/framefighter/ate/conversation"
	"github.com/framefighter/ate/guard"
	"github.com/framefighter/ate/internal/logutil"
	"github.com/framefighter/ate/session"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot (long polling)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			token := strings.TrimSpace(viper.GetString("telegram.token"))
			if token == "" {
				return fmt.Errorf("telegram.token is required (flag --token or env %s_TELEGRAM_TOKEN)", envPrefix)
			}

			store, cleanup, err := storeFromViper()
			if err != nil {
				return err
			}
			defer func() {
				if err := cleanup(); err != nil {
					logger.Warn("closing store failed", "error", err)
				}
			}()

			g := guard.New(guard.Config{Operators: operatorsFromViper()})
			engine := conversation.NewEngine(store, g, conversation.Config{
				SessionTTL:      viper.GetDuration("session.ttl"),
				PollDuration:    viper.GetDuration("poll.duration"),
				PollQuorum:      viper.GetInt("poll.quorum"),
				DefaultPlanSize: viper.GetInt("plan.default_size"),
			}, logger)

			bot, err := tgbotapi.NewBotAPI(token)
			if err != nil {
				return fmt.Errorf("connect to telegram: %w", err)
			}
			logger.Info("authorized", "bot", bot.Self.UserName, "store", viper.GetString("store.backend"))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			t := newTransport(bot, engine, logger)
			engine.SetDispatch(t.perform)
			return t.run(ctx)
		},
	}

	cmd.Flags().String("token", "", "Telegram bot token.")
	_ = viper.BindPFlag("telegram.token", cmd.Flags().Lookup("token"))
	cmd.Flags().Duration("poll-duration", 0, "How long rating polls stay open (default 60s).")
	_ = viper.BindPFlag("poll.duration", cmd.Flags().Lookup("poll-duration"))
	cmd.Flags().Int("poll-quorum", 0, "Close a rating poll early after this many votes (0 = off).")
	_ = viper.BindPFlag("poll.quorum", cmd.Flags().Lookup("poll-quorum"))
	cmd.Flags().Duration("session-ttl", 0, "Idle timeout for multi-step dialogs (default 15m).")
	_ = viper.BindPFlag("session.ttl", cmd.Flags().Lookup("session-ttl"))
	cmd.Flags().IntSlice("operator", nil, "Telegram user ids allowed to run privileged commands (repeatable).")
	_ = viper.BindPFlag("guard.operators", cmd.Flags().Lookup("operator"))
	cmd.Flags().Int("plan-size", 0, "Default number of meals /plan picks (default 1).")
	_ = viper.BindPFlag("plan.default_size", cmd.Flags().Lookup("plan-size"))

	return cmd
}

// pollRef ties a Telegram poll id back to the aggregator poll that is
// waiting for its answers.
type pollRef struct {
	pollID string
	chatID int64
}

// transport adapts tgbotapi updates to engine events and engine
// actions back to Telegram API calls.
type transport struct {
	bot    *tgbotapi.BotAPI
	engine *conversation.Engine
	log    *slog.Logger

	mu    sync.Mutex
	polls map[string]pollRef // telegram poll id -> engine poll
}

func newTransport(bot *tgbotapi.BotAPI, engine *conversation.Engine, log *slog.Logger) *transport {
	return &transport{bot: bot, engine: engine, log: log, polls: make(map[string]pollRef)}
}

func (t *transport) run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query", "poll_answer"}
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			t.log.Info("shutting down")
			return nil
		case update := <-updates:
			ev, ok := t.eventFromUpdate(update)
			if !ok {
				continue
			}
			t.perform(t.engine.Handle(ctx, ev))
		}
	}
}

func (t *transport) eventFromUpdate(u tgbotapi.Update) (conversation.Event, bool) {
	switch {
	case u.Message != nil:
		m := u.Message
		if m.From == nil {
			return conversation.Event{}, false
		}
		ev := conversation.Event{
			ChatID:    m.Chat.ID,
			UserID:    m.From.ID,
			MessageID: m.MessageID,
			Group:     m.Chat.IsGroup() || m.Chat.IsSuperGroup(),
		}
		switch {
		case m.IsCommand():
			ev.Kind = conversation.EventCommand
			ev.Command = m.Command()
			ev.Args = m.CommandArguments()
		case len(m.Photo) > 0:
			ev.Kind = conversation.EventPhoto
			// The last photo size is the largest.
			ev.PhotoID = m.Photo[len(m.Photo)-1].FileID
		case m.Text != "":
			ev.Kind = conversation.EventText
			ev.Text = m.Text
		default:
			return conversation.Event{}, false
		}
		return ev, true

	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.Message == nil {
			return conversation.Event{}, false
		}
		return conversation.Event{
			Kind:       conversation.EventButton,
			ChatID:     cq.Message.Chat.ID,
			UserID:     cq.From.ID,
			MessageID:  cq.Message.MessageID,
			Group:      cq.Message.Chat.IsGroup() || cq.Message.Chat.IsSuperGroup(),
			ButtonData: cq.Data,
			CallbackID: cq.ID,
		}, true

	case u.PollAnswer != nil:
		pa := u.PollAnswer
		t.mu.Lock()
		ref, ok := t.polls[pa.PollID]
		t.mu.Unlock()
		// Votes for unknown polls and retracted votes are dropped.
		if !ok || len(pa.OptionIDs) == 0 {
			return conversation.Event{}, false
		}
		return conversation.Event{
			Kind:    conversation.EventPollVote,
			ChatID:  ref.chatID,
			PollID:  ref.pollID,
			VoterID: pa.User.ID,
			Vote:    pa.OptionIDs[0] + 1, // option n is n+1 stars
		}, true
	}
	return conversation.Event{}, false
}

// perform executes engine actions in order. Failures are logged and
// never stop the remaining actions.
func (t *transport) perform(actions []conversation.Action) {
	for _, action := range actions {
		switch a := action.(type) {
		case conversation.SendPrompt:
			t.sendPrompt(a)
		case conversation.EditMessage:
			edit := tgbotapi.NewEditMessageText(a.Ref.ChatID, a.Ref.MessageID, a.Text)
			if len(a.Buttons) > 0 {
				markup := keyboard(a.Buttons)
				edit.ReplyMarkup = &markup
			}
			if _, err := t.bot.Send(edit); err != nil {
				t.log.Warn("editing message failed", "chat", a.Ref.ChatID, "message", a.Ref.MessageID, "error", err)
			}
		case conversation.DeleteMessage:
			_, err := t.bot.Request(tgbotapi.NewDeleteMessage(a.Ref.ChatID, a.Ref.MessageID))
			if err != nil {
				if a.BestEffort {
					t.log.Debug("best-effort delete failed", "chat", a.Ref.ChatID, "message", a.Ref.MessageID, "error", err)
				} else {
					t.log.Warn("deleting message failed", "chat", a.Ref.ChatID, "message", a.Ref.MessageID, "error", err)
				}
			}
		case conversation.SendPhoto:
			photo := tgbotapi.NewPhoto(a.ChatID, tgbotapi.FileID(a.PhotoID))
			photo.Caption = a.Caption
			if _, err := t.bot.Send(photo); err != nil {
				t.log.Warn("sending photo failed", "chat", a.ChatID, "error", err)
			}
		case conversation.OpenPoll:
			t.openPoll(a)
		case conversation.ClosePoll:
			if _, err := t.bot.StopPoll(tgbotapi.NewStopPoll(a.Ref.ChatID, a.Ref.MessageID)); err != nil {
				t.log.Warn("stopping poll failed", "chat", a.Ref.ChatID, "error", err)
			}
			t.forgetPoll(a.PollID)
		case conversation.AnswerButton:
			if _, err := t.bot.Request(tgbotapi.NewCallback(a.CallbackID, a.Text)); err != nil {
				t.log.Debug("answering callback failed", "error", err)
			}
		}
	}
}

func (t *transport) sendPrompt(a conversation.SendPrompt) {
	msg := tgbotapi.NewMessage(a.ChatID, a.Text)
	if len(a.Buttons) > 0 {
		msg.ReplyMarkup = keyboard(a.Buttons)
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		t.log.Warn("sending message failed", "chat", a.ChatID, "error", err)
		return
	}
	if a.Scope != "" && a.Role != "" {
		ref := session.MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}
		t.perform(t.engine.MessageSent(a.Scope, a.Role, ref))
	}
}

func (t *transport) openPoll(a conversation.OpenPoll) {
	p := tgbotapi.NewPoll(a.ChatID, a.Question, a.Options...)
	p.IsAnonymous = false
	sent, err := t.bot.Send(p)
	if err != nil {
		t.log.Warn("sending poll failed", "chat", a.ChatID, "error", err)
		return
	}
	if sent.Poll != nil {
		t.mu.Lock()
		t.polls[sent.Poll.ID] = pollRef{pollID: a.PollID, chatID: a.ChatID}
		t.mu.Unlock()
	}
	t.engine.PollMessageSent(a.PollID, session.MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID})
}

func (t *transport) forgetPoll(pollID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for tgID, ref := range t.polls {
		if ref.pollID == pollID {
			delete(t.polls, tgID)
			return
		}
	}
}

func keyboard(rows [][]conversation.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		out = append(out, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
