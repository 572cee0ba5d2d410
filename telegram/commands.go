package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vplan-notifier/storage"
)

// Checker triggers a scrape cycle on demand.
type Checker interface {
	CheckAll(ctx context.Context) error
}

// Handler processes bot commands. It runs concurrently with the scheduled
// scrape cycle; the subscriber store serializes the resulting mutations.
type Handler struct {
	bot     *tgbotapi.BotAPI
	send    func(tgbotapi.Chattable) (tgbotapi.Message, error)
	subs    *storage.Subscribers
	checker Checker
	logger  *slog.Logger
}

// NewHandler creates the command handler.
func NewHandler(bot *tgbotapi.BotAPI, subs *storage.Subscribers, checker Checker, logger *slog.Logger) *Handler {
	return &Handler{bot: bot, send: bot.Send, subs: subs, checker: checker, logger: logger}
}

// Run consumes the bot update channel until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := h.bot.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			h.bot.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if upd.Message == nil || !upd.Message.IsCommand() {
				continue
			}
			h.handleCommand(ctx, upd.Message)
		}
	}
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	id := msg.Chat.ID
	recipientID := strconv.FormatInt(id, 10)
	args := strings.TrimSpace(msg.CommandArguments())

	h.logger.Info("Command received", "command", msg.Command(), "recipient", recipientID)

	switch msg.Command() {
	case "start", "help":
		name := "there"
		if msg.From != nil && msg.From.FirstName != "" {
			name = msg.From.FirstName
		}
		h.reply(id, fmt.Sprintf(
			"Hallo %s! I help you manage your school classes.\n\n"+
				"Use /add <class> to join a class.\n"+
				"Use /remove <class> to leave a class.\n"+
				"Use /classes to see your list.\n"+
				"Use /reset to refresh your data.", name))

	case "add":
		if args == "" {
			h.reply(id, "Please specify a class. Example: /add 11b")
			return
		}
		added, err := h.subs.AddClass(ctx, recipientID, args)
		if err != nil {
			h.fail(id, "add class", err)
			return
		}
		if added {
			h.reply(id, "Class added: "+args)
		} else {
			h.reply(id, "You are already in class: "+args)
		}

	case "remove":
		if args == "" {
			h.reply(id, "Please specify a class. Example: /remove 11b")
			return
		}
		removed, err := h.subs.RemoveClass(ctx, recipientID, args)
		if err != nil {
			h.fail(id, "remove class", err)
			return
		}
		if removed {
			h.reply(id, "Class removed: "+args)
		} else {
			h.reply(id, "You are not in class: "+args)
		}

	case "classes":
		classes, err := h.subs.Classes(ctx, recipientID)
		if err != nil {
			h.fail(id, "list classes", err)
			return
		}
		if len(classes) == 0 {
			h.reply(id, "You have no classes yet. Use /add to add one.")
			return
		}
		var b strings.Builder
		b.WriteString("Your classes:\n")
		for _, class := range classes {
			b.WriteString("- " + class + "\n")
		}
		h.reply(id, strings.TrimRight(b.String(), "\n"))

	case "reset":
		version, err := h.subs.IncrementResetVersion(ctx, recipientID)
		if err != nil {
			h.fail(id, "reset", err)
			return
		}
		h.reply(id, fmt.Sprintf(
			"Data reset (Version %d). You will receive all current updates again on the next check.", version))

	case "update":
		h.reply(id, "Checking for updates...")
		// The cycle can take a while; run it off the update loop so other
		// chats are not stalled. The monitor's lock keeps it mutually
		// exclusive with the scheduled run.
		go func() {
			if err := h.checker.CheckAll(ctx); err != nil {
				h.fail(id, "manual check", err)
				return
			}
			h.reply(id, "Check completed.")
		}()
	}
}

func (h *Handler) reply(id int64, text string) {
	if _, err := h.send(tgbotapi.NewMessage(id, text)); err != nil {
		h.logger.Warn("Failed to send reply", "chat_id", id, "error", err)
	}
}

func (h *Handler) fail(id int64, action string, err error) {
	h.logger.Error("Command failed", "action", action, "chat_id", id, "error", err)
	h.reply(id, "Something went wrong, please try again later.")
}
