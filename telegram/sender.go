// Package telegram is the chat transport: outbound notification delivery and
// the inbound command loop.
package telegram

import (
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers notifications to Telegram chats. Recipient IDs are the
// string form of the numeric chat id, as stored by the subscriber store.
type Sender struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewSender creates a sender on top of a connected bot API.
func NewSender(bot *tgbotapi.BotAPI, logger *slog.Logger) *Sender {
	return &Sender{bot: bot, logger: logger}
}

func chatID(recipientID string) (int64, error) {
	id, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("recipient %q is not a chat id: %w", recipientID, err)
	}
	return id, nil
}

// SendText sends a plain text message.
func (s *Sender) SendText(recipientID, text string) error {
	id, err := chatID(recipientID)
	if err != nil {
		return err
	}
	if _, err := s.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendVideo sends a video file with a caption.
func (s *Sender) SendVideo(recipientID, path, caption string) error {
	id, err := chatID(recipientID)
	if err != nil {
		return err
	}
	video := tgbotapi.NewVideo(id, tgbotapi.FilePath(path))
	video.Caption = caption
	if _, err := s.bot.Send(video); err != nil {
		return fmt.Errorf("send video: %w", err)
	}
	return nil
}
