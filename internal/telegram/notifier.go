// Package telegram posts video job outcomes to an operations chat.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/lookstudio/internal/models"
)

// maxErrorRunes keeps failure notices readable; Telegram caps messages at 4096.
const maxErrorRunes = 500

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	api    Sender
	chatID int64
	log    *slog.Logger
}

func NewNotifier(api Sender, chatID int64, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Notifier{api: api, chatID: chatID, log: log}
}

// JobFinished reports a SUCCEEDED or FAILED job. Other statuses are ignored.
func (n *Notifier) JobFinished(_ context.Context, job *models.VideoJob) {
	var b strings.Builder
	switch job.Status {
	case models.JobSucceeded:
		fmt.Fprintf(&b, "Video job #%d succeeded\n", job.ID)
	case models.JobFailed:
		fmt.Fprintf(&b, "Video job #%d failed\n", job.ID)
	default:
		return
	}
	fmt.Fprintf(&b, "User: %d\n", job.UserID)
	fmt.Fprintf(&b, "Model: %s %s %s\n", job.Model, job.Resolution, job.AspectRatio)
	fmt.Fprintf(&b, "Tokens: %d", job.TokensConsumed)
	if job.ResultURL != "" {
		fmt.Fprintf(&b, "\nResult: %s", job.ResultURL)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, "\nError: %s", truncate(job.ErrorMessage, maxErrorRunes))
	}
	n.sendText(b.String())
}

func (n *Notifier) sendText(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		n.log.Error("send ops notification", "chat_id", n.chatID, "err", err)
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
