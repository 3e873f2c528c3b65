package moderator

import (
	"context"
	"errors"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/gatewarden/internal/bot"
	"github.com/iamwavecut/gatewarden/internal/i18n"
)

func (m *Moderator) notifyAdmin(ctx context.Context, text string) {
	if m.config.AdminID == 0 {
		return
	}
	if _, err := m.transport.SendMessage(ctx, m.config.AdminID, text, bot.SendOptions{}); err != nil {
		m.getLogEntry().WithError(err).Error("cant notify admin")
	}
}

// sendNotice posts text to the chat and returns the message id, 0 on failure.
func (m *Moderator) sendNotice(ctx context.Context, chatID int64, text string) int {
	messageID, err := m.transport.SendMessage(ctx, chatID, text, bot.SendOptions{DisableNotification: true})
	if err != nil {
		m.getLogEntry().WithError(err).WithField("chat_id", chatID).Error("cant send notice")
		return 0
	}
	return messageID
}

// ReportError summarizes a failed update to the admin.
func (m *Moderator) ReportError(ctx context.Context, chat *api.Chat, err error) {
	if err == nil {
		return
	}
	entry := m.getLogEntry().WithField("method", "ReportError")
	if chat != nil {
		entry = entry.WithField("chat_id", chat.ID)
	}
	entry.WithError(err).Debug("reporting error to admin")

	var memberErr *memberError
	if errors.As(err, &memberErr) {
		m.notifyAdmin(ctx, tool.ExecTemplate(i18n.Get("Error while processing new member {{ .user_id }}: {{ .error }}", m.config.Language), map[string]any{
			"user_id": memberErr.userID,
			"error":   memberErr.err.Error(),
		}))
		return
	}
	m.notifyAdmin(ctx, tool.ExecTemplate(i18n.Get("⚠️ An error occurred in the bot:\n\n{{ .error }}", m.config.Language), map[string]any{
		"error": err.Error(),
	}))
}

func (m *Moderator) formatTimeout(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return tool.ExecTemplate(i18n.Get("{{ .n }} min.", m.config.Language), map[string]any{"n": int(d / time.Minute)})
	}
	return tool.ExecTemplate(i18n.Get("{{ .n }} sec.", m.config.Language), map[string]any{"n": int(d / time.Second)})
}

func logFields(chatID, userID int64) log.Fields {
	return log.Fields{
		"chat_id": chatID,
		"user_id": userID,
	}
}
