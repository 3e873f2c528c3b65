package moderator

import (
	"context"
	"fmt"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/gatewarden/internal/bot"
	"github.com/iamwavecut/gatewarden/internal/i18n"
	"github.com/iamwavecut/gatewarden/internal/observability"
	"github.com/iamwavecut/gatewarden/internal/policy"
	"github.com/iamwavecut/gatewarden/internal/verdict"
)

func (m *Moderator) handleMessage(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	entry := m.getLogEntry().WithField("method", "handleMessage")
	if chat == nil || user == nil {
		entry.Trace("no chat or user")
		return nil
	}
	if user.IsBot || chat.IsPrivate() || msg.LeftChatMember != nil {
		return nil
	}
	entry = entry.WithFields(logFields(chat.ID, user.ID))

	stored, err := m.store.GetUser(ctx, user.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		entry.Trace("unknown user, allowing")
		return nil
	}

	in := policy.MessageInput{
		Text:     bot.MessageText(msg),
		IsMedia:  bot.IsMedia(msg),
		HasLink:  bot.HasLinkEntity(msg),
		Approved: stored.IsApproved,
	}
	decision := m.policy.Screen(in)
	if decision.Action == verdict.ActionClassify {
		v := m.classifier.ClassifyText(ctx, in.Text)
		entry.WithFields(log.Fields{
			"is_spam":    v.IsSpam,
			"confidence": v.Confidence,
		}).Debug("classified message")
		decision = m.policy.EvaluateMessage(in, &v)
	}
	observability.RecordDecision(decision.Action.String())
	entry.WithField("action", decision.Action.String()).Debug("message screened")

	return m.execute(ctx, msg, chat, user, decision)
}

func (m *Moderator) execute(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, d verdict.Decision) error {
	entry := m.getLogEntry().WithField("method", "execute").WithFields(logFields(chat.ID, user.ID))
	lang := m.config.Language

	switch d.Action {
	case verdict.ActionDeleteOnly:
		m.deleteMessage(ctx, msg)
		return nil

	case verdict.ActionDeleteAndWarn:
		m.deleteMessage(ctx, msg)
		if err := m.appendLog(ctx, user.ID, d.Log); err != nil {
			return err
		}
		count, err := m.store.IncrementWarnings(ctx, user.ID)
		if err != nil {
			return err
		}
		entry = entry.WithField("warnings", count)
		limit := m.policy.Thresholds().WarningsBeforeBan

		if m.policy.WarningOutcome(count) == verdict.ActionWarn {
			entry.Info("user warned")
			text := tool.ExecTemplate(i18n.Get("⚠️ {{ .name }}, your message was removed for breaking the rules. Warning {{ .count }}/{{ .limit }}.", lang), map[string]any{
				"name":  bot.MentionName(user),
				"count": count,
				"limit": limit,
			})
			if noticeID := m.sendNotice(ctx, chat.ID, text); noticeID != 0 {
				m.deleteAfter(chat.ID, noticeID, m.config.WarningNoticeTTL)
			}
			return nil
		}

		observability.RecordDecision(verdict.ActionBan.String())
		if !m.banMember(ctx, chat.ID, user.ID) {
			return nil
		}
		entry.Info("user banned for accumulated warnings")
		m.sendNotice(ctx, chat.ID, tool.ExecTemplate(i18n.Get("🚫 {{ .name }} was banned for spam ({{ .limit }} warnings).", lang), map[string]any{
			"name":  bot.MentionName(user),
			"limit": limit,
		}))
		m.notifyAdmin(ctx, tool.ExecTemplate(i18n.Get("🚫 User {{ .name }} ({{ .user_id }}) was banned in chat {{ .chat_id }} for spam.", lang), map[string]any{
			"name":    bot.MentionName(user),
			"user_id": user.ID,
			"chat_id": chat.ID,
		}))
		return nil

	case verdict.ActionBan:
		m.deleteMessage(ctx, msg)
		if m.banMember(ctx, chat.ID, user.ID) {
			entry.WithField("reason", d.Reason).Info("user banned by content analysis")
			m.notifyAdmin(ctx, tool.ExecTemplate(i18n.Get("🚫 User {{ .name }} ({{ .user_id }}) was banned in chat {{ .chat_id }} by content analysis.\nReason: {{ .reason }}\nMessage: {{ .text }}", lang), map[string]any{
				"name":    bot.MentionName(user),
				"user_id": user.ID,
				"chat_id": chat.ID,
				"reason":  d.Reason,
				"text":    bot.MessageText(msg),
			}))
		}
		return m.appendLog(ctx, user.ID, d.Log)

	case verdict.ActionDeleteAndReport:
		m.deleteMessage(ctx, msg)
		entry.WithField("reason", d.Reason).Info("message sent for review")
		m.notifyAdmin(ctx, tool.ExecTemplate(i18n.Get("⚠️ Suspicious message for review\n\nUser: {{ .name }} ({{ .user_id }})\nChat: {{ .chat_id }}\nMessage:\n{{ .text }}\nReason: {{ .reason }}\nConfidence: {{ .confidence }}", lang), map[string]any{
			"name":       bot.MentionName(user),
			"user_id":    user.ID,
			"chat_id":    chat.ID,
			"text":       bot.MessageText(msg),
			"reason":     d.Reason,
			"confidence": formatConfidence(d.Confidence),
		}))
		return m.appendLog(ctx, user.ID, d.Log)

	default:
		return m.appendLog(ctx, user.ID, d.Log)
	}
}

func formatConfidence(c float64) string {
	return fmt.Sprintf("%.2f", c)
}

func (m *Moderator) appendLog(ctx context.Context, userID int64, entry *verdict.LogEntry) error {
	if entry == nil {
		return nil
	}
	_, err := m.store.AppendMessageLog(ctx, userID, entry.Text, entry.IsSpam)
	return err
}

func (m *Moderator) deleteMessage(ctx context.Context, msg *api.Message) {
	if err := m.transport.DeleteMessage(ctx, msg.Chat.ID, msg.MessageID); err != nil {
		m.getLogEntry().WithError(err).WithField("chat_id", msg.Chat.ID).Debug("cant delete message")
	}
}
