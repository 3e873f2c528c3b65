package moderator

import (
	"context"
	"strconv"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/gatewarden/internal/bot"
	"github.com/iamwavecut/gatewarden/internal/i18n"
	"github.com/iamwavecut/gatewarden/internal/observability"
	"github.com/iamwavecut/gatewarden/internal/policy/permissions"
	"github.com/iamwavecut/gatewarden/internal/verification"
)

func (m *Moderator) handleCallback(ctx context.Context, cq *api.CallbackQuery) error {
	entry := m.getLogEntry().WithField("method", "handleCallback")
	targetID, ok := bot.ParseVerifyCallbackData(cq.Data)
	if !ok || cq.Message == nil || cq.From == nil {
		entry.WithField("data", cq.Data).Trace("not a verification callback")
		return nil
	}
	chatID := cq.Message.Chat.ID
	entry = entry.WithFields(logFields(chatID, targetID))
	lang := m.config.Language

	if cq.From.ID != targetID {
		entry.WithField("clicker_id", cq.From.ID).Debug("foreign click")
		if err := m.transport.AnswerCallback(ctx, cq.ID, i18n.Get("This button is not for you!", lang), true); err != nil {
			entry.WithError(err).Debug("cant answer callback")
		}
		return nil
	}

	session, ok := m.sessions.Confirm(chatID, targetID)
	if !ok {
		stale := i18n.Get("Verification time has expired or verification is already completed.", lang)
		observability.RecordVerification("stale")
		if err := m.transport.AnswerCallback(ctx, cq.ID, stale, false); err != nil {
			entry.WithError(err).Debug("cant answer callback")
		}
		if err := m.transport.EditMessageText(ctx, chatID, cq.Message.MessageID, stale); err != nil {
			entry.WithError(err).Debug("cant edit stale prompt")
		}
		return nil
	}
	observability.RecordVerification("confirmed")

	if err := m.transport.RestrictUser(ctx, chatID, targetID, permissions.Full()); err != nil {
		entry.WithError(err).Error("cant restore permissions")
	}
	if err := m.store.SetApproved(ctx, targetID); err != nil {
		return err
	}
	if err := m.transport.AnswerCallback(ctx, cq.ID, "", false); err != nil {
		entry.WithError(err).Debug("cant answer callback")
	}

	promptID := session.PromptMessageID
	if promptID == 0 {
		promptID = cq.Message.MessageID
	}
	if err := m.transport.DeleteMessage(ctx, chatID, promptID); err != nil {
		entry.WithError(err).Debug("cant delete prompt")
	}

	notice := tool.ExecTemplate(i18n.Get("✅ {{ .name }} has been verified! Welcome to the chat!", lang), map[string]any{
		"name": bot.MentionName(cq.From),
	})
	if noticeID := m.sendNotice(ctx, chatID, notice); noticeID != 0 {
		m.deleteAfter(chatID, noticeID, m.config.SuccessNoticeTTL)
	}
	entry.Info("member verified")
	return nil
}

// onVerificationExpired runs on the session timer once the deadline won.
func (m *Moderator) onVerificationExpired(s verification.Session) {
	ctx := m.getRuntimeContext()
	chatID, userID := s.Key.ChatID, s.Key.UserID
	entry := m.getLogEntry().WithField("method", "onVerificationExpired").WithFields(logFields(chatID, userID))
	observability.RecordVerification("expired")

	if err := m.transport.BanUser(ctx, chatID, userID); err != nil {
		entry.WithError(err).Error("cant kick member")
	}
	if err := m.transport.UnbanUser(ctx, chatID, userID); err != nil {
		entry.WithError(err).Error("cant unban kicked member")
	}
	if s.PromptMessageID != 0 {
		if err := m.transport.DeleteMessage(ctx, chatID, s.PromptMessageID); err != nil {
			entry.WithError(err).Debug("cant delete prompt")
		}
	}

	name := strconv.FormatInt(userID, 10)
	if user, err := m.store.GetUser(ctx, userID); err != nil {
		entry.WithError(err).Warn("cant load expired member")
	} else if user != nil {
		switch {
		case user.UserName != "":
			name = "@" + user.UserName
		case user.DisplayName != "":
			name = user.DisplayName
		}
	}

	m.sendNotice(ctx, chatID, tool.ExecTemplate(i18n.Get("⏰ {{ .name }} did not pass verification within {{ .timeout }} and was removed from the chat.", m.config.Language), map[string]any{
		"name":    name,
		"timeout": m.formatTimeout(m.sessions.Timeout()),
	}))
	entry.Info("verification expired, member removed")
}
