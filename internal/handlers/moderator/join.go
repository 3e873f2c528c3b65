package moderator

import (
	"context"
	"errors"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/gatewarden/internal/bot"
	"github.com/iamwavecut/gatewarden/internal/i18n"
	"github.com/iamwavecut/gatewarden/internal/observability"
	"github.com/iamwavecut/gatewarden/internal/policy/permissions"
	"github.com/iamwavecut/gatewarden/internal/verdict"
	"github.com/iamwavecut/gatewarden/internal/verification"
)

func (m *Moderator) handleJoin(ctx context.Context, chat *api.Chat, member *api.User) error {
	entry := m.getLogEntry().WithField("method", "handleJoin")
	if chat == nil || member == nil {
		entry.Debug("missing chat or member")
		return nil
	}
	entry = entry.WithFields(logFields(chat.ID, member.ID))

	decision := m.policy.EvaluateJoin(member.IsBot)
	if !decision.Restrict && !decision.RequireVerification {
		entry.Debug("skipping bot")
		return nil
	}

	// reserve the session before any side effect
	if decision.RequireVerification {
		if _, err := m.sessions.Open(chat.ID, member.ID, 0); err != nil {
			if errors.Is(err, verification.ErrDuplicateSession) {
				entry.Info("duplicate join, verification already pending")
				return nil
			}
			entry.WithError(err).Warn("cant open verification")
			return nil
		}
	}

	m.unmarkBanned(verification.Key{ChatID: chat.ID, UserID: member.ID})

	isNew, err := m.store.UpsertUser(ctx, member.ID, member.UserName, bot.GetFullName(member))
	if err != nil {
		m.sessions.Cancel(chat.ID, member.ID)
		return &memberError{userID: member.ID, err: err}
	}
	entry.WithField("is_new", isNew).Info("member joined")

	if m.config.CheckProfilePhotos {
		m.checkProfileImage(ctx, chat, member)
	}

	if decision.Restrict {
		if err := m.transport.RestrictUser(ctx, chat.ID, member.ID, permissions.Restricted()); err != nil {
			entry.WithError(err).Error("cant restrict member")
		}
	}
	if !decision.RequireVerification {
		return nil
	}
	observability.RecordVerification("opened")

	lang := m.config.Language
	text := tool.ExecTemplate(i18n.Get("Welcome, {{ .name }}! 👋\n\nTo keep the chat safe, please confirm that you are not a bot by pressing the button below.\n\n⏰ You have {{ .timeout }} to confirm.", lang), map[string]any{
		"name":    bot.MentionName(member),
		"timeout": m.formatTimeout(m.sessions.Timeout()),
	})
	promptID, err := m.transport.SendMessage(ctx, chat.ID, text, bot.SendOptions{
		Buttons: [][]bot.Button{{
			{Text: i18n.Get("I'm not a bot 🤖", lang), Data: bot.VerifyCallbackData(member.ID)},
		}},
	})
	if err != nil {
		entry.WithError(err).Error("cant send verification prompt")
		m.sessions.Cancel(chat.ID, member.ID)
		return nil
	}

	if !m.sessions.SetPrompt(chat.ID, member.ID, promptID) {
		entry.Debug("verification resolved before the prompt was attached")
		if err := m.transport.DeleteMessage(ctx, chat.ID, promptID); err != nil {
			entry.WithError(err).Debug("cant delete orphan prompt")
		}
	}
	return nil
}

func (m *Moderator) checkProfileImage(ctx context.Context, chat *api.Chat, member *api.User) {
	entry := m.getLogEntry().WithField("method", "checkProfileImage").WithFields(logFields(chat.ID, member.ID))

	image, err := m.transport.FetchUserProfileImage(ctx, member.ID)
	if err != nil {
		entry.WithError(err).Warn("cant fetch profile image")
		return
	}
	if len(image) == 0 {
		entry.Trace("no profile image")
		return
	}

	v := m.classifier.ClassifyImage(ctx, image)
	decision := m.policy.EvaluateProfileImage(v)
	observability.RecordDecision(decision.Action.String())
	if decision.Action != verdict.ActionReport {
		return
	}

	entry.WithField("confidence", v.Confidence).Warn("fake profile image")
	m.notifyAdmin(ctx, tool.ExecTemplate(i18n.Get("🚨 Fake avatar detected\n\nUser: {{ .name }} ({{ .user_id }})\nChat: {{ .chat_id }}\nReason: {{ .reason }}", m.config.Language), map[string]any{
		"name":    bot.MentionName(member),
		"user_id": member.ID,
		"chat_id": chat.ID,
		"reason":  decision.Reason,
	}))
}
