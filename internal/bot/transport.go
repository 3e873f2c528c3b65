package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	errs "github.com/iamwavecut/gatewarden/internal/errors"
	"github.com/iamwavecut/gatewarden/internal/policy/permissions"
)

const (
	maxProfileImageSize = 10 << 20
	restrictionPeriod   = 366 * 24 * time.Hour
)

type (
	Button struct {
		Text string
		Data string
	}

	SendOptions struct {
		ParseMode           string
		Buttons             [][]Button
		DisableNotification bool
	}

	// Transport is the subset of chat platform operations the moderator needs.
	Transport interface {
		SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error)
		DeleteMessage(ctx context.Context, chatID int64, messageID int) error
		RestrictUser(ctx context.Context, chatID, userID int64, perms permissions.Set) error
		BanUser(ctx context.Context, chatID, userID int64) error
		UnbanUser(ctx context.Context, chatID, userID int64) error
		EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error
		AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
		// FetchUserProfileImage returns nil without an error when the user has no photo.
		FetchUserProfileImage(ctx context.Context, userID int64) ([]byte, error)
	}

	telegramTransport struct {
		bot    *api.BotAPI
		client *http.Client
	}
)

func NewTelegramTransport(bot *api.BotAPI, client *http.Client) *telegramTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &telegramTransport{bot: bot, client: client}
}

func transportError(err error, message string) error {
	return errors.WithMessage(fmt.Errorf("%w: %w", errs.ErrTransport, err), message)
}

func (t *telegramTransport) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := api.NewMessage(chatID, text)
	msg.ParseMode = opts.ParseMode
	msg.DisableNotification = opts.DisableNotification
	msg.LinkPreviewOptions.IsDisabled = true
	if len(opts.Buttons) > 0 {
		rows := make([][]api.InlineKeyboardButton, 0, len(opts.Buttons))
		for _, row := range opts.Buttons {
			buttons := make([]api.InlineKeyboardButton, 0, len(row))
			for _, b := range row {
				buttons = append(buttons, api.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
			rows = append(rows, api.NewInlineKeyboardRow(buttons...))
		}
		msg.ReplyMarkup = api.NewInlineKeyboardMarkup(rows...)
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, transportError(err, "cant send message")
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Request(api.NewDeleteMessage(chatID, messageID)); err != nil {
		return transportError(err, "cant delete message")
	}
	return nil
}

func (t *telegramTransport) RestrictUser(ctx context.Context, chatID, userID int64, perms permissions.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Request(api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		UntilDate:   time.Now().Add(restrictionPeriod).Unix(),
		Permissions: perms.ChatPermissions(),
	}); err != nil {
		return transportError(err, "cant restrict")
	}
	return nil
}

func (t *telegramTransport) BanUser(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Request(api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		RevokeMessages: true,
	}); err != nil {
		return transportError(err, "cant ban")
	}
	return nil
}

func (t *telegramTransport) UnbanUser(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Request(api.UnbanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		OnlyIfBanned: true,
	}); err != nil {
		return transportError(err, "cant unban")
	}
	return nil
}

func (t *telegramTransport) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(api.NewEditMessageText(chatID, messageID, text)); err != nil {
		return transportError(err, "cant edit message")
	}
	return nil
}

func (t *telegramTransport) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	callback := api.NewCallback(callbackID, text)
	if alert {
		callback = api.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := t.bot.Request(callback); err != nil {
		return transportError(err, "cant answer callback")
	}
	return nil
}

func (t *telegramTransport) FetchUserProfileImage(ctx context.Context, userID int64) ([]byte, error) {
	photosConfig := api.NewUserProfilePhotos(userID)
	photosConfig.Limit = 1
	photos, err := t.bot.GetUserProfilePhotos(photosConfig)
	if err != nil {
		return nil, transportError(err, "cant get profile photos")
	}
	if photos.TotalCount == 0 || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return nil, nil
	}

	sizes := photos.Photos[0]
	largest := sizes[len(sizes)-1]
	fileURL, err := t.bot.GetFileDirectURL(largest.FileID)
	if err != nil {
		return nil, transportError(err, "cant resolve profile photo")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, transportError(err, "cant build photo request")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, transportError(err, "cant download profile photo")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, transportError(fmt.Errorf("unexpected status %d", resp.StatusCode), "cant download profile photo")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileImageSize))
	if err != nil {
		return nil, transportError(err, "cant read profile photo")
	}
	return data, nil
}
