package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	UpdateTimeout = 5 * time.Minute

	CallbackVerifyPrefix = "verify"
)

var AllowedUpdates = []string{
	"message",
	"callback_query",
	"chat_member",
}

type (
	UpdateProcessor struct {
		updateHandlers []Handler
		now            func() time.Time
	}

	// ErrorReporter receives errors that aborted an update.
	ErrorReporter func(ctx context.Context, chat *api.Chat, err error)

	MessageType string
)

const (
	MessageTypeText      MessageType = "text"
	MessageTypeAnimation MessageType = "animation"
	MessageTypeAudio     MessageType = "audio"
	MessageTypeContact   MessageType = "contact"
	MessageTypeDocument  MessageType = "document"
	MessageTypeLocation  MessageType = "location"
	MessageTypePhoto     MessageType = "photo"
	MessageTypePoll      MessageType = "poll"
	MessageTypeSticker   MessageType = "sticker"
	MessageTypeStory     MessageType = "story"
	MessageTypeVideo     MessageType = "video"
	MessageTypeVideoNote MessageType = "video_note"
	MessageTypeVoice     MessageType = "voice"
)

func NewUpdateProcessor(handlers ...Handler) *UpdateProcessor {
	enabledHandlers := make([]Handler, 0, len(handlers))
	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		enabledHandlers = append(enabledHandlers, handler)
	}
	return &UpdateProcessor{
		updateHandlers: enabledHandlers,
		now:            time.Now,
	}
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var updateTime time.Time
	switch {
	case u.Message != nil:
		updateTime = time.Unix(int64(u.Message.Date), 0)
	case u.ChatMember != nil:
		updateTime = time.Unix(int64(u.ChatMember.Date), 0)
	default:
		updateTime = up.now()
	}

	if age := up.now().Sub(updateTime); age > UpdateTimeout {
		log.WithFields(log.Fields{
			"update_time": updateTime,
			"age":         age,
		}).Debug("skipping outdated update")
		return nil
	}

	chat, user := ResolveChatAndUser(u)
	for _, handler := range up.updateHandlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		proceed, err := handler.Handle(ctx, u, chat, user)
		if err != nil {
			return errors.WithMessage(err, "handling error")
		}
		if !proceed {
			log.Trace("not proceeding")
			return nil
		}
	}
	return nil
}

// Run dispatches every update on its own goroutine, at most limit at a time,
// until updates is closed or ctx is done.
func (up *UpdateProcessor) Run(ctx context.Context, updates <-chan api.Update, limit int, report ErrorReporter) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				up.processRecovered(gctx, &update, report)
				return nil
			})
		}
	}
}

func (up *UpdateProcessor) processRecovered(ctx context.Context, u *api.Update, report ErrorReporter) {
	chat, _ := ResolveChatAndUser(u)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing update %d: %v", u.UpdateID, r)
			log.WithField("update_id", u.UpdateID).Error(err)
			if report != nil {
				report(ctx, chat, err)
			}
		}
	}()

	if err := up.Process(ctx, u); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.WithError(err).WithField("update_id", u.UpdateID).Error("cant process update")
		if report != nil {
			report(ctx, chat, err)
		}
	}
}

// ResolveChatAndUser finds the chat and the acting user of any update kind.
func ResolveChatAndUser(u *api.Update) (*api.Chat, *api.User) {
	chat := u.FromChat()
	if chat == nil {
		switch {
		case u.ChatJoinRequest != nil:
			chat = &u.ChatJoinRequest.Chat
		case u.MyChatMember != nil:
			chat = &u.MyChatMember.Chat
		case u.ChatMember != nil:
			chat = &u.ChatMember.Chat
		}
	}

	user := u.SentFrom()
	if user == nil {
		switch {
		case u.ChatJoinRequest != nil:
			user = &u.ChatJoinRequest.From
		case u.MyChatMember != nil:
			user = &u.MyChatMember.From
		case u.ChatMember != nil:
			user = &u.ChatMember.From
		}
	}
	return chat, user
}

func GetUpdatesChans(ctx context.Context, bot *api.BotAPI, config api.UpdateConfig) (api.UpdatesChannel, chan error) {
	ch := make(chan api.Update, bot.Buffer)
	chErr := make(chan error, 1)

	go func() {
		defer close(ch)
		defer close(chErr)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				updates, err := bot.GetUpdates(config)
				if err != nil {
					chErr <- err
					return
				}

				for _, update := range updates {
					if update.UpdateID >= config.Offset {
						config.Offset = update.UpdateID + 1
						select {
						case ch <- update:
						case <-ctx.Done():
							chErr <- ctx.Err()
							return
						}
					}
				}
			}
		}
	}()

	return ch, chErr
}

func GetUN(user *api.User) string {
	if user == nil {
		return ""
	}
	userName := user.UserName
	if len(userName) == 0 {
		userName = user.FirstName + " " + user.LastName
		userName = strings.TrimSpace(userName)
	}
	return userName
}

func GetFullName(user *api.User) string {
	if user == nil {
		return ""
	}
	fullName := user.FirstName + " " + user.LastName
	fullName = strings.TrimSpace(fullName)
	if len(fullName) == 0 {
		fullName = user.UserName
	}
	return fullName
}

// MentionName is how a user is addressed in chat notices.
func MentionName(user *api.User) string {
	if user == nil {
		return ""
	}
	if user.UserName != "" {
		return "@" + user.UserName
	}
	if name := GetFullName(user); name != "" {
		return name
	}
	return fmt.Sprintf("%d", user.ID)
}

// MessageText returns the text or the caption of a message.
func MessageText(msg *api.Message) string {
	if msg == nil {
		return ""
	}
	return strings.TrimSpace(msg.Text + " " + msg.Caption)
}

// HasLinkEntity reports whether the platform marked a link in the text or caption.
func HasLinkEntity(msg *api.Message) bool {
	if msg == nil {
		return false
	}
	for _, entities := range [][]api.MessageEntity{msg.Entities, msg.CaptionEntities} {
		for _, entity := range entities {
			if entity.Type == "url" || entity.Type == "text_link" {
				return true
			}
		}
	}
	return false
}

func IsMedia(msg *api.Message) bool {
	return GetMessageType(msg) != MessageTypeText
}

func GetMessageType(msg *api.Message) MessageType {
	switch {
	case msg.Animation != nil:
		return MessageTypeAnimation
	case msg.Audio != nil:
		return MessageTypeAudio
	case msg.Contact != nil:
		return MessageTypeContact
	case msg.Document != nil:
		return MessageTypeDocument
	case msg.Location != nil:
		return MessageTypeLocation
	case msg.Photo != nil:
		return MessageTypePhoto
	case msg.Poll != nil:
		return MessageTypePoll
	case msg.Sticker != nil:
		return MessageTypeSticker
	case msg.Story != nil:
		return MessageTypeStory
	case msg.Video != nil:
		return MessageTypeVideo
	case msg.VideoNote != nil:
		return MessageTypeVideoNote
	case msg.Voice != nil:
		return MessageTypeVoice
	default:
		return MessageTypeText
	}
}

// IsJoinTransition reports a member moving from outside the chat to inside it.
func IsJoinTransition(upd *api.ChatMemberUpdated) bool {
	if upd == nil {
		return false
	}
	wasOutside := upd.OldChatMember.Status == "left" || upd.OldChatMember.Status == "kicked"
	isInside := upd.NewChatMember.Status == "member" || upd.NewChatMember.Status == "restricted"
	return wasOutside && isInside
}

// VerifyCallbackData encodes the verification button payload.
func VerifyCallbackData(userID int64) string {
	return fmt.Sprintf("%s;%d", CallbackVerifyPrefix, userID)
}

// ParseVerifyCallbackData decodes a payload built by VerifyCallbackData.
func ParseVerifyCallbackData(data string) (int64, bool) {
	prefix, rest, found := strings.Cut(data, ";")
	if !found || prefix != CallbackVerifyPrefix {
		return 0, false
	}
	userID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return userID, true
}
