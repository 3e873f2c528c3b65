// Package moderator sequences member verification and message screening for
// group chats.
package moderator

import (
	"context"
	"fmt"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/gatewarden/internal/bot"
	"github.com/iamwavecut/gatewarden/internal/policy"
	"github.com/iamwavecut/gatewarden/internal/verification"
)

const (
	DefaultWarningNoticeTTL = 5 * time.Second
	DefaultSuccessNoticeTTL = 10 * time.Second

	// bannedMarkTTL bounds how long a ban suppresses repeated bans for the
	// same member.
	bannedMarkTTL = 10 * time.Minute
)

type (
	Config struct {
		AdminID             int64
		Language            string
		VerificationTimeout time.Duration
		WarningNoticeTTL    time.Duration
		SuccessNoticeTTL    time.Duration
		CheckProfilePhotos  bool
	}

	Option func(*options)

	options struct {
		sessionOptions []verification.Option
	}

	Moderator struct {
		transport  bot.Transport
		store      Store
		classifier Classifier
		policy     *policy.Policy
		sessions   *verification.Manager
		config     Config

		bannedMu sync.Mutex
		banned   map[verification.Key]time.Time
		now      func() time.Time

		runtimeCtx context.Context
		cancel     context.CancelFunc
		wg         sync.WaitGroup
		mu         sync.Mutex
		started    bool
	}

	// memberError marks a failure while admitting a new member.
	memberError struct {
		userID int64
		err    error
	}
)

func (e *memberError) Error() string {
	return fmt.Sprintf("new member %d: %v", e.userID, e.err)
}

func (e *memberError) Unwrap() error {
	return e.err
}

// WithSessionOptions passes options to the verification registry.
func WithSessionOptions(opts ...verification.Option) Option {
	return func(o *options) {
		o.sessionOptions = append(o.sessionOptions, opts...)
	}
}

func New(transport bot.Transport, store Store, classifier Classifier, p *policy.Policy, config Config, opts ...Option) *Moderator {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if config.WarningNoticeTTL <= 0 {
		config.WarningNoticeTTL = DefaultWarningNoticeTTL
	}
	if config.SuccessNoticeTTL <= 0 {
		config.SuccessNoticeTTL = DefaultSuccessNoticeTTL
	}

	m := &Moderator{
		transport:  transport,
		store:      store,
		classifier: classifier,
		policy:     p,
		config:     config,
		banned:     make(map[verification.Key]time.Time),
		now:        time.Now,
	}
	m.sessions = verification.NewManager(config.VerificationTimeout, m.onVerificationExpired, o.sessionOptions...)
	m.config.VerificationTimeout = m.sessions.Timeout()
	return m
}

func (m *Moderator) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.runtimeCtx, m.cancel = context.WithCancel(ctx)
	m.started = true
	m.getLogEntry().WithField("thresholds", m.policy.Thresholds().String()).Info("moderator started")
	return nil
}

// Stop drops pending verifications and waits for scheduled cleanups.
func (m *Moderator) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()

	if dropped := m.sessions.Close(); len(dropped) > 0 {
		m.getLogEntry().WithField("count", len(dropped)).Warn("dropped pending verifications")
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Pending reports whether a verification is open for the user in the chat.
func (m *Moderator) Pending(chatID, userID int64) bool {
	_, ok := m.sessions.Pending(chatID, userID)
	return ok
}

func (m *Moderator) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil {
		return true, nil
	}

	switch {
	case u.CallbackQuery != nil:
		return false, m.handleCallback(ctx, u.CallbackQuery)

	case u.ChatMember != nil:
		if !bot.IsJoinTransition(u.ChatMember) || u.ChatMember.NewChatMember.User == nil {
			return true, nil
		}
		return true, m.handleJoin(ctx, &u.ChatMember.Chat, u.ChatMember.NewChatMember.User)

	case u.Message != nil && len(u.Message.NewChatMembers) > 0:
		// joins are verified from chat_member updates only
		m.getLogEntry().WithField("method", "Handle").WithField("chat_id", u.Message.Chat.ID).Trace("skipping join service message")
		return true, nil

	case u.Message != nil:
		return true, m.handleMessage(ctx, u.Message, chat, user)
	}
	return true, nil
}

func (m *Moderator) getLogEntry() *log.Entry {
	return log.WithField("object", "Moderator")
}

func (m *Moderator) scheduleAfter(delay time.Duration, task func(ctx context.Context)) {
	runCtx := m.getRuntimeContext()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
			task(runCtx)
		}
	}()
}

func (m *Moderator) getRuntimeContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runtimeCtx != nil {
		return m.runtimeCtx
	}
	return context.Background()
}

// deleteAfter removes a notice once ttl elapses, ignoring failures.
func (m *Moderator) deleteAfter(chatID int64, messageID int, ttl time.Duration) {
	m.scheduleAfter(ttl, func(ctx context.Context) {
		if err := m.transport.DeleteMessage(ctx, chatID, messageID); err != nil {
			m.getLogEntry().WithError(err).WithFields(log.Fields{
				"chat_id":    chatID,
				"message_id": messageID,
			}).Debug("cant delete notice")
		}
	})
}

// markBanned reserves the ban for key. Marks older than bannedMarkTTL are
// dropped on the way.
func (m *Moderator) markBanned(key verification.Key) bool {
	m.bannedMu.Lock()
	defer m.bannedMu.Unlock()
	now := m.now()
	for k, at := range m.banned {
		if now.Sub(at) >= bannedMarkTTL {
			delete(m.banned, k)
		}
	}
	if _, ok := m.banned[key]; ok {
		return false
	}
	m.banned[key] = now
	return true
}

func (m *Moderator) unmarkBanned(key verification.Key) {
	m.bannedMu.Lock()
	defer m.bannedMu.Unlock()
	delete(m.banned, key)
}

// banMember bans once per chat membership. It returns false when the user is
// already banned or the platform refused.
func (m *Moderator) banMember(ctx context.Context, chatID, userID int64) bool {
	key := verification.Key{ChatID: chatID, UserID: userID}
	if !m.markBanned(key) {
		m.getLogEntry().WithFields(log.Fields{
			"chat_id": chatID,
			"user_id": userID,
		}).Debug("user is already banned")
		return false
	}
	if err := m.transport.BanUser(ctx, chatID, userID); err != nil {
		m.getLogEntry().WithError(err).WithFields(log.Fields{
			"chat_id": chatID,
			"user_id": userID,
		}).Error("cant ban user")
		m.unmarkBanned(key)
		return false
	}
	return true
}
