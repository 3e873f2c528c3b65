// Package verification tracks pending join verifications. A session is
// resolved exactly once: either by Confirm or by its deadline, whichever
// removes it from the registry first.
package verification

import (
	"errors"
	"sync"
	"time"

	"github.com/pborman/uuid"
)

const DefaultTimeout = 120 * time.Second

var (
	ErrDuplicateSession = errors.New("verification session already exists")
	ErrClosed           = errors.New("verification manager is closed")
)

type Key struct {
	ChatID int64
	UserID int64
}

type Session struct {
	ID              string
	Key             Key
	PromptMessageID int
	CreatedAt       time.Time

	timer Timer
}

// Timer is the cancellable deadline handle of a session.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

type Option func(*Manager)

// WithAfterFunc replaces time.AfterFunc, mostly for tests.
func WithAfterFunc(afterFunc AfterFunc) Option {
	return func(m *Manager) {
		m.afterFunc = afterFunc
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

type Manager struct {
	mu        sync.Mutex
	sessions  map[Key]*Session
	closed    bool
	timeout   time.Duration
	onExpire  func(Session)
	afterFunc AfterFunc
	now       func() time.Time
}

// NewManager creates a registry whose sessions expire after timeout. onExpire
// runs on the timer goroutine, only for sessions that were not confirmed.
func NewManager(timeout time.Duration, onExpire func(Session), opts ...Option) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Manager{
		sessions: make(map[Key]*Session),
		timeout:  timeout,
		onExpire: onExpire,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Open registers a session and starts its deadline.
func (m *Manager) Open(chatID, userID int64, promptMessageID int) (Key, error) {
	key := Key{ChatID: chatID, UserID: userID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return key, ErrClosed
	}
	if _, ok := m.sessions[key]; ok {
		return key, ErrDuplicateSession
	}
	s := &Session{
		ID:              uuid.New(),
		Key:             key,
		PromptMessageID: promptMessageID,
		CreatedAt:       m.now(),
	}
	s.timer = m.afterFunc(m.timeout, func() { m.expire(s) })
	m.sessions[key] = s
	return key, nil
}

// SetPrompt attaches the prompt message sent after the session was opened.
func (m *Manager) SetPrompt(chatID, userID int64, messageID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[Key{ChatID: chatID, UserID: userID}]
	if !ok {
		return false
	}
	s.PromptMessageID = messageID
	return true
}

// Confirm resolves the session in favour of the user. It returns false when
// the session has already expired, was cancelled or never existed.
func (m *Manager) Confirm(chatID, userID int64) (Session, bool) {
	return m.remove(Key{ChatID: chatID, UserID: userID})
}

// Cancel drops the session without firing the expiry callback.
func (m *Manager) Cancel(chatID, userID int64) bool {
	_, ok := m.remove(Key{ChatID: chatID, UserID: userID})
	return ok
}

func (m *Manager) Pending(chatID, userID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[Key{ChatID: chatID, UserID: userID}]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops all deadlines and returns the sessions that were still open.
func (m *Manager) Close() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	dropped := make([]Session, 0, len(m.sessions))
	for key, s := range m.sessions {
		s.timer.Stop()
		delete(m.sessions, key)
		dropped = append(dropped, *s)
	}
	return dropped
}

func (m *Manager) remove(key Key) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return Session{}, false
	}
	delete(m.sessions, key)
	s.timer.Stop()
	return *s, true
}

// expire removes s only if it is still the registered session for its key,
// so an old timer never resolves a newer session of a rejoined user.
func (m *Manager) expire(s *Session) {
	m.mu.Lock()
	current, ok := m.sessions[s.Key]
	if !ok || current != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.Key)
	snapshot := *s
	m.mu.Unlock()

	if m.onExpire != nil {
		m.onExpire(snapshot)
	}
}
