package moderator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iamwavecut/gatewarden/internal/bot"
	"github.com/iamwavecut/gatewarden/internal/db"
	errs "github.com/iamwavecut/gatewarden/internal/errors"
	"github.com/iamwavecut/gatewarden/internal/policy/permissions"
	"github.com/iamwavecut/gatewarden/internal/verdict"
	"github.com/iamwavecut/gatewarden/internal/verification"
)

type sent struct {
	id     int
	chatID int64
	text   string
	opts   bot.SendOptions
}

type fakeTransport struct {
	mu           sync.Mutex
	nextID       int
	sent         []sent
	deleted      []string
	restricted   []string
	bans         []string
	unbans       []string
	edits        []string
	answers      []string
	profileImage []byte
	sendErr      error
	banErr       error
	deleteErr    error
}

func (f *fakeTransport) SendMessage(_ context.Context, chatID int64, text string, opts bot.SendOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	id := 1000 + f.nextID
	f.sent = append(f.sent, sent{id: id, chatID: chatID, text: text, opts: opts})
	return id, nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, fmt.Sprintf("%d:%d", chatID, messageID))
	return f.deleteErr
}

func (f *fakeTransport) RestrictUser(_ context.Context, chatID, userID int64, perms permissions.Set) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile := "custom"
	switch perms {
	case permissions.Restricted():
		profile = "restricted"
	case permissions.Full():
		profile = "full"
	}
	f.restricted = append(f.restricted, fmt.Sprintf("%d:%d:%s", chatID, userID, profile))
	return nil
}

func (f *fakeTransport) BanUser(_ context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans = append(f.bans, fmt.Sprintf("%d:%d", chatID, userID))
	return f.banErr
}

func (f *fakeTransport) UnbanUser(_ context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbans = append(f.unbans, fmt.Sprintf("%d:%d", chatID, userID))
	return nil
}

func (f *fakeTransport) EditMessageText(_ context.Context, chatID int64, messageID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, fmt.Sprintf("%d:%d:%s", chatID, messageID, text))
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, fmt.Sprintf("%s:%s:%v", callbackID, text, alert))
	return nil
}

func (f *fakeTransport) FetchUserProfileImage(context.Context, int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profileImage, nil
}

func (f *fakeTransport) sentTo(chatID int64) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sent {
		if s.chatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) wasDeleted(chatID int64, messageID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := fmt.Sprintf("%d:%d", chatID, messageID)
	for _, d := range f.deleted {
		if d == want {
			return true
		}
	}
	return false
}

func (f *fakeTransport) banCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bans)
}

type transportLog struct {
	sent       []sent
	deleted    []string
	restricted []string
	bans       []string
	unbans     []string
	edits      []string
	answers    []string
}

func (f *fakeTransport) snapshot() transportLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return transportLog{
		sent:       append([]sent(nil), f.sent...),
		deleted:    append([]string(nil), f.deleted...),
		restricted: append([]string(nil), f.restricted...),
		bans:       append([]string(nil), f.bans...),
		unbans:     append([]string(nil), f.unbans...),
		edits:      append([]string(nil), f.edits...),
		answers:    append([]string(nil), f.answers...),
	}
}

type logged struct {
	userID int64
	text   string
	isSpam bool
}

type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]*db.User
	logs   []logged
	getErr error
	upErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[int64]*db.User)}
}

func (s *fakeStore) put(u db.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *fakeStore) user(id int64) db.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return *u
	}
	return db.User{}
}

func (s *fakeStore) messages() []logged {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]logged(nil), s.logs...)
}

func (s *fakeStore) UpsertUser(_ context.Context, id int64, username, displayName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upErr != nil {
		return false, s.upErr
	}
	if _, ok := s.users[id]; ok {
		return false, nil
	}
	s.users[id] = &db.User{ID: id, UserName: username, DisplayName: displayName, JoinDate: time.Now()}
	return true, nil
}

func (s *fakeStore) GetUser(_ context.Context, id int64) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (s *fakeStore) SetApproved(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: approve user %d: %w", errs.ErrStorage, id, errs.ErrNotFound)
	}
	u.IsApproved = true
	return nil
}

func (s *fakeStore) IncrementWarnings(_ context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return 0, fmt.Errorf("%w: increment warnings %d: %w", errs.ErrStorage, id, errs.ErrNotFound)
	}
	u.Warnings++
	return u.Warnings, nil
}

func (s *fakeStore) AppendMessageLog(_ context.Context, userID int64, text string, isSpam bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logged{userID: userID, text: text, isSpam: isSpam})
	return int64(len(s.logs)), nil
}

type fakeClassifier struct {
	mu         sync.Mutex
	text       verdict.Verdict
	image      verdict.Verdict
	textCalls  int
	imageCalls int

	// imageEntered and imageRelease, when set, hold ClassifyImage until the
	// test releases it.
	imageEntered chan struct{}
	imageRelease chan struct{}
}

func (c *fakeClassifier) ClassifyText(context.Context, string) verdict.Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.textCalls++
	return c.text
}

func (c *fakeClassifier) ClassifyImage(context.Context, []byte) verdict.Verdict {
	c.mu.Lock()
	c.imageCalls++
	v := c.image
	entered, release := c.imageEntered, c.imageRelease
	c.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return v
}

func (c *fakeClassifier) imageCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imageCalls
}

func (m *Moderator) bannedLen() int {
	m.bannedMu.Lock()
	defer m.bannedMu.Unlock()
	return len(m.banned)
}

type fakeTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) verification.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

// fireAll runs every timer that was not stopped.
func (c *fakeClock) fireAll() {
	c.mu.Lock()
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range timers {
		t.mu.Lock()
		stopped := t.stopped
		t.stopped = true
		t.mu.Unlock()
		if !stopped {
			t.f()
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func containsText(messages []sent, substr string) bool {
	for _, m := range messages {
		if strings.Contains(m.text, substr) {
			return true
		}
	}
	return false
}
