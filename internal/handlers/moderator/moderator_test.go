package moderator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/gatewarden/internal/bot"
	"github.com/iamwavecut/gatewarden/internal/db"
	errs "github.com/iamwavecut/gatewarden/internal/errors"
	"github.com/iamwavecut/gatewarden/internal/policy"
	"github.com/iamwavecut/gatewarden/internal/verdict"
	"github.com/iamwavecut/gatewarden/internal/verification"
)

const (
	testChatID  int64 = -100500
	testAdminID int64 = 777
	aliceID     int64 = 42
	bobID       int64 = 43
)

var (
	alice = api.User{ID: aliceID, FirstName: "Alice", UserName: "alice"}
	bob   = api.User{ID: bobID, FirstName: "Bob", UserName: "bob"}
)

type harness struct {
	m          *Moderator
	transport  *fakeTransport
	store      *fakeStore
	classifier *fakeClassifier
	clock      *fakeClock
	nextMsgID  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		transport:  &fakeTransport{},
		store:      newFakeStore(),
		classifier: &fakeClassifier{},
		clock:      &fakeClock{},
	}
	p := policy.New(policy.DefaultThresholds(), []string{"приват", "жми на ссылку", "casino"})
	h.m = New(h.transport, h.store, h.classifier, p, Config{
		AdminID:             testAdminID,
		Language:            "en",
		VerificationTimeout: 120 * time.Second,
		WarningNoticeTTL:    time.Millisecond,
		SuccessNoticeTTL:    time.Millisecond,
		CheckProfilePhotos:  true,
	}, WithSessionOptions(verification.WithAfterFunc(h.clock.AfterFunc)))

	if err := h.m.Start(context.Background()); err != nil {
		t.Fatalf("start moderator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.m.Stop(ctx); err != nil {
			t.Errorf("stop moderator: %v", err)
		}
	})
	return h
}

func (h *harness) handle(t *testing.T, u *api.Update) error {
	t.Helper()
	chat, user := bot.ResolveChatAndUser(u)
	_, err := h.m.Handle(context.Background(), u, chat, user)
	return err
}

func (h *harness) mustHandle(t *testing.T, u *api.Update) {
	t.Helper()
	if err := h.handle(t, u); err != nil {
		t.Fatalf("handle: %v", err)
	}
}

func joinUpdate(user api.User) *api.Update {
	member := user
	return &api.Update{ChatMember: &api.ChatMemberUpdated{
		Chat:          api.Chat{ID: testChatID, Type: "supergroup"},
		From:          member,
		OldChatMember: api.ChatMember{Status: "left", User: &member},
		NewChatMember: api.ChatMember{Status: "member", User: &member},
	}}
}

func clickUpdate(from api.User, targetID int64, promptID int) *api.Update {
	clicker := from
	return &api.Update{CallbackQuery: &api.CallbackQuery{
		ID:   "cb",
		From: &clicker,
		Data: bot.VerifyCallbackData(targetID),
		Message: &api.Message{
			MessageID: promptID,
			Chat:      api.Chat{ID: testChatID, Type: "supergroup"},
		},
	}}
}

func (h *harness) messageUpdate(from api.User, text string) *api.Update {
	h.nextMsgID++
	sender := from
	return &api.Update{Message: &api.Message{
		MessageID: h.nextMsgID,
		From:      &sender,
		Chat:      api.Chat{ID: testChatID, Type: "supergroup"},
		Text:      text,
	}}
}

func (h *harness) approved(user api.User, warnings int) {
	h.store.put(db.User{ID: user.ID, UserName: user.UserName, IsApproved: true, Warnings: warnings})
}

func (h *harness) promptFor(t *testing.T, userID int64) sent {
	t.Helper()
	for _, s := range h.transport.sentTo(testChatID) {
		if len(s.opts.Buttons) == 1 && len(s.opts.Buttons[0]) == 1 && s.opts.Buttons[0][0].Data == bot.VerifyCallbackData(userID) {
			return s
		}
	}
	t.Fatalf("no verification prompt for user %d", userID)
	return sent{}
}

func TestJoinAndVerify(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mustHandle(t, joinUpdate(alice))

	log := h.transport.snapshot()
	if len(log.restricted) != 1 || log.restricted[0] != fmt.Sprintf("%d:%d:restricted", testChatID, aliceID) {
		t.Fatalf("expected text-only restriction, got %v", log.restricted)
	}
	prompt := h.promptFor(t, aliceID)
	if !strings.Contains(prompt.text, "@alice") || !strings.Contains(prompt.text, "2 min.") {
		t.Fatalf("unexpected prompt text %q", prompt.text)
	}
	if prompt.opts.Buttons[0][0].Text != "I'm not a bot 🤖" {
		t.Fatalf("unexpected button %q", prompt.opts.Buttons[0][0].Text)
	}
	if !h.m.Pending(testChatID, aliceID) {
		t.Fatalf("verification must be pending")
	}
	if stored := h.store.user(aliceID); stored.ID != aliceID || stored.IsApproved {
		t.Fatalf("unexpected stored user %+v", stored)
	}

	h.mustHandle(t, clickUpdate(alice, aliceID, prompt.id))

	log = h.transport.snapshot()
	if len(log.restricted) != 2 || log.restricted[1] != fmt.Sprintf("%d:%d:full", testChatID, aliceID) {
		t.Fatalf("expected full permissions, got %v", log.restricted)
	}
	if !h.store.user(aliceID).IsApproved {
		t.Fatalf("user must be approved")
	}
	if !h.transport.wasDeleted(testChatID, prompt.id) {
		t.Fatalf("prompt must be deleted")
	}
	if h.m.Pending(testChatID, aliceID) {
		t.Fatalf("verification must be resolved")
	}

	var noticeID int
	for _, s := range h.transport.sentTo(testChatID) {
		if strings.Contains(s.text, "has been verified") {
			noticeID = s.id
		}
	}
	if noticeID == 0 {
		t.Fatalf("no success notice")
	}
	waitFor(t, "success notice deletion", func() bool {
		return h.transport.wasDeleted(testChatID, noticeID)
	})

	h.clock.fireAll()
	if h.transport.banCount() != 0 {
		t.Fatalf("confirmed member must not be kicked")
	}
}

func TestVerificationTimeoutKicks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mustHandle(t, joinUpdate(alice))
	prompt := h.promptFor(t, aliceID)

	h.clock.fireAll()

	log := h.transport.snapshot()
	key := fmt.Sprintf("%d:%d", testChatID, aliceID)
	if len(log.bans) != 1 || log.bans[0] != key || len(log.unbans) != 1 || log.unbans[0] != key {
		t.Fatalf("expected ban and unban, got bans=%v unbans=%v", log.bans, log.unbans)
	}
	if !h.transport.wasDeleted(testChatID, prompt.id) {
		t.Fatalf("prompt must be deleted")
	}
	if !containsText(h.transport.sentTo(testChatID), "@alice did not pass verification within 2 min.") {
		t.Fatalf("no timeout notice in %v", log.sent)
	}
	if h.m.Pending(testChatID, aliceID) {
		t.Fatalf("session must be removed")
	}

	h.mustHandle(t, clickUpdate(alice, aliceID, prompt.id))
	log = h.transport.snapshot()
	if len(log.edits) != 1 || !strings.Contains(log.edits[0], "expired") {
		t.Fatalf("expected stale prompt edit, got %v", log.edits)
	}
	if h.store.user(aliceID).IsApproved {
		t.Fatalf("late click must not approve")
	}
	for _, r := range log.restricted {
		if strings.HasSuffix(r, ":full") {
			t.Fatalf("late click must not restore permissions")
		}
	}
}

func TestForeignClickIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mustHandle(t, joinUpdate(alice))
	prompt := h.promptFor(t, aliceID)
	h.mustHandle(t, clickUpdate(bob, aliceID, prompt.id))

	log := h.transport.snapshot()
	if len(log.answers) != 1 || log.answers[0] != "cb:This button is not for you!:true" {
		t.Fatalf("unexpected answers %v", log.answers)
	}
	if !h.m.Pending(testChatID, aliceID) {
		t.Fatalf("foreign click must not resolve the session")
	}
	if h.store.user(aliceID).IsApproved || len(log.restricted) != 1 {
		t.Fatalf("foreign click must not approve")
	}
}

func serviceJoinUpdate(user api.User) *api.Update {
	member := user
	return &api.Update{Message: &api.Message{
		MessageID:      1,
		From:           &member,
		Chat:           api.Chat{ID: testChatID, Type: "supergroup"},
		NewChatMembers: []api.User{member},
	}}
}

func TestDuplicateJoinOpensOneSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mustHandle(t, joinUpdate(alice))
	h.mustHandle(t, joinUpdate(alice))
	h.mustHandle(t, serviceJoinUpdate(alice))

	prompts := 0
	for _, s := range h.transport.sentTo(testChatID) {
		if len(s.opts.Buttons) > 0 {
			prompts++
		}
	}
	if prompts != 1 {
		t.Fatalf("expected one prompt, got %d", prompts)
	}
	if len(h.clock.timers) != 1 {
		t.Fatalf("expected one deadline, got %d", len(h.clock.timers))
	}
	if got := h.transport.snapshot().restricted; len(got) != 1 {
		t.Fatalf("expected one restriction, got %v", got)
	}
}

func TestJoinServiceMessageAfterConfirmIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mustHandle(t, joinUpdate(alice))
	h.mustHandle(t, clickUpdate(alice, aliceID, h.promptFor(t, aliceID).id))
	h.mustHandle(t, serviceJoinUpdate(alice))

	log := h.transport.snapshot()
	want := []string{
		fmt.Sprintf("%d:%d:restricted", testChatID, aliceID),
		fmt.Sprintf("%d:%d:full", testChatID, aliceID),
	}
	if len(log.restricted) != len(want) || log.restricted[0] != want[0] || log.restricted[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, log.restricted)
	}
	if h.m.Pending(testChatID, aliceID) {
		t.Fatalf("service message must not open a verification")
	}
	if h.transport.wasDeleted(testChatID, 1) {
		t.Fatalf("service message must not be screened")
	}

	h.clock.fireAll()
	if h.transport.banCount() != 0 {
		t.Fatalf("verified member must not be kicked, bans=%v", h.transport.snapshot().bans)
	}
}

func TestConcurrentJoinUpdatesClassifyOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.transport.profileImage = []byte{0xff, 0xd8, 0xff}
	h.classifier.image = verdict.Verdict{IsFake: true, Confidence: 0.95, Reason: "stock photo"}
	h.classifier.imageEntered = make(chan struct{}, 2)
	h.classifier.imageRelease = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		first <- h.handle(t, joinUpdate(alice))
	}()
	<-h.classifier.imageEntered

	// the first join is still classifying the avatar
	h.mustHandle(t, joinUpdate(alice))
	close(h.classifier.imageRelease)
	if err := <-first; err != nil {
		t.Fatalf("first join: %v", err)
	}

	if got := h.classifier.imageCallCount(); got != 1 {
		t.Fatalf("expected one image classification, got %d", got)
	}
	reports := 0
	for _, s := range h.transport.sentTo(testAdminID) {
		if strings.Contains(s.text, "Fake avatar detected") {
			reports++
		}
	}
	if reports != 1 {
		t.Fatalf("expected one fake avatar report, got %d", reports)
	}
	if got := h.transport.snapshot().restricted; len(got) != 1 {
		t.Fatalf("expected one restriction, got %v", got)
	}
}

func TestJoinSkipsBots(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mustHandle(t, joinUpdate(api.User{ID: 99, IsBot: true, UserName: "helper_bot"}))

	log := h.transport.snapshot()
	if len(log.sent) != 0 || len(log.restricted) != 0 {
		t.Fatalf("bots must be skipped, got %+v", log)
	}
	if h.store.user(99).ID != 0 {
		t.Fatalf("bots must not be stored")
	}
}

func TestJoinStorageErrorIsReturnedAndReported(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.upErr = fmt.Errorf("%w: disk is full", errs.ErrStorage)

	u := joinUpdate(alice)
	err := h.handle(t, u)
	if !errors.Is(err, errs.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if h.m.Pending(testChatID, aliceID) || len(h.transport.sentTo(testChatID)) != 0 {
		t.Fatalf("join must be aborted")
	}

	h.m.ReportError(context.Background(), &u.ChatMember.Chat, err)
	if !containsText(h.transport.sentTo(testAdminID), "Error while processing new member 42") {
		t.Fatalf("admin must be told about the failed member")
	}
}

func TestPromptFailureCancelsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.transport.sendErr = fmt.Errorf("%w: forbidden", errs.ErrTransport)

	h.mustHandle(t, joinUpdate(alice))
	if h.m.Pending(testChatID, aliceID) {
		t.Fatalf("session must be cancelled when the prompt cannot be sent")
	}
}

func TestFakeAvatarIsReported(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		confidence float64
		want       bool
	}{
		{name: "above threshold", confidence: 0.9, want: true},
		{name: "at threshold", confidence: 0.85, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.transport.profileImage = []byte{0xff, 0xd8, 0xff}
			h.classifier.image = verdict.Verdict{IsFake: true, Confidence: tt.confidence, Reason: "stock photo"}

			h.mustHandle(t, joinUpdate(alice))

			got := containsText(h.transport.sentTo(testAdminID), "Fake avatar detected")
			if got != tt.want {
				t.Fatalf("report = %v, want %v", got, tt.want)
			}
			if tt.want && !containsText(h.transport.sentTo(testAdminID), "stock photo") {
				t.Fatalf("report must carry the reason")
			}
			if !h.m.Pending(testChatID, aliceID) {
				t.Fatalf("verification continues regardless of the avatar")
			}
		})
	}
}

func TestStopWordWarns(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.approved(alice, 0)

	u := h.messageUpdate(alice, "приват, жми на ссылку")
	h.mustHandle(t, u)

	if !h.transport.wasDeleted(testChatID, u.Message.MessageID) {
		t.Fatalf("message must be deleted")
	}
	if got := h.store.user(aliceID).Warnings; got != 1 {
		t.Fatalf("expected 1 warning, got %d", got)
	}
	logs := h.store.messages()
	if len(logs) != 1 || !logs[0].isSpam || logs[0].text != "приват, жми на ссылку" {
		t.Fatalf("unexpected message log %+v", logs)
	}
	if h.transport.banCount() != 0 {
		t.Fatalf("first warning must not ban")
	}
	if h.classifier.textCalls != 0 {
		t.Fatalf("stop words must not reach the classifier")
	}

	var noticeID int
	for _, s := range h.transport.sentTo(testChatID) {
		if strings.Contains(s.text, "Warning 1/3") {
			noticeID = s.id
		}
	}
	if noticeID == 0 {
		t.Fatalf("no warning notice")
	}
	waitFor(t, "warning notice deletion", func() bool {
		return h.transport.wasDeleted(testChatID, noticeID)
	})
}

func TestThirdWarningBans(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.approved(alice, 2)

	u := h.messageUpdate(alice, "заходи в приват")
	h.mustHandle(t, u)

	if !h.transport.wasDeleted(testChatID, u.Message.MessageID) {
		t.Fatalf("message must be deleted")
	}
	if got := h.store.user(aliceID).Warnings; got != 3 {
		t.Fatalf("expected 3 warnings, got %d", got)
	}
	if h.transport.banCount() != 1 {
		t.Fatalf("expected one ban, got %d", h.transport.banCount())
	}
	chat := h.transport.sentTo(testChatID)
	if !containsText(chat, "@alice was banned for spam (3 warnings).") {
		t.Fatalf("no chat ban notice in %+v", chat)
	}
	if containsText(chat, "Warning") {
		t.Fatalf("ban must not be accompanied by a warning notice")
	}
	if !containsText(h.transport.sentTo(testAdminID), "was banned in chat -100500 for spam") {
		t.Fatalf("no admin ban notice")
	}
}

func TestClassifierBan(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.approved(alice, 0)
	h.classifier.text = verdict.Verdict{IsSpam: true, Confidence: 0.9, Reason: "crypto scam"}

	u := h.messageUpdate(alice, "earn fast https://scam.example")
	h.mustHandle(t, u)

	if h.classifier.textCalls != 1 {
		t.Fatalf("expected one classifier call, got %d", h.classifier.textCalls)
	}
	if !h.transport.wasDeleted(testChatID, u.Message.MessageID) {
		t.Fatalf("message must be deleted")
	}
	if h.transport.banCount() != 1 {
		t.Fatalf("expected ban")
	}
	admin := h.transport.sentTo(testAdminID)
	if !containsText(admin, "Reason: crypto scam") || !containsText(admin, "Message: earn fast https://scam.example") {
		t.Fatalf("admin notice must carry reason and text: %+v", admin)
	}
	logs := h.store.messages()
	if len(logs) != 1 || !logs[0].isSpam {
		t.Fatalf("banned message must be logged as spam: %+v", logs)
	}
	if h.store.user(aliceID).Warnings != 0 {
		t.Fatalf("classifier ban must not touch warnings")
	}
}

func TestClassifierReviewAndAllow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		confidence float64
		deleted    bool
		review     bool
		logged     bool
	}{
		{name: "review bucket", confidence: 0.7, deleted: true, review: true, logged: true},
		{name: "upper boundary", confidence: 0.8, deleted: true, review: true, logged: true},
		{name: "allow", confidence: 0.3, deleted: false, review: false, logged: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.approved(alice, 0)
			h.classifier.text = verdict.Verdict{IsSpam: true, Confidence: tt.confidence, Reason: "looks odd"}

			u := h.messageUpdate(alice, "see t.me/somechannel")
			h.mustHandle(t, u)

			if got := h.transport.wasDeleted(testChatID, u.Message.MessageID); got != tt.deleted {
				t.Fatalf("deleted = %v, want %v", got, tt.deleted)
			}
			if got := containsText(h.transport.sentTo(testAdminID), "Suspicious message for review"); got != tt.review {
				t.Fatalf("review = %v, want %v", got, tt.review)
			}
			if tt.review && !containsText(h.transport.sentTo(testAdminID), fmt.Sprintf("Confidence: %.2f", tt.confidence)) {
				t.Fatalf("review must carry the confidence")
			}
			if got := len(h.store.messages()) == 1; got != tt.logged {
				t.Fatalf("logged = %v, want %v", got, tt.logged)
			}
			if h.transport.banCount() != 0 {
				t.Fatalf("no ban below the ban threshold")
			}
		})
	}
}

func TestStopWordWinsOverLink(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.approved(alice, 0)
	h.classifier.text = verdict.Verdict{IsSpam: true, Confidence: 1}

	h.mustHandle(t, h.messageUpdate(alice, "casino https://x.example"))

	if h.classifier.textCalls != 0 {
		t.Fatalf("classifier must not be called")
	}
	if h.store.user(aliceID).Warnings != 1 || h.transport.banCount() != 0 {
		t.Fatalf("expected a warning only")
	}
}

func TestUnapprovedMessagesAreDeletedSilently(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.put(db.User{ID: aliceID, UserName: "alice"})

	u := h.messageUpdate(alice, "casino https://x.example")
	h.mustHandle(t, u)

	if !h.transport.wasDeleted(testChatID, u.Message.MessageID) {
		t.Fatalf("message must be deleted")
	}
	if len(h.store.messages()) != 0 || h.classifier.textCalls != 0 || h.store.user(aliceID).Warnings != 0 {
		t.Fatalf("unapproved messages must not be logged, classified or counted")
	}
	if len(h.transport.sentTo(testChatID)) != 0 {
		t.Fatalf("no notices for unapproved messages")
	}
}

func TestUnknownUsersAndPrivateChatsAreIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mustHandle(t, h.messageUpdate(alice, "casino"))

	h.approved(bob, 0)
	private := h.messageUpdate(bob, "casino")
	private.Message.Chat = api.Chat{ID: bobID, Type: "private"}
	h.mustHandle(t, private)

	helper := api.User{ID: 5, IsBot: true}
	h.store.put(db.User{ID: 5, IsApproved: true})
	h.mustHandle(t, h.messageUpdate(helper, "casino"))

	log := h.transport.snapshot()
	if len(log.deleted) != 0 || len(log.sent) != 0 {
		t.Fatalf("nothing must happen, got %+v", log)
	}
}

func TestMediaIsLoggedWithPlaceholder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.approved(alice, 0)

	u := h.messageUpdate(alice, "")
	u.Message.Photo = []api.PhotoSize{{FileID: "photo"}}
	u.Message.Caption = "our cat"
	h.mustHandle(t, u)

	logs := h.store.messages()
	if len(logs) != 1 || logs[0].text != verdict.MediaPlaceholder+" our cat" || logs[0].isSpam {
		t.Fatalf("unexpected log %+v", logs)
	}
	if h.transport.wasDeleted(testChatID, u.Message.MessageID) {
		t.Fatalf("clean media must stay")
	}
}

func TestMessageStorageErrorIsReturned(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.getErr = fmt.Errorf("%w: connection refused", errs.ErrStorage)

	err := h.handle(t, h.messageUpdate(alice, "hello"))
	if !errors.Is(err, errs.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestConcurrentSpamBansOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.approved(alice, 2)

	updates := []*api.Update{
		h.messageUpdate(alice, "приват"),
		h.messageUpdate(alice, "casino"),
		h.messageUpdate(alice, "жми на ссылку"),
	}

	var wg sync.WaitGroup
	for _, u := range updates {
		wg.Add(1)
		go func(u *api.Update) {
			defer wg.Done()
			chat, user := bot.ResolveChatAndUser(u)
			if _, err := h.m.Handle(context.Background(), u, chat, user); err != nil {
				t.Errorf("handle: %v", err)
			}
		}(u)
	}
	wg.Wait()

	if got := h.store.user(aliceID).Warnings; got != 5 {
		t.Fatalf("expected 5 warnings, got %d", got)
	}
	if h.transport.banCount() != 1 {
		t.Fatalf("expected exactly one ban, got %d", h.transport.banCount())
	}
}

func TestRejoinClearsBanMark(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.approved(alice, 2)

	h.mustHandle(t, h.messageUpdate(alice, "casino"))
	h.mustHandle(t, joinUpdate(alice))
	h.mustHandle(t, h.messageUpdate(alice, "casino"))

	// the stored user keeps approval, so the second stop word bans again
	if h.transport.banCount() != 2 {
		t.Fatalf("expected a second ban after rejoin, got %d", h.transport.banCount())
	}
}

func TestBanMarksExpire(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.m.bannedMu.Lock()
	h.m.now = func() time.Time { return now }
	h.m.bannedMu.Unlock()

	alicePair := verification.Key{ChatID: testChatID, UserID: aliceID}
	bobPair := verification.Key{ChatID: testChatID, UserID: bobID}
	if !h.m.markBanned(alicePair) {
		t.Fatalf("first mark must succeed")
	}
	if h.m.markBanned(alicePair) {
		t.Fatalf("fresh mark must suppress a second ban")
	}

	now = now.Add(bannedMarkTTL)
	if !h.m.markBanned(bobPair) {
		t.Fatalf("mark for another member must succeed")
	}
	if got := h.m.bannedLen(); got != 1 {
		t.Fatalf("expired marks must be pruned, got %d entries", got)
	}
	if !h.m.markBanned(alicePair) {
		t.Fatalf("expired mark must not suppress a new ban")
	}
}

func TestReportErrorNotifiesAdmin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.m.ReportError(context.Background(), nil, errors.New("boom"))
	if !containsText(h.transport.sentTo(testAdminID), "An error occurred in the bot:\n\nboom") {
		t.Fatalf("no admin error notice")
	}
	h.m.ReportError(context.Background(), nil, nil)
	if len(h.transport.sentTo(testAdminID)) != 1 {
		t.Fatalf("nil errors must not be reported")
	}
}

func TestStopDropsPendingVerifications(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.mustHandle(t, joinUpdate(alice))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.m.Pending(testChatID, aliceID) {
		t.Fatalf("sessions must be dropped on stop")
	}
	h.clock.fireAll()
	if h.transport.banCount() != 0 {
		t.Fatalf("stopped timers must not kick")
	}
}
