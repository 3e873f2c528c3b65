package policy

import (
	"strings"

	"github.com/iamwavecut/gatewarden/internal/verdict"
)

// MessageRule returns a decision and true when it matches. Rules are
// evaluated in order and the first match wins.
type MessageRule func(p *Policy, in MessageInput) (verdict.Decision, bool)

func DefaultMessageRules() []MessageRule {
	return []MessageRule{
		UnapprovedRule,
		StopWordRule,
		LinkRule,
		MediaLogRule,
	}
}

func DefaultLinkMarkers() []string {
	return []string{
		"http://",
		"https://",
		"www.",
		"t.me/",
		"telegram.me/",
		"joinchat",
		"bit.ly/",
		"tinyurl.com/",
		"clck.ru/",
		"wa.me/",
	}
}

// UnapprovedRule drops everything sent before verification, without logging.
func UnapprovedRule(_ *Policy, in MessageInput) (verdict.Decision, bool) {
	if in.Approved {
		return verdict.Decision{}, false
	}
	return verdict.Decision{Action: verdict.ActionDeleteOnly, Reason: "unapproved"}, true
}

func StopWordRule(p *Policy, in MessageInput) (verdict.Decision, bool) {
	if strings.TrimSpace(in.Text) == "" {
		return verdict.Decision{}, false
	}
	matches := p.MatchStopWords(in.Text)
	if len(matches) == 0 {
		return verdict.Decision{}, false
	}
	return verdict.Decision{
		Action:  verdict.ActionDeleteAndWarn,
		Reason:  "stop words: " + strings.Join(matches, ", "),
		Matches: matches,
		Log:     &verdict.LogEntry{Text: in.Text, IsSpam: true},
	}, true
}

func LinkRule(p *Policy, in MessageInput) (verdict.Decision, bool) {
	if strings.TrimSpace(in.Text) == "" {
		return verdict.Decision{}, false
	}
	if !in.HasLink && !p.ContainsLink(in.Text) {
		return verdict.Decision{}, false
	}
	return verdict.Decision{Action: verdict.ActionClassify, Reason: "link"}, true
}

// MediaLogRule records media messages that made it this far as clean.
func MediaLogRule(_ *Policy, in MessageInput) (verdict.Decision, bool) {
	if !in.IsMedia {
		return verdict.Decision{}, false
	}
	text := verdict.MediaPlaceholder
	if caption := strings.TrimSpace(in.Text); caption != "" {
		text += " " + caption
	}
	return verdict.Decision{
		Action: verdict.ActionAllow,
		Log:    &verdict.LogEntry{Text: text, IsSpam: false},
	}, true
}
