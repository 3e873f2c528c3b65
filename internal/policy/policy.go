// Package policy maps message content, user state and classifier verdicts to
// enforcement decisions. Nothing here performs I/O.
package policy

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iamwavecut/gatewarden/internal/verdict"
)

type Thresholds struct {
	WarningsBeforeBan    int     `validate:"gte=1"`
	BanConfidence        float64 `validate:"gte=0,lte=1,gtefield=ReportConfidence"`
	ReportConfidence     float64 `validate:"gte=0,lte=1"`
	FakeAvatarConfidence float64 `validate:"gte=0,lte=1"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningsBeforeBan:    3,
		BanConfidence:        0.8,
		ReportConfidence:     0.6,
		FakeAvatarConfidence: 0.85,
	}
}

// MessageInput is the part of an inbound message the screening rules look at.
type MessageInput struct {
	Text     string
	IsMedia  bool
	HasLink  bool
	Approved bool
}

type Policy struct {
	thresholds  Thresholds
	stopWords   []string
	linkMarkers []string
	rules       []MessageRule
}

func New(thresholds Thresholds, stopWords []string) *Policy {
	p := &Policy{
		thresholds:  thresholds,
		linkMarkers: DefaultLinkMarkers(),
		rules:       DefaultMessageRules(),
	}
	for _, word := range stopWords {
		word = strings.TrimSpace(Normalize(word))
		if word == "" || slices.Contains(p.stopWords, word) {
			continue
		}
		p.stopWords = append(p.stopWords, word)
	}
	return p
}

func (p *Policy) Thresholds() Thresholds {
	return p.thresholds
}

func (p *Policy) StopWords() []string {
	return slices.Clone(p.stopWords)
}

// EvaluateJoin is only called for human members, bots are skipped upstream.
func (p *Policy) EvaluateJoin(isBot bool) verdict.JoinDecision {
	if isBot {
		return verdict.JoinDecision{}
	}
	return verdict.JoinDecision{Restrict: true, RequireVerification: true}
}

func (p *Policy) EvaluateProfileImage(v verdict.Verdict) verdict.Decision {
	if v.IsFake && v.Confidence > p.thresholds.FakeAvatarConfidence {
		return verdict.Decision{Action: verdict.ActionReport, Reason: v.Reason}
	}
	return verdict.Decision{Action: verdict.ActionAllow}
}

// Screen runs the message rules in priority order and returns the first
// decision. ActionClassify means the text has to go through the classifier
// and the verdict through Judge.
func (p *Policy) Screen(in MessageInput) verdict.Decision {
	for _, rule := range p.rules {
		if d, ok := rule(p, in); ok {
			return d
		}
	}
	return verdict.Decision{Action: verdict.ActionAllow}
}

// Judge maps a classifier verdict to an action. The report bucket is
// inclusive on both ends.
func (p *Policy) Judge(v verdict.Verdict) verdict.Decision {
	d := verdict.Decision{Action: verdict.ActionAllow, Reason: v.Reason, Confidence: v.Confidence}
	if !v.IsSpam {
		return d
	}
	switch {
	case v.Confidence > p.thresholds.BanConfidence:
		d.Action = verdict.ActionBan
	case v.Confidence >= p.thresholds.ReportConfidence:
		d.Action = verdict.ActionDeleteAndReport
	}
	return d
}

// EvaluateMessage screens the message and, when a verdict is supplied for a
// message that needs one, judges it. A nil verdict leaves ActionClassify as is.
func (p *Policy) EvaluateMessage(in MessageInput, v *verdict.Verdict) verdict.Decision {
	d := p.Screen(in)
	if d.Action != verdict.ActionClassify || v == nil {
		return d
	}
	judged := p.Judge(*v)
	if judged.Action != verdict.ActionAllow {
		judged.Log = &verdict.LogEntry{Text: in.Text, IsSpam: true}
	}
	return judged
}

// WarningOutcome decides what follows a stop-word hit once the warning counter
// has been incremented to count.
func (p *Policy) WarningOutcome(count int) verdict.Action {
	if count >= p.thresholds.WarningsBeforeBan {
		return verdict.ActionBan
	}
	return verdict.ActionWarn
}

func (p *Policy) MatchStopWords(text string) []string {
	return MatchWords(text, p.stopWords)
}

func (p *Policy) ContainsLink(text string) bool {
	normalized := Normalize(text)
	for _, marker := range p.linkMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

func (t Thresholds) Validate() error {
	if err := validator.New().Struct(t); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}
	return nil
}

func (t Thresholds) String() string {
	return fmt.Sprintf("warnings=%d ban>%.2f report>=%.2f fake>%.2f",
		t.WarningsBeforeBan, t.BanConfidence, t.ReportConfidence, t.FakeAvatarConfidence)
}
