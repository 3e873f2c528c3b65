// Package classifier turns the external language model into text and image
// verdicts. Every failure yields a maximal suspicion verdict.
package classifier

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iamwavecut/gatewarden/internal/adapters"
	"github.com/iamwavecut/gatewarden/internal/adapters/llm"
	errs "github.com/iamwavecut/gatewarden/internal/errors"
	"github.com/iamwavecut/gatewarden/internal/observability"
	"github.com/iamwavecut/gatewarden/internal/policy"
	"github.com/iamwavecut/gatewarden/internal/verdict"
)

const (
	DefaultTimeout = 30 * time.Second

	kindText  = "text"
	kindImage = "image"

	fallbackWeight = 0.3
	fallbackTag    = "keyword_match"
)

type Gateway struct {
	model     adapters.LLM
	stopWords []string
	timeout   time.Duration
	tracer    trace.Tracer
	logger    *log.Entry
}

type Option func(*Gateway)

func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// WithStopWords sets the denylist used by the local fallback. Words are
// normalized the same way message text is.
func WithStopWords(words []string) Option {
	return func(g *Gateway) {
		g.stopWords = nil
		for _, word := range words {
			if word = strings.TrimSpace(policy.Normalize(word)); word != "" {
				g.stopWords = append(g.stopWords, word)
			}
		}
	}
}

// NewGateway wraps model. A nil model switches text classification to the
// keyword fallback and disables image checks.
func NewGateway(model adapters.LLM, opts ...Option) *Gateway {
	g := &Gateway{
		model:   model,
		timeout: DefaultTimeout,
		tracer:  otel.Tracer("github.com/iamwavecut/gatewarden/internal/classifier"),
		logger:  log.WithField("object", "Classifier"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Available() bool {
	return g.model != nil
}

func (g *Gateway) ClassifyText(ctx context.Context, text string) verdict.Verdict {
	entry := g.logger.WithField("method", "ClassifyText")
	if g.model == nil {
		v := LocalFallback(text, g.stopWords)
		observability.RecordClassification(kindText, "fallback")
		return v
	}

	ctx, span := g.tracer.Start(ctx, "classifier.text")
	defer span.End()
	defer observability.StartClassification(kindText)()

	reply, err := g.complete(ctx, llm.ChatCompletionMessage{Role: llm.RoleSystem, Content: textInstruction},
		llm.ChatCompletionMessage{Role: llm.RoleUser, Content: text})
	var v verdict.Verdict
	if err == nil {
		v, err = ParseTextVerdict(reply)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", errs.ErrClassifier, err)
		entry.WithField("error", err.Error()).Warn("text classification failed, assuming spam")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordClassification(kindText, "error")
		return verdict.Verdict{IsSpam: true, Confidence: 1.0, Reason: err.Error()}
	}

	span.SetAttributes(
		attribute.Bool("verdict.is_spam", v.IsSpam),
		attribute.Float64("verdict.confidence", v.Confidence),
	)
	observability.RecordClassification(kindText, "ok")
	entry.WithFields(log.Fields{
		"is_spam":    v.IsSpam,
		"confidence": v.Confidence,
		"tags":       v.Tags,
	}).Debug("text classified")
	return v
}

func (g *Gateway) ClassifyImage(ctx context.Context, image []byte) verdict.Verdict {
	entry := g.logger.WithField("method", "ClassifyImage")
	if g.model == nil {
		observability.RecordClassification(kindImage, "fallback")
		return verdict.Verdict{Reason: "image analysis unavailable"}
	}

	ctx, span := g.tracer.Start(ctx, "classifier.image")
	defer span.End()
	defer observability.StartClassification(kindImage)()

	var (
		v   verdict.Verdict
		err error
	)
	if len(image) == 0 {
		err = errs.ErrInvalidInput
	} else {
		var reply string
		reply, err = g.complete(ctx, llm.ChatCompletionMessage{Role: llm.RoleSystem, Content: imageInstruction},
			llm.ChatCompletionMessage{
				Role:    llm.RoleUser,
				Content: "Profile picture of the new member:",
				Images:  []llm.Image{{MIMEType: http.DetectContentType(image), Data: image}},
			})
		if err == nil {
			v, err = ParseImageVerdict(reply)
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", errs.ErrClassifier, err)
		entry.WithField("error", err.Error()).Warn("image classification failed, assuming fake")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordClassification(kindImage, "error")
		return verdict.Verdict{IsFake: true, Confidence: 1.0, Reason: err.Error()}
	}

	span.SetAttributes(
		attribute.Bool("verdict.is_fake", v.IsFake),
		attribute.Float64("verdict.confidence", v.Confidence),
	)
	observability.RecordClassification(kindImage, "ok")
	return v
}

func (g *Gateway) complete(ctx context.Context, messages ...llm.ChatCompletionMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.ChatCompletion(ctx, messages)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// LocalFallback is the keyword only classifier. words must be normalized.
func LocalFallback(text string, words []string) verdict.Verdict {
	matches := policy.MatchWords(text, words)
	if len(matches) == 0 {
		return verdict.Verdict{Reason: "no suspicious keywords found"}
	}
	return verdict.Verdict{
		IsSpam:          true,
		Confidence:      math.Min(fallbackWeight*float64(len(matches)), 1.0),
		Reason:          "keyword match: " + strings.Join(matches, ", "),
		Tags:            []string{fallbackTag},
		SuggestedAction: "warn",
	}
}
