package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iamwavecut/gatewarden/internal/verdict"
)

var (
	validate = validator.New()

	errEmptyResponse = errors.New("empty response")
)

type textResponse struct {
	IsSpam          *bool    `json:"is_spam" validate:"required"`
	Confidence      *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
	SpamConfidence  *float64 `json:"spam_confidence"`
	Reason          string   `json:"reason"`
	ViolationTypes  []string `json:"violation_types"`
	SuggestedAction string   `json:"suggested_action" validate:"omitempty,oneof=approve warn ban"`
}

type imageResponse struct {
	IsFake     *bool    `json:"is_fake" validate:"required"`
	Confidence *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
	Reason     string   `json:"reason"`
}

// StripFences removes a markdown code fence around the reply, and any prose
// around the JSON object.
func StripFences(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

func ParseTextVerdict(reply string) (verdict.Verdict, error) {
	body := StripFences(reply)
	if body == "" {
		return verdict.Verdict{}, errEmptyResponse
	}
	var resp textResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return verdict.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if resp.Confidence == nil {
		resp.Confidence = resp.SpamConfidence
	}
	if err := validate.Struct(resp); err != nil {
		return verdict.Verdict{}, fmt.Errorf("validate verdict: %w", err)
	}
	return verdict.Verdict{
		IsSpam:          *resp.IsSpam,
		Confidence:      *resp.Confidence,
		Reason:          resp.Reason,
		Tags:            resp.ViolationTypes,
		SuggestedAction: resp.SuggestedAction,
	}, nil
}

func ParseImageVerdict(reply string) (verdict.Verdict, error) {
	body := StripFences(reply)
	if body == "" {
		return verdict.Verdict{}, errEmptyResponse
	}
	var resp imageResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return verdict.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if err := validate.Struct(resp); err != nil {
		return verdict.Verdict{}, fmt.Errorf("validate verdict: %w", err)
	}
	return verdict.Verdict{
		IsFake:     *resp.IsFake,
		Confidence: *resp.Confidence,
		Reason:     resp.Reason,
	}, nil
}
