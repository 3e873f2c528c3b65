package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/iamwavecut/gatewarden/internal/adapters/llm"
)

type API struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *log.Entry
}

const DefaultModel = "gemini-2.5-flash-lite"

var errNoCandidates = errors.New("gemini returned no candidates")

func NewGemini(ctx context.Context, apiKey, model string, logger *log.Entry) (*API, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	api := &API{
		client: client,
		logger: logger,
	}
	api.WithModel(model)
	api.WithSafetySettings(nil)
	api.WithParameters(nil)
	return api, nil
}

func (g *API) WithModel(modelName string) *API {
	if modelName == "" {
		modelName = DefaultModel
	}
	g.model = g.client.GenerativeModel(modelName)
	return g
}

func (g *API) WithParameters(parameters *llm.GenerationParameters) *API {
	if parameters == nil || *parameters == (llm.GenerationParameters{}) {
		parameters = &llm.GenerationParameters{
			Temperature:      0.2,
			TopK:             40,
			TopP:             0.95,
			MaxOutputTokens:  1024,
			ResponseMIMEType: llm.MIMETypeJSON,
		}
	}

	g.model.SetTemperature(parameters.Temperature)
	g.model.SetTopK(parameters.TopK)
	g.model.SetTopP(parameters.TopP)
	g.model.SetMaxOutputTokens(parameters.MaxOutputTokens)
	g.model.ResponseMIMEType = parameters.ResponseMIMEType

	return g
}

// WithSafetySettings disables provider side blocking so that spam samples are
// classified rather than refused.
func (g *API) WithSafetySettings(safetySettings []*genai.SafetySetting) *API {
	if len(safetySettings) == 0 {
		for _, category := range []genai.HarmCategory{
			genai.HarmCategoryDangerousContent,
			genai.HarmCategoryHarassment,
			genai.HarmCategoryHateSpeech,
			genai.HarmCategorySexuallyExplicit,
		} {
			safetySettings = append(safetySettings, &genai.SafetySetting{
				Category:  category,
				Threshold: genai.HarmBlockNone,
			})
		}
	}
	g.model.SafetySettings = safetySettings
	return g
}

func (g *API) WithSystemPrompt(prompt string) *API {
	g.model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(prompt)},
	}
	return g
}

func (g *API) ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	if len(messages) == 0 {
		return llm.ChatCompletionResponse{}, errors.New("no messages")
	}
	lastMessage, messages := messages[len(messages)-1], messages[:len(messages)-1]

	// The shared model is never mutated by a request.
	model := *g.model
	history := make([]*genai.Content, 0, len(messages))
	for _, message := range messages {
		if message.Role == llm.RoleSystem {
			model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(message.Content)},
			}
			continue
		}
		role := "user"
		if message.Role == llm.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: toParts(message),
		})
	}
	session := model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, toParts(lastMessage)...)
	if err != nil {
		return llm.ChatCompletionResponse{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.ChatCompletionResponse{}, errNoCandidates
	}

	var response strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			response.WriteString(string(text))
		}
	}

	return llm.ChatCompletionResponse{
		Choices: []llm.ChatCompletionChoice{{Message: llm.ChatCompletionMessage{
			Role:    llm.RoleAssistant,
			Content: response.String(),
		}}},
	}, nil
}

func (g *API) Close() error {
	return g.client.Close()
}

func toParts(message llm.ChatCompletionMessage) []genai.Part {
	parts := []genai.Part{genai.Text(message.Content)}
	for _, image := range message.Images {
		parts = append(parts, genai.Blob{MIMEType: image.MIMEType, Data: image.Data})
	}
	return parts
}
