package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/model"
)

const systemInstructions = `You are a translation engine. Translate the user's message into %s.
Return only the translation, with no quotes, notes or explanations.
If the message is already in %s, return it unchanged.`

// ErrEmptyTranslation is returned when the model answers with no text.
var ErrEmptyTranslation = errors.New("model returned an empty translation")

type OpenAIClient struct {
	Client *openai.Client
	Model  string // Model to use for OpenAI API
}

func NewOpenAIClient(apiKey, baseURL, modelName string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, model.Wrap(model.ErrConfiguration, errors.New("OPENAI_API_KEY is not set"), "openai translator")
	}
	if modelName == "" {
		modelName = config.DefaultTranslationModel
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAIClient{
		Client: openai.NewClientWithConfig(clientConfig),
		Model:  modelName,
	}, nil
}

// NewFromConfig builds the translator from the server configuration.
func NewFromConfig(cfg config.Config) (*OpenAIClient, error) {
	return NewOpenAIClient(cfg.STT.OpenAIKey, cfg.STT.OpenAIBaseURL, cfg.Translation.Model)
}

// Translate sends one transcript and returns the model's translation.
func (c *OpenAIClient) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemInstructions, targetLanguage, targetLanguage)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		// omitempty drops a literal 0
		Temperature: math.SmallestNonzeroFloat32,
	}

	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", model.Wrap(model.ErrTranslation, err, "translate to %s", targetLanguage)
	}
	if len(resp.Choices) == 0 {
		return "", model.Wrap(model.ErrTranslation, ErrEmptyTranslation, "translate to %s", targetLanguage)
	}
	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" {
		return "", model.Wrap(model.ErrTranslation, ErrEmptyTranslation, "translate to %s", targetLanguage)
	}
	return translated, nil
}
