package stt

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/sulaiman-shamasna/instant-translator/audio"
	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/model"
)

// OpenAITranscriber sends each utterance to the OpenAI transcription
// endpoint as a WAV file.
type OpenAITranscriber struct {
	client   *openai.Client
	model    string
	language string
}

func NewOpenAITranscriber(cfg config.STTConfig) (*OpenAITranscriber, error) {
	if cfg.OpenAIKey == "" {
		return nil, model.Wrap(model.ErrConfiguration, errors.New("OPENAI_API_KEY is not set"), "openai transcriber")
	}
	clientConfig := openai.DefaultConfig(cfg.OpenAIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}
	name := cfg.Model
	if name == "" {
		name = openai.Whisper1
	}
	return &OpenAITranscriber{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    name,
		language: cfg.Language,
	}, nil
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, utterance model.Utterance) (string, error) {
	wav, err := audio.EncodeWAV(utterance.PCM, utterance.SampleRate)
	if err != nil {
		return "", model.Wrap(model.ErrTranscription, err, "encode utterance %s", utterance.ID)
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Language: t.language,
	})
	if err != nil {
		return "", model.Wrap(model.ErrTranscription, err, "openai transcription of %s", utterance.ID)
	}
	return strings.TrimSpace(resp.Text), nil
}
