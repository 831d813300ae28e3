// Package stt turns segmented utterances into text.
package stt

import (
	"context"
	"fmt"

	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/model"
)

//go:generate mockgen -destination=mock_stt/mock_transcriber.go -package=mock_stt github.com/sulaiman-shamasna/instant-translator/stt Transcriber

// Transcriber converts one utterance to text. An empty string means the
// utterance held no recognisable speech. Implementations must be safe for
// concurrent use by several sessions.
type Transcriber interface {
	Transcribe(ctx context.Context, utterance model.Utterance) (string, error)
}

// New returns the transcriber for cfg.Provider.
func New(cfg config.STTConfig) (Transcriber, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		t, err := NewOpenAITranscriber(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.ProviderDeepgram:
		dg, err := NewDeepgramClient(cfg)
		if err != nil {
			return nil, err
		}
		return dg, nil
	default:
		return nil, model.Wrap(model.ErrConfiguration, fmt.Errorf("unknown provider %q", cfg.Provider), "speech-to-text")
	}
}
