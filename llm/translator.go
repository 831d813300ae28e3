// Package llm translates transcripts with a chat completion model.
package llm

import "context"

//go:generate mockgen -destination=mock_llm/mock_translator.go -package=mock_llm github.com/sulaiman-shamasna/instant-translator/llm Translator

// Translator renders text in targetLanguage. Implementations must be safe for
// concurrent use by several sessions.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}
