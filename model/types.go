package model

import "time"

// TimestampLayout is the wire format of TranslationResult.Timestamp.
const TimestampLayout = time.RFC3339

// Utterance is a contiguous span of chunks handed to speech-to-text as one unit.
type Utterance struct {
	ID         string
	PCM        []byte
	SampleRate int
	// Offset is the position of the first sample relative to the start of the stream.
	Offset     time.Duration
	Duration   time.Duration
	CapturedAt time.Time
}

// TranscriptionResult is the text recognised for one utterance.
type TranscriptionResult struct {
	UtteranceID string
	Text        string
	CapturedAt  time.Time
}

// TranslationResult is what the server sends back for every processed utterance.
type TranslationResult struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	Timestamp      string `json:"timestamp"`
	TargetLanguage string `json:"target_language"`
	UtteranceID    string `json:"utterance_id,omitempty"`
}

// NewTranslationResult stamps a result with the capture time of its utterance.
func NewTranslationResult(tr TranscriptionResult, translated, targetLanguage string) TranslationResult {
	return TranslationResult{
		OriginalText:   tr.Text,
		TranslatedText: translated,
		Timestamp:      FormatTimestamp(tr.CapturedAt),
		TargetLanguage: targetLanguage,
		UtteranceID:    tr.UtteranceID,
	}
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
