package stt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sulaiman-shamasna/instant-translator/audio"
	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/model"
	"github.com/sulaiman-shamasna/instant-translator/retry"
)

func testUtterance() model.Utterance {
	return model.Utterance{
		ID:         "utt-1",
		PCM:        make([]byte, 3200),
		SampleRate: 16000,
	}
}

func TestOpenAITranscriberSendsWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "whisper-1", r.FormValue("model"))
		require.Equal(t, "en", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "utterance.wav", header.Filename)

		pcm, rate, err := audio.DecodeWAV(file)
		require.NoError(t, err)
		require.Equal(t, 16000, rate)
		require.Len(t, pcm, 3200)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  Hello, how are you?  "})
	}))
	defer srv.Close()

	tr, err := NewOpenAITranscriber(config.STTConfig{
		OpenAIKey:     "sk-test",
		OpenAIBaseURL: srv.URL + "/v1",
		Model:         "whisper-1",
		Language:      "en",
	})
	require.NoError(t, err)

	text, err := tr.Transcribe(context.Background(), testUtterance())
	require.NoError(t, err)
	require.Equal(t, "Hello, how are you?", text)
}

func TestOpenAITranscriberClassifiesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	tr, err := NewOpenAITranscriber(config.STTConfig{OpenAIKey: "sk-test", OpenAIBaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = tr.Transcribe(context.Background(), testUtterance())
	require.ErrorIs(t, err, model.ErrTranscription)
	require.True(t, retry.Retryable(err))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(config.STTConfig{Provider: config.ProviderOpenAI})
	require.ErrorIs(t, err, model.ErrConfiguration)

	_, err = New(config.STTConfig{Provider: config.ProviderDeepgram})
	require.ErrorIs(t, err, model.ErrConfiguration)

	_, err = New(config.STTConfig{Provider: "whisper.cpp"})
	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestNewSelectsProvider(t *testing.T) {
	tr, err := New(config.STTConfig{Provider: config.ProviderOpenAI, OpenAIKey: "k"})
	require.NoError(t, err)
	require.IsType(t, &OpenAITranscriber{}, tr)

	tr, err = New(config.STTConfig{Provider: config.ProviderDeepgram, DeepgramKey: "k"})
	require.NoError(t, err)
	require.IsType(t, &DeepgramClient{}, tr)
}
