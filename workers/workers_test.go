package workers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sulaiman-shamasna/instant-translator/llm/mock_llm"
	"github.com/sulaiman-shamasna/instant-translator/metrics"
	"github.com/sulaiman-shamasna/instant-translator/model"
	"github.com/sulaiman-shamasna/instant-translator/queue"
	"github.com/sulaiman-shamasna/instant-translator/retry"
	"github.com/sulaiman-shamasna/instant-translator/stt/mock_stt"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var fastPolicy = retry.Policy{Timeout: time.Second, MaxRetries: 1, Backoff: time.Millisecond}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker output")
	}
	var zero T
	return zero
}

func utterance(id string) model.Utterance {
	return model.Utterance{ID: id, PCM: make([]byte, 640), SampleRate: 16000, CapturedAt: time.Now()}
}

type utteranceID string

func (id utteranceID) Matches(x interface{}) bool {
	u, ok := x.(model.Utterance)
	return ok && u.ID == string(id)
}

func (id utteranceID) String() string {
	return "utterance " + string(id)
}

func byID(id string) gomock.Matcher {
	return utteranceID(id)
}

func TestTranscriptionWorkerSkipsFailedUtterance(t *testing.T) {
	ctrl := gomock.NewController(t)
	transcriber := mock_stt.NewMockTranscriber(ctrl)
	gomock.InOrder(
		transcriber.EXPECT().Transcribe(gomock.Any(), byID("u1")).
			Return("", model.Wrap(model.ErrTranscription, errors.New("invalid audio"), "transcribe")),
		transcriber.EXPECT().Transcribe(gomock.Any(), byID("u2")).Return("second", nil),
	)

	m := metrics.New()
	q := queue.New[model.Utterance](4)
	out := make(chan model.TranscriptionResult, 4)
	w, err := NewTranscriptionWorker(context.Background(), transcriber, q, out, fastPolicy, m, quietLogger)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	q.Enqueue(utterance("u1"))
	q.Enqueue(utterance("u2"))

	got := receive(t, out)
	require.Equal(t, "u2", got.UtteranceID)
	require.Equal(t, "second", got.Text)
	require.Equal(t, 2.0, testutil.ToFloat64(m.TranscriptionRequests))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionFailures))
}

func TestTranscriptionWorkerRetriesTransientFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	transcriber := mock_stt.NewMockTranscriber(ctrl)
	gomock.InOrder(
		transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).
			Return("", &retry.StatusError{Code: http.StatusServiceUnavailable}),
		transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).Return("hello", nil),
	)

	m := metrics.New()
	q := queue.New[model.Utterance](4)
	out := make(chan model.TranscriptionResult, 1)
	w, err := NewTranscriptionWorker(context.Background(), transcriber, q, out, fastPolicy, m, quietLogger)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	q.Enqueue(utterance("u1"))
	require.Equal(t, "hello", receive(t, out).Text)
	require.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionRetries))
	require.Equal(t, 0.0, testutil.ToFloat64(m.TranscriptionFailures))
}

func TestTranscriptionWorkerSkipsEmptyTranscript(t *testing.T) {
	ctrl := gomock.NewController(t)
	transcriber := mock_stt.NewMockTranscriber(ctrl)
	transcriber.EXPECT().Transcribe(gomock.Any(), byID("silence")).Return("", nil)
	transcriber.EXPECT().Transcribe(gomock.Any(), byID("speech")).Return("words", nil)

	m := metrics.New()
	q := queue.New[model.Utterance](4)
	out := make(chan model.TranscriptionResult, 4)
	w, err := NewTranscriptionWorker(context.Background(), transcriber, q, out, fastPolicy, m, quietLogger)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	q.Enqueue(utterance("silence"))
	q.Enqueue(utterance("speech"))

	require.Equal(t, "speech", receive(t, out).UtteranceID)
	require.Equal(t, 1.0, testutil.ToFloat64(m.EmptyTranscripts))
}

func TestTranscriptionWorkerStopClosesOutput(t *testing.T) {
	ctrl := gomock.NewController(t)
	transcriber := mock_stt.NewMockTranscriber(ctrl)

	out := make(chan model.TranscriptionResult)
	w, err := NewTranscriptionWorker(context.Background(), transcriber, queue.New[model.Utterance](1), out, fastPolicy, nil, nil)
	require.NoError(t, err)
	w.Start()
	w.Stop()

	_, ok := <-out
	require.False(t, ok)
}

func TestNewTranscriptionWorkerValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	transcriber := mock_stt.NewMockTranscriber(ctrl)
	out := make(chan model.TranscriptionResult)

	_, err := NewTranscriptionWorker(context.Background(), nil, queue.New[model.Utterance](1), out, fastPolicy, nil, nil)
	require.Error(t, err)
	_, err = NewTranscriptionWorker(context.Background(), transcriber, nil, out, fastPolicy, nil, nil)
	require.Error(t, err)
	_, err = NewTranscriptionWorker(context.Background(), transcriber, queue.New[model.Utterance](1), nil, fastPolicy, nil, nil)
	require.Error(t, err)
}

func TestTranslationWorkerRoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	translator := mock_llm.NewMockTranslator(ctrl)
	translator.EXPECT().
		Translate(gomock.Any(), "Hello, how are you?", "French").
		Return("Bonjour, comment allez-vous ?", nil)

	in := make(chan model.TranscriptionResult, 1)
	out := make(chan model.TranslationResult, 1)
	w, err := NewTranslationWorker(context.Background(), translator, "French", in, out, fastPolicy, metrics.New(), quietLogger)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	captured := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	in <- model.TranscriptionResult{UtteranceID: "u1", Text: "Hello, how are you?", CapturedAt: captured}

	res := receive(t, out)
	require.Equal(t, "Hello, how are you?", res.OriginalText)
	require.Equal(t, "Bonjour, comment allez-vous ?", res.TranslatedText)
	require.NotEqual(t, res.OriginalText, res.TranslatedText)
	require.Equal(t, "French", res.TargetLanguage)
	require.Equal(t, "2024-05-01T09:30:00Z", res.Timestamp)
	_, err = time.Parse(time.RFC3339, res.Timestamp)
	require.NoError(t, err)
}

func TestTranslationWorkerContinuesAfterFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	translator := mock_llm.NewMockTranslator(ctrl)
	gomock.InOrder(
		translator.EXPECT().Translate(gomock.Any(), "first", "German").
			Return("", model.Wrap(model.ErrTranslation, errors.New("content filter"), "translate")),
		translator.EXPECT().Translate(gomock.Any(), "second", "German").Return("zweite", nil),
	)

	m := metrics.New()
	in := make(chan model.TranscriptionResult, 2)
	out := make(chan model.TranslationResult, 2)
	w, err := NewTranslationWorker(context.Background(), translator, "German", in, out, fastPolicy, m, quietLogger)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	in <- model.TranscriptionResult{UtteranceID: "u1", Text: "first"}
	in <- model.TranscriptionResult{UtteranceID: "u2", Text: "second"}

	res := receive(t, out)
	require.Equal(t, "u2", res.UtteranceID)
	require.Equal(t, "zweite", res.TranslatedText)
	require.Equal(t, 1.0, testutil.ToFloat64(m.TranslationFailures))
}

func TestTranslationWorkerClosesOutputWhenInputCloses(t *testing.T) {
	ctrl := gomock.NewController(t)
	translator := mock_llm.NewMockTranslator(ctrl)

	in := make(chan model.TranscriptionResult)
	out := make(chan model.TranslationResult)
	w, err := NewTranslationWorker(context.Background(), translator, "French", in, out, fastPolicy, nil, nil)
	require.NoError(t, err)
	w.Start()
	close(in)

	select {
	case _, ok := <-out:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("output was not closed")
	}
	w.Stop()
}

func TestTranslationWorkerStopDuringCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	translator := mock_llm.NewMockTranslator(ctrl)
	started := make(chan struct{})
	translator.EXPECT().Translate(gomock.Any(), "slow", "French").
		DoAndReturn(func(ctx context.Context, _, _ string) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		})

	m := metrics.New()
	in := make(chan model.TranscriptionResult, 1)
	out := make(chan model.TranslationResult)
	w, err := NewTranslationWorker(context.Background(), translator, "French", in, out, fastPolicy, m, quietLogger)
	require.NoError(t, err)
	w.Start()

	in <- model.TranscriptionResult{UtteranceID: "u1", Text: "slow"}
	<-started
	w.Stop()

	_, ok := <-out
	require.False(t, ok)
}
