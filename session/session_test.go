package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sulaiman-shamasna/instant-translator/audio"
	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/llm/mock_llm"
	"github.com/sulaiman-shamasna/instant-translator/metrics"
	"github.com/sulaiman-shamasna/instant-translator/model"
	"github.com/sulaiman-shamasna/instant-translator/stt/mock_stt"
)

const testRate = 16000

type frame struct {
	kind int
	data []byte
}

// fakeConn behaves like a hijacked fasthttp connection: Close does not
// unblock a pending read, only an expired read deadline does.
type fakeConn struct {
	in         chan frame
	writes     chan []byte
	closed     chan struct{}
	expired    chan struct{}
	closeOnce  sync.Once
	expireOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan frame, 64),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
		expired: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return 0, nil, io.ErrUnexpectedEOF
		}
		return f.kind, f.data, nil
	case <-c.expired:
		return 0, nil, errors.New("i/o timeout")
	}
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	if !t.After(time.Now()) {
		c.expireOnce.Do(func() { close(c.expired) })
	}
	return nil
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	if kind != websocket.TextMessage {
		return errors.New("unexpected frame type")
	}
	select {
	case <-c.closed:
		return errors.New("use of closed network connection")
	case c.writes <- append([]byte(nil), data...):
		return nil
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sendAudio(pcm []byte) {
	c.in <- frame{kind: websocket.BinaryMessage, data: pcm}
}

func tone(d time.Duration) []byte {
	samples := make([]int16, audio.ByteCount(d, testRate)/audio.BytesPerSample)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	return audio.PCM(samples)
}

func silence(d time.Duration) []byte {
	return make([]byte, audio.ByteCount(d, testRate))
}

// burst is one utterance under testConfig's silence policy.
func burst() []byte {
	return append(tone(300*time.Millisecond), silence(200*time.Millisecond)...)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = testRate
	cfg.Segment.Window = 100 * time.Millisecond
	cfg.Segment.MinSpeech = 100 * time.Millisecond
	cfg.Segment.MaxDuration = 5 * time.Second
	cfg.API.MaxRetries = 0
	cfg.API.Timeout = time.Second
	cfg.API.RetryBackoff = time.Millisecond
	cfg.Server.QueueSize = 4
	cfg.Translation.TargetLanguage = "French"
	return cfg
}

func newDeps(t *testing.T) (Deps, *mock_stt.MockTranscriber, *mock_llm.MockTranslator) {
	ctrl := gomock.NewController(t)
	transcriber := mock_stt.NewMockTranscriber(ctrl)
	translator := mock_llm.NewMockTranslator(ctrl)
	return Deps{
		Transcriber: transcriber,
		Translator:  translator,
		Config:      testConfig(),
		Metrics:     metrics.New(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, transcriber, translator
}

func runSession(t *testing.T, s *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	return done
}

func nextResult(t *testing.T, conn *fakeConn) model.TranslationResult {
	t.Helper()
	select {
	case raw := <-conn.writes:
		var res model.TranslationResult
		require.NoError(t, json.Unmarshal(raw, &res))
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("no result written")
	}
	return model.TranslationResult{}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
	}
	return nil
}

func TestSessionRoundTrip(t *testing.T) {
	deps, transcriber, translator := newDeps(t)
	transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u model.Utterance) (string, error) {
			require.Equal(t, testRate, u.SampleRate)
			require.NotEmpty(t, u.PCM)
			return "Hello, how are you?", nil
		})
	translator.EXPECT().Translate(gomock.Any(), "Hello, how are you?", "French").
		Return("Bonjour, comment allez-vous ?", nil)

	conn := newFakeConn()
	s, err := New(context.Background(), conn, deps)
	require.NoError(t, err)
	done := runSession(t, s)

	conn.sendAudio(burst())

	res := nextResult(t, conn)
	require.Equal(t, "Hello, how are you?", res.OriginalText)
	require.Equal(t, "Bonjour, comment allez-vous ?", res.TranslatedText)
	require.NotEqual(t, res.OriginalText, res.TranslatedText)
	require.Equal(t, "French", res.TargetLanguage)
	_, err = time.Parse(time.RFC3339, res.Timestamp)
	require.NoError(t, err)

	s.Close()
	require.NoError(t, waitDone(t, done))
	require.Equal(t, 0.0, testutil.ToFloat64(deps.Metrics.ActiveSessions))
	require.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.ResultsSent))
}

func TestSessionSurvivesFailedUtterance(t *testing.T) {
	deps, transcriber, translator := newDeps(t)
	gomock.InOrder(
		transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).
			Return("", model.Wrap(model.ErrTranscription, errors.New("bad audio"), "transcribe")),
		transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).Return("second try", nil),
	)
	translator.EXPECT().Translate(gomock.Any(), "second try", "French").Return("deuxième essai", nil)

	conn := newFakeConn()
	s, err := New(context.Background(), conn, deps)
	require.NoError(t, err)
	done := runSession(t, s)

	conn.sendAudio(burst())
	conn.sendAudio(burst())

	res := nextResult(t, conn)
	require.Equal(t, "second try", res.OriginalText)
	require.Equal(t, "deuxième essai", res.TranslatedText)
	require.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.TranscriptionFailures))

	s.Close()
	require.NoError(t, waitDone(t, done))
}

func TestSessionIgnoresTextFramesAndSkipsSilence(t *testing.T) {
	deps, _, _ := newDeps(t)

	conn := newFakeConn()
	s, err := New(context.Background(), conn, deps)
	require.NoError(t, err)
	done := runSession(t, s)

	conn.in <- frame{kind: websocket.TextMessage, data: []byte(`{"hello":"server"}`)}
	conn.sendAudio(silence(time.Second))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(deps.Metrics.ChunksReceived) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 0.0, testutil.ToFloat64(deps.Metrics.UtterancesSegmented))

	s.Close()
	require.NoError(t, waitDone(t, done))
}

func TestSessionDropsUtterancesWhenQueueIsFull(t *testing.T) {
	deps, transcriber, _ := newDeps(t)
	deps.Config.Server.QueueSize = 1
	deps.Config.Segment.Policy = config.PolicyFixed
	deps.Config.Segment.FixedDuration = 100 * time.Millisecond

	release := make(chan struct{})
	transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ model.Utterance) (string, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return "", nil
		}).AnyTimes()

	conn := newFakeConn()
	s, err := New(context.Background(), conn, deps)
	require.NoError(t, err)
	done := runSession(t, s)

	for i := 0; i < 6; i++ {
		conn.sendAudio(tone(100 * time.Millisecond))
	}

	// At most one utterance is in flight and one queued.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(deps.Metrics.UtterancesSegmented) == 6
	}, 2*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, testutil.ToFloat64(deps.Metrics.UtterancesDropped), 4.0)

	close(release)
	s.Close()
	require.NoError(t, waitDone(t, done))
}

func TestSessionReadErrorIsConnectionError(t *testing.T) {
	deps, _, _ := newDeps(t)

	conn := newFakeConn()
	s, err := New(context.Background(), conn, deps)
	require.NoError(t, err)
	done := runSession(t, s)

	close(conn.in)
	err = waitDone(t, done)
	require.ErrorIs(t, err, model.ErrConnection)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSessionEndsWhenResultWriteFails(t *testing.T) {
	deps, transcriber, translator := newDeps(t)
	transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).Return("hello", nil)
	translator.EXPECT().Translate(gomock.Any(), "hello", "French").Return("bonjour", nil)

	conn := newFakeConn()
	s, err := New(context.Background(), conn, deps)
	require.NoError(t, err)
	done := runSession(t, s)

	require.NoError(t, conn.Close())
	conn.sendAudio(burst())

	require.NoError(t, waitDone(t, done))
	require.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.ResultsFailed))
}

func TestSessionCloseReleasesBlockedRead(t *testing.T) {
	deps, _, _ := newDeps(t)

	conn := newFakeConn()
	s, err := New(context.Background(), conn, deps)
	require.NoError(t, err)
	done := runSession(t, s)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(deps.Metrics.ActiveSessions) == 1
	}, 2*time.Second, 10*time.Millisecond)
	s.Close()
	require.NoError(t, waitDone(t, done))
	require.Equal(t, 0.0, testutil.ToFloat64(deps.Metrics.ActiveSessions))
}

func TestSessionsAreIsolated(t *testing.T) {
	deps, transcriber, translator := newDeps(t)
	transcriber.EXPECT().Transcribe(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u model.Utterance) (string, error) {
			return u.Duration.String(), nil
		}).Times(2)
	translator.EXPECT().Translate(gomock.Any(), gomock.Any(), "French").
		DoAndReturn(func(_ context.Context, text, _ string) (string, error) {
			return "de " + text, nil
		}).Times(2)

	connA, connB := newFakeConn(), newFakeConn()
	a, err := New(context.Background(), connA, deps)
	require.NoError(t, err)
	b, err := New(context.Background(), connB, deps)
	require.NoError(t, err)
	doneA, doneB := runSession(t, a), runSession(t, b)

	connA.sendAudio(burst())
	connB.sendAudio(append(tone(600*time.Millisecond), silence(200*time.Millisecond)...))

	short, err := time.ParseDuration(nextResult(t, connA).OriginalText)
	require.NoError(t, err)
	long, err := time.ParseDuration(nextResult(t, connB).OriginalText)
	require.NoError(t, err)
	require.Less(t, short, long)

	a.Close()
	b.Close()
	require.NoError(t, waitDone(t, doneA))
	require.NoError(t, waitDone(t, doneB))
}

func TestNewValidatesDeps(t *testing.T) {
	deps, _, _ := newDeps(t)

	_, err := New(context.Background(), nil, deps)
	require.Error(t, err)

	noTranslator := deps
	noTranslator.Translator = nil
	_, err = New(context.Background(), newFakeConn(), noTranslator)
	require.Error(t, err)

	badSegment := deps
	badSegment.Config.Segment.Policy = "vad"
	_, err = New(context.Background(), newFakeConn(), badSegment)
	require.ErrorIs(t, err, model.ErrConfiguration)
}
