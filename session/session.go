// Package session runs the audio-to-translation pipeline for one client
// connection.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/sulaiman-shamasna/instant-translator/audio"
	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/llm"
	"github.com/sulaiman-shamasna/instant-translator/metrics"
	"github.com/sulaiman-shamasna/instant-translator/model"
	"github.com/sulaiman-shamasna/instant-translator/output"
	"github.com/sulaiman-shamasna/instant-translator/queue"
	"github.com/sulaiman-shamasna/instant-translator/retry"
	"github.com/sulaiman-shamasna/instant-translator/stt"
	"github.com/sulaiman-shamasna/instant-translator/workers"
)

// Conn is the subset of a WebSocket connection a session needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Deps are the collaborators shared by every session. Transcriber and
// Translator must be safe for concurrent use.
type Deps struct {
	Transcriber stt.Transcriber
	Translator  llm.Translator
	Config      config.Config
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Session owns one client connection and the workers serving it. Nothing it
// holds is shared with other sessions.
type Session struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc
	ws     Conn
	deps   Deps
	logger *slog.Logger

	segmenter *audio.Segmenter
	queue     *queue.Queue[model.Utterance]

	TranscriptionWorker *workers.TranscriptionWorker
	TranslationWorker   *workers.TranslationWorker
	OutputWorker        *output.WebSocketOutput

	closeOnce sync.Once
}

// New wires a session for ws. Run must be called to start it.
func New(parent context.Context, ws Conn, deps Deps) (*Session, error) {
	if ws == nil {
		return nil, fmt.Errorf("websocket connection is required")
	}
	if deps.Transcriber == nil || deps.Translator == nil {
		return nil, fmt.Errorf("transcriber and translator are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	id := uuid.NewString()
	logger := deps.Logger.With("session_id", id)
	cfg := deps.Config

	segmenter, err := audio.NewSegmenter(cfg.Segment, cfg.Audio.SampleRate)
	if err != nil {
		return nil, model.Wrap(model.ErrConfiguration, err, "session segmenter")
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:        id,
		ctx:       ctx,
		cancel:    cancel,
		ws:        ws,
		deps:      deps,
		logger:    logger,
		segmenter: segmenter,
		queue:     queue.New[model.Utterance](cfg.Server.QueueSize),
	}

	policy := retry.FromConfig(cfg.API)
	transcripts := make(chan model.TranscriptionResult, cfg.Server.QueueSize)
	results := make(chan model.TranslationResult, cfg.Server.QueueSize)

	s.TranscriptionWorker, err = workers.NewTranscriptionWorker(ctx, deps.Transcriber, s.queue, transcripts, policy, deps.Metrics, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	s.TranslationWorker, err = workers.NewTranslationWorker(ctx, deps.Translator, cfg.Translation.TargetLanguage, transcripts, results, policy, deps.Metrics, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	s.OutputWorker, err = output.NewWebSocketOutput(ctx, ws, results, deps.Metrics, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	s.OutputWorker.OnError(func(error) { s.Close() })
	return s, nil
}

// Run starts the workers and reads audio until the client disconnects or
// the session is closed. A clean close returns nil; anything else returns
// an error wrapping model.ErrConnection.
func (s *Session) Run() error {
	start := time.Now()
	s.deps.Metrics.RecordSessionStarted()
	s.logger.Info("session started")

	s.TranscriptionWorker.Start()
	s.TranslationWorker.Start()
	s.OutputWorker.Start()

	err := s.receiveAudio()

	s.CleanupResources()
	s.deps.Metrics.RecordSessionEnded(time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn("session ended", "error", err, "duration", time.Since(start))
	} else {
		s.logger.Info("session ended", "duration", time.Since(start))
	}
	return err
}

func (s *Session) receiveAudio() error {
	for {
		messageType, msg, err := s.ws.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Info("client closed connection")
				return nil
			}
			return model.Wrap(model.ErrConnection, err, "read audio")
		}

		if messageType != websocket.BinaryMessage {
			s.logger.Debug("ignoring non-binary frame", "type", messageType)
			continue
		}
		if len(msg) == 0 {
			continue
		}
		s.deps.Metrics.RecordChunk(len(msg))

		utterances, discarded := s.segmenter.Write(msg)
		if discarded > 0 {
			s.deps.Metrics.RecordDiscarded(discarded)
			s.logger.Debug("discarded short segments", "count", discarded)
		}
		for _, utterance := range utterances {
			s.deps.Metrics.RecordUtterance(utterance.Duration.Seconds())
			if !s.queue.Enqueue(utterance) {
				s.deps.Metrics.RecordDropped()
				s.logger.Warn("session queue full, dropping utterance", "utterance_id", utterance.ID, "offset", utterance.Offset, "queued", s.queue.Len())
				continue
			}
			s.logger.Debug("utterance queued", "utterance_id", utterance.ID, "offset", utterance.Offset, "duration", utterance.Duration)
		}
	}
}

// Close ends the session from outside, for example on server shutdown.
// A hijacked fasthttp connection ignores Close while its handler runs, so
// the read loop is released through an expired read deadline instead.
func (s *Session) Close() {
	s.cancel()
	s.closeOnce.Do(func() {
		if err := s.ws.SetReadDeadline(time.Now()); err != nil {
			s.logger.Debug("expire read deadline", "error", err)
		}
		_ = s.ws.Close()
	})
}

// CleanupResources stops every worker and discards audio still waiting
// for transcription.
func (s *Session) CleanupResources() {
	s.cancel()
	s.OutputWorker.Stop()
	s.TranslationWorker.Stop()
	s.TranscriptionWorker.Stop()
	if pending := s.queue.Clear(); pending > 0 {
		s.logger.Info("discarded pending utterances", "count", pending)
	}
}
