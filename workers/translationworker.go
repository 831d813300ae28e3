package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sulaiman-shamasna/instant-translator/llm"
	"github.com/sulaiman-shamasna/instant-translator/metrics"
	"github.com/sulaiman-shamasna/instant-translator/model"
	"github.com/sulaiman-shamasna/instant-translator/retry"
)

// TranslationWorker translates each transcript into the target language.
type TranslationWorker struct {
	ctx                      context.Context
	cancel                   context.CancelFunc
	done                     chan struct{}
	started                  bool
	Translator               llm.Translator
	TargetLanguage           string
	TranscriptionChannel     <-chan model.TranscriptionResult
	TranslationOutputChannel chan<- model.TranslationResult
	policy                   retry.Policy
	metrics                  *metrics.Metrics
	logger                   *slog.Logger
}

func NewTranslationWorker(
	parent context.Context,
	translator llm.Translator,
	targetLanguage string,
	transcriptionChannel <-chan model.TranscriptionResult,
	translationOutputChannel chan<- model.TranslationResult,
	policy retry.Policy,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*TranslationWorker, error) {
	if translator == nil {
		return nil, fmt.Errorf("translator is required")
	}
	if targetLanguage == "" {
		return nil, fmt.Errorf("target language is required")
	}
	if transcriptionChannel == nil {
		return nil, fmt.Errorf("transcription channel is required")
	}
	if translationOutputChannel == nil {
		return nil, fmt.Errorf("translation output channel is required")
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "translation")

	policy.OnRetry = func(attempt int, err error) {
		m.RecordTranslationRetry()
		logger.Warn("retrying translation", "attempt", attempt, "error", err)
	}

	ctx, cancel := context.WithCancel(parent)
	return &TranslationWorker{
		ctx:                      ctx,
		cancel:                   cancel,
		done:                     make(chan struct{}),
		Translator:               translator,
		TargetLanguage:           targetLanguage,
		TranscriptionChannel:     transcriptionChannel,
		TranslationOutputChannel: translationOutputChannel,
		policy:                   policy,
		metrics:                  m,
		logger:                   logger,
	}, nil
}

// Start runs until the input channel closes, Stop is called or the parent
// context ends. The output channel is closed on exit.
func (w *TranslationWorker) Start() {
	w.started = true
	go func() {
		defer close(w.done)
		defer close(w.TranslationOutputChannel)
		for {
			select {
			case <-w.ctx.Done():
				return
			case transcript, ok := <-w.TranscriptionChannel:
				if !ok {
					return
				}
				if !w.process(transcript) {
					return
				}
			}
		}
	}()
}

func (w *TranslationWorker) process(transcript model.TranscriptionResult) bool {
	logger := w.logger.With("utterance_id", transcript.UtteranceID)

	var translated string
	start := time.Now()
	err := retry.Do(w.ctx, w.policy, func(ctx context.Context) error {
		var err error
		translated, err = w.Translator.Translate(ctx, transcript.Text, w.TargetLanguage)
		return err
	})
	w.metrics.RecordTranslation(time.Since(start).Seconds(), err)

	if err != nil {
		if w.ctx.Err() != nil {
			return false
		}
		logger.Error("translation failed, skipping utterance", "error", err)
		return true
	}

	logger.Info("translated", "target_language", w.TargetLanguage, "text", translated)
	select {
	case w.TranslationOutputChannel <- model.NewTranslationResult(transcript, translated, w.TargetLanguage):
		return true
	case <-w.ctx.Done():
		return false
	}
}

// Stop cancels the worker and waits for it to exit.
func (w *TranslationWorker) Stop() {
	w.cancel()
	if w.started {
		<-w.done
	}
}
