package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sulaiman-shamasna/instant-translator/metrics"
	"github.com/sulaiman-shamasna/instant-translator/model"
	"github.com/sulaiman-shamasna/instant-translator/queue"
	"github.com/sulaiman-shamasna/instant-translator/retry"
	"github.com/sulaiman-shamasna/instant-translator/stt"
)

// TranscriptionWorker drains segmented utterances from the session queue and
// forwards non-empty transcripts in arrival order.
type TranscriptionWorker struct {
	ctx                        context.Context
	cancel                     context.CancelFunc
	done                       chan struct{}
	started                    bool
	Transcriber                stt.Transcriber
	InputQueue                 *queue.Queue[model.Utterance]
	TranscriptionOutputChannel chan<- model.TranscriptionResult
	policy                     retry.Policy
	metrics                    *metrics.Metrics
	logger                     *slog.Logger
}

func NewTranscriptionWorker(
	parent context.Context,
	transcriber stt.Transcriber,
	inputQueue *queue.Queue[model.Utterance],
	transcriptionOutputChannel chan<- model.TranscriptionResult,
	policy retry.Policy,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*TranscriptionWorker, error) {
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if inputQueue == nil {
		return nil, fmt.Errorf("input queue is required")
	}
	if transcriptionOutputChannel == nil {
		return nil, fmt.Errorf("transcription output channel is required")
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transcription")

	policy.OnRetry = func(attempt int, err error) {
		m.RecordTranscriptionRetry()
		logger.Warn("retrying transcription", "attempt", attempt, "error", err)
	}

	ctx, cancel := context.WithCancel(parent)
	return &TranscriptionWorker{
		ctx:                        ctx,
		cancel:                     cancel,
		done:                       make(chan struct{}),
		Transcriber:                transcriber,
		InputQueue:                 inputQueue,
		TranscriptionOutputChannel: transcriptionOutputChannel,
		policy:                     policy,
		metrics:                    m,
		logger:                     logger,
	}, nil
}

// Start runs the worker until Stop or the parent context ends. The output
// channel is closed on exit.
func (tw *TranscriptionWorker) Start() {
	tw.started = true
	go func() {
		defer close(tw.done)
		defer close(tw.TranscriptionOutputChannel)
		for {
			select {
			case <-tw.ctx.Done():
				return
			case <-tw.InputQueue.Ready():
			}
			for {
				utterance, ok := tw.InputQueue.Dequeue()
				if !ok {
					break
				}
				if !tw.process(utterance) {
					return
				}
			}
		}
	}()
}

// process returns false once the worker should exit.
func (tw *TranscriptionWorker) process(utterance model.Utterance) bool {
	logger := tw.logger.With("utterance_id", utterance.ID)

	var text string
	start := time.Now()
	err := retry.Do(tw.ctx, tw.policy, func(ctx context.Context) error {
		var err error
		text, err = tw.Transcriber.Transcribe(ctx, utterance)
		return err
	})
	tw.metrics.RecordTranscription(time.Since(start).Seconds(), err)

	if err != nil {
		if tw.ctx.Err() != nil {
			return false
		}
		logger.Error("transcription failed, skipping utterance", "error", err)
		return true
	}
	if text == "" {
		tw.metrics.RecordEmptyTranscript()
		logger.Debug("empty transcript, skipping utterance")
		return true
	}

	logger.Info("transcribed", "text", text, "duration", utterance.Duration)
	select {
	case tw.TranscriptionOutputChannel <- model.TranscriptionResult{
		UtteranceID: utterance.ID,
		Text:        text,
		CapturedAt:  utterance.CapturedAt,
	}:
		return true
	case <-tw.ctx.Done():
		return false
	}
}

// Stop cancels the worker and waits for it to exit.
func (tw *TranscriptionWorker) Stop() {
	tw.cancel()
	if tw.started {
		<-tw.done
	}
}
