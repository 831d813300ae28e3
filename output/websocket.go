package output

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gofiber/websocket/v2"

	"github.com/sulaiman-shamasna/instant-translator/metrics"
	"github.com/sulaiman-shamasna/instant-translator/model"
)

// MessageWriter is the write half of a WebSocket connection.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketOutput is the only writer on a session's connection. It sends
// every result as one JSON text frame in the order received.
type WebSocketOutput struct {
	ctx                 context.Context
	cancel              context.CancelFunc
	done                chan struct{}
	started             bool
	OutputDeviceChannel <-chan model.TranslationResult
	ws                  MessageWriter
	metrics             *metrics.Metrics
	logger              *slog.Logger
	onError             func(error)
}

func NewWebSocketOutput(
	parent context.Context,
	ws MessageWriter,
	outputDeviceChannel <-chan model.TranslationResult,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*WebSocketOutput, error) {
	if ws == nil {
		return nil, fmt.Errorf("websocket connection is required")
	}
	if outputDeviceChannel == nil {
		return nil, fmt.Errorf("output device channel is required")
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &WebSocketOutput{
		ctx:                 ctx,
		cancel:              cancel,
		done:                make(chan struct{}),
		OutputDeviceChannel: outputDeviceChannel,
		ws:                  ws,
		metrics:             m,
		logger:              logger.With("component", "output"),
	}, nil
}

// OnError registers fn to run once when a write fails. It must be called
// before Start.
func (o *WebSocketOutput) OnError(fn func(error)) {
	o.onError = fn
}

func (o *WebSocketOutput) Start() {
	o.started = true
	go func() {
		defer close(o.done)
		for {
			select {
			case <-o.ctx.Done():
				return
			case result, ok := <-o.OutputDeviceChannel:
				if !ok {
					return
				}
				if err := o.send(result); err != nil {
					o.logger.Warn("result write failed", "utterance_id", result.UtteranceID, "error", err)
					if o.onError != nil {
						o.onError(err)
					}
					return
				}
			}
		}
	}()
}

func (o *WebSocketOutput) send(result model.TranslationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	err = o.ws.WriteMessage(websocket.TextMessage, payload)
	o.metrics.RecordResult(err)
	if err != nil {
		return model.Wrap(model.ErrConnection, err, "write result")
	}
	o.logger.Debug("result sent", "utterance_id", result.UtteranceID)
	return nil
}

// Done is closed once the output loop has exited.
func (o *WebSocketOutput) Done() <-chan struct{} {
	return o.done
}

// Stop cancels the output loop and waits for it to exit.
func (o *WebSocketOutput) Stop() {
	o.cancel()
	if o.started {
		<-o.done
	}
}
