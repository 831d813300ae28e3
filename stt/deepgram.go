package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/model"
	"github.com/sulaiman-shamasna/instant-translator/retry"
)

// DeepgramClient transcribes each utterance over its own Deepgram live
// streaming session.
type DeepgramClient struct {
	APIKey   string
	Endpoint string
	Model    string
	Language string
	dialer   *gws.Dialer
}

// TranscriptionMessage is the subset of a Deepgram "Results" message we use.
type TranscriptionMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

var closeStream = []byte(`{"type":"CloseStream"}`)

func NewDeepgramClient(cfg config.STTConfig) (*DeepgramClient, error) {
	if cfg.DeepgramKey == "" {
		return nil, model.Wrap(model.ErrConfiguration, errors.New("DEEPGRAM_API_KEY is not set"), "deepgram transcriber")
	}
	endpoint := cfg.DeepgramURL
	if endpoint == "" {
		endpoint = config.DefaultDeepgramURL
	}
	name := cfg.DeepgramModel
	if name == "" {
		name = config.DefaultDeepgramModel
	}
	return &DeepgramClient{
		APIKey:   cfg.DeepgramKey,
		Endpoint: endpoint,
		Model:    name,
		Language: cfg.Language,
		dialer: &gws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

func (dg *DeepgramClient) listenURL(sampleRate int) (string, error) {
	u, err := url.Parse(dg.Endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("model", dg.Model)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if dg.Language != "" {
		q.Set("language", dg.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (dg *DeepgramClient) Transcribe(ctx context.Context, utterance model.Utterance) (string, error) {
	dgURL, err := dg.listenURL(utterance.SampleRate)
	if err != nil {
		return "", model.Wrap(model.ErrTranscription, err, "deepgram endpoint")
	}

	header := http.Header{
		"Authorization": {fmt.Sprintf("Token %s", dg.APIKey)},
	}
	conn, resp, err := dg.dialer.DialContext(ctx, dgURL, header)
	if err != nil {
		if resp != nil {
			err = &retry.StatusError{Code: resp.StatusCode, Err: err}
		}
		return "", model.Wrap(model.ErrTranscription, err, "deepgram dial")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteMessage(gws.BinaryMessage, utterance.PCM); err != nil {
		return "", dg.failure(ctx, err, "deepgram write audio")
	}
	if err := conn.WriteMessage(gws.TextMessage, closeStream); err != nil {
		return "", dg.failure(ctx, err, "deepgram close stream")
	}

	var parts []string
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if gws.IsCloseError(err, gws.CloseNormalClosure) {
				break
			}
			return "", dg.failure(ctx, err, "deepgram read")
		}

		var transcription TranscriptionMessage
		if err := json.Unmarshal(message, &transcription); err != nil {
			continue
		}
		if transcription.Type != "" && transcription.Type != "Results" {
			continue
		}
		if !transcription.IsFinal || len(transcription.Channel.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(transcription.Channel.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// failure prefers the context error so a cancelled or timed out call is
// reported as such rather than as a closed socket.
func (dg *DeepgramClient) failure(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	var closeErr *gws.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == gws.CloseInternalServerErr {
		err = &retry.StatusError{Code: http.StatusBadGateway, Err: err}
	}
	return model.Wrap(model.ErrTranscription, err, "%s", op)
}
