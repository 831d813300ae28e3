// Package client streams local audio to the translation server and prints
// the results it sends back.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sulaiman-shamasna/instant-translator/audio"
	"github.com/sulaiman-shamasna/instant-translator/model"
)

const (
	writeWait     = 10 * time.Second
	closeWait     = time.Second
	handshakeWait = 10 * time.Second
)

// errServerClosed is returned when the server ends the session first.
var errServerClosed = errors.New("server closed the connection")

type Options struct {
	URL          string
	DrainTimeout time.Duration
	Renderer     *Renderer
	Logger       *slog.Logger
}

// Client owns one connection to the server for the lifetime of Run.
type Client struct {
	url          string
	drainTimeout time.Duration
	renderer     *Renderer
	logger       *slog.Logger
	dialer       *websocket.Dialer

	conn    *websocket.Conn
	closing atomic.Bool
	results atomic.Int64
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:          opts.URL,
		drainTimeout: opts.DrainTimeout,
		renderer:     opts.Renderer,
		logger:       logger.With("component", "client"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeWait,
		},
	}
}

// Results is the number of translation results received so far.
func (c *Client) Results() int64 {
	return c.results.Load()
}

// Run connects, streams src until it ends or ctx is cancelled, and renders
// results as they arrive. A finite source is followed by a drain period
// before the connection is closed normally. Connection failures are
// returned wrapping model.ErrConnection; src is always stopped.
func (c *Client) Run(ctx context.Context, src audio.Source) error {
	defer src.Stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return model.Wrap(model.ErrConnection, err, "dial %s", c.url)
	}
	c.conn = conn
	defer conn.Close()
	c.logger.Info("connected to server", "url", c.url)

	sendDone := make(chan error, 1)
	recvDone := make(chan error, 1)
	go func() { sendDone <- c.sendAudio(ctx, src) }()
	go func() { recvDone <- c.readMessages() }()

	select {
	case <-ctx.Done():
		c.logger.Info("stopping")
		c.close(recvDone)
		return nil

	case err := <-recvDone:
		if err == nil {
			err = model.Wrap(model.ErrConnection, errServerClosed, "receive")
		}
		return err

	case err := <-sendDone:
		if err != nil {
			if ctx.Err() != nil {
				c.close(recvDone)
				return nil
			}
			return err
		}
	}

	c.logger.Info("audio source finished, waiting for outstanding results", "timeout", c.drainTimeout)
	timer := time.NewTimer(c.drainTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case err := <-recvDone:
		if err == nil {
			err = model.Wrap(model.ErrConnection, errServerClosed, "receive")
		}
		return err
	}
	c.close(recvDone)
	return nil
}

func (c *Client) sendAudio(ctx context.Context, src audio.Source) error {
	var sent int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-src.Chunks():
			if !ok {
				c.logger.Debug("audio source exhausted", "chunks", sent)
				return nil
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return model.Wrap(model.ErrConnection, err, "send audio")
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return model.Wrap(model.ErrConnection, err, "send audio")
			}
			sent++
		}
	}
}

// readMessages returns nil when the connection was closed normally.
func (c *Client) readMessages() error {
	for {
		messageType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return model.Wrap(model.ErrConnection, err, "receive")
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var res model.TranslationResult
		if err := json.Unmarshal(msg, &res); err != nil {
			c.logger.Warn("ignoring malformed result", "error", err)
			continue
		}
		c.results.Add(1)
		if c.renderer != nil {
			if err := c.renderer.Render(res); err != nil {
				c.logger.Warn("render failed", "error", err)
			}
		}
	}
}

// close sends a normal close frame and waits briefly for the server to
// acknowledge it.
func (c *Client) close(recvDone <-chan error) {
	c.closing.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client done")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("close frame not sent", "error", err)
		return
	}
	select {
	case <-recvDone:
	case <-time.After(closeWait):
	}
}
