// Command server accepts audio clients on /audio and streams back
// transcriptions and translations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/llm"
	"github.com/sulaiman-shamasna/instant-translator/logging"
	"github.com/sulaiman-shamasna/instant-translator/metrics"
	"github.com/sulaiman-shamasna/instant-translator/server"
	"github.com/sulaiman-shamasna/instant-translator/session"
	"github.com/sulaiman-shamasna/instant-translator/stt"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env if present
	cfg, err := config.Loader{EnvFiles: []string{".env"}}.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	if err := cfg.ValidateServer(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	transcriber, err := stt.New(cfg.STT)
	if err != nil {
		logger.Error("speech-to-text setup failed", "error", err)
		return 1
	}
	translator, err := llm.NewFromConfig(cfg)
	if err != nil {
		logger.Error("translator setup failed", "error", err)
		return 1
	}

	srv := server.New(session.Deps{
		Transcriber: transcriber,
		Translator:  translator,
		Config:      cfg,
		Metrics:     metrics.New(),
		Logger:      logger,
	})
	logger.Info("translation server starting",
		"stt_provider", cfg.STT.Provider,
		"target_language", cfg.Translation.TargetLanguage,
		"segment_policy", cfg.Segment.Policy,
		"sample_rate", cfg.Audio.SampleRate,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(cfg.ListenAddr()) }()

	select {
	case err := <-errCh:
		logger.Error("server stopped", "error", err)
		return 1
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return 1
	}
	return 0
}
