// Command client captures microphone audio (or replays a WAV file), streams it
// to the translation server and prints each translation as it arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sulaiman-shamasna/instant-translator/audio"
	"github.com/sulaiman-shamasna/instant-translator/client"
	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Loader{EnvFiles: []string{".env"}}.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := logging.New(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := openSource(ctx, cfg)
	if err != nil {
		logger.Error("audio input unavailable", "error", err)
		return 1
	}

	c := client.New(client.Options{
		URL:          cfg.ServerURL(),
		DrainTimeout: cfg.Client.DrainTimeout,
		Renderer:     client.NewRenderer(os.Stdout, nil),
		Logger:       logger,
	})
	if err := c.Run(ctx, src); err != nil {
		logger.Error("session failed", "error", err)
		return 1
	}
	return 0
}

func openSource(ctx context.Context, cfg config.Config) (audio.Source, error) {
	if cfg.Client.AudioFile != "" {
		fmt.Fprintf(os.Stderr, "Streaming %s. Press Ctrl+C to stop.\n", cfg.Client.AudioFile)
		file, err := audio.OpenFile(ctx, cfg.Client.AudioFile, audio.FileOptions{
			SampleRate:  cfg.Audio.SampleRate,
			ChunkBytes:  cfg.ChunkBytes(),
			TailSilence: cfg.Client.TailSilence,
			Realtime:    true,
		})
		if err != nil {
			return nil, err
		}
		return file, nil
	}

	device, err := audio.SelectDevice(ctx, cfg.Client.AudioInput)
	if err != nil {
		return nil, err
	}
	capture, err := audio.StartCapture(ctx, device, cfg.Audio.SampleRate, cfg.ChunkBytes())
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Audio is being recorded from %s. Press Ctrl+C to stop.\n", device.Description)
	return capture, nil
}
