package audio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileOptions configures OpenFile.
type FileOptions struct {
	SampleRate int
	ChunkBytes int
	// TailSilence is appended after the file so a silence segmenter can close
	// the last utterance.
	TailSilence time.Duration
	// Realtime paces chunks at the rate they would arrive from a microphone.
	Realtime bool
}

// FileSource replays a 16-bit mono WAV file as fixed-size chunks.
type FileSource struct {
	chunks chan []byte
	stopCh chan struct{}
	once   sync.Once
	done   chan struct{}
}

// OpenFile decodes path and starts replaying it. The file's sample rate must
// match opts.SampleRate.
func OpenFile(ctx context.Context, path string, opts FileOptions) (*FileSource, error) {
	if opts.ChunkBytes <= 0 || opts.ChunkBytes%BytesPerSample != 0 {
		return nil, fmt.Errorf("chunk size must be a positive whole number of samples, got %d bytes", opts.ChunkBytes)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	pcm, rate, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if rate != opts.SampleRate {
		return nil, fmt.Errorf("%s is %d Hz but the session runs at %d Hz", path, rate, opts.SampleRate)
	}
	if opts.TailSilence > 0 {
		pcm = append(pcm, make([]byte, ByteCount(opts.TailSilence, rate))...)
	}

	s := &FileSource{
		chunks: make(chan []byte),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	var pace time.Duration
	if opts.Realtime {
		pace = Duration(opts.ChunkBytes, rate)
	}
	go s.run(ctx, pcm, opts.ChunkBytes, pace)
	return s, nil
}

func (s *FileSource) run(ctx context.Context, pcm []byte, chunkBytes int, pace time.Duration) {
	defer close(s.done)
	defer close(s.chunks)

	chunker := NewChunker(chunkBytes)
	chunks := chunker.Push(pcm)
	if tail := chunker.Flush(); tail != nil {
		chunks = append(chunks, tail)
	}

	var tick <-chan time.Time
	if pace > 0 {
		ticker := time.NewTicker(pace)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i, chunk := range chunks {
		if tick != nil && i > 0 {
			select {
			case <-tick:
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
		select {
		case s.chunks <- chunk:
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// Chunks returns the PCM stream.
func (s *FileSource) Chunks() <-chan []byte {
	return s.chunks
}

// Stop ends playback and waits for the replay goroutine to exit.
func (s *FileSource) Stop() error {
	s.once.Do(func() { close(s.stopCh) })
	<-s.done
	return nil
}
