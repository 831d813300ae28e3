package audio

// Source produces a lazy, non-restartable sequence of fixed-size PCM chunks.
// Chunks is closed when the source is exhausted or stopped; only the last chunk
// may be shorter than the configured size.
type Source interface {
	Chunks() <-chan []byte
	Stop() error
}

var (
	_ Source = (*Capture)(nil)
	_ Source = (*FileSource)(nil)
)
