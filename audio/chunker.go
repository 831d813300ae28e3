package audio

// Chunker re-slices arbitrary PCM writes into chunks of exactly Size bytes.
// It is not safe for concurrent use.
type Chunker struct {
	size    int
	pending []byte
}

// NewChunker returns a chunker emitting size-byte chunks. size must be positive.
func NewChunker(size int) *Chunker {
	if size <= 0 {
		panic("audio: chunk size must be positive")
	}
	return &Chunker{size: size}
}

// Size is the chunk size in bytes.
func (c *Chunker) Size() int {
	return c.size
}

// Push appends pcm and returns every complete chunk now available.
// Returned chunks never alias pcm.
func (c *Chunker) Push(pcm []byte) [][]byte {
	c.pending = append(c.pending, pcm...)

	chunks := make([][]byte, 0, len(c.pending)/c.size)
	for len(c.pending) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.pending[:c.size])
		c.pending = c.pending[c.size:]
		chunks = append(chunks, chunk)
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return chunks
}

// Flush returns the residual partial chunk, or nil.
func (c *Chunker) Flush() []byte {
	if len(c.pending) == 0 {
		return nil
	}
	out := make([]byte, len(c.pending))
	copy(out, c.pending)
	c.pending = nil
	return out
}

// Buffered is the number of bytes waiting for a full chunk.
func (c *Chunker) Buffered() int {
	return len(c.pending)
}
