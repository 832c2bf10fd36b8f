package pipeline

// frameChunker re-slices an arbitrarily sized byte stream into fixed,
// sample-aligned frames. Deliveries are kept as an append-only list with a
// read cursor so flushing never re-copies the whole backlog; a sample (2
// bytes, 16-bit PCM) is never split across a frame boundary.
type frameChunker struct {
	frameSize int
	pending   [][]byte
	readOff   int // consumed bytes of pending[0]
	size      int // total unconsumed bytes
}

func newFrameChunker(frameSize int) *frameChunker {
	if frameSize < 2 {
		frameSize = 2
	}
	frameSize -= frameSize % 2
	return &frameChunker{frameSize: frameSize}
}

// Write appends one delivery. The chunker takes ownership of p.
func (c *frameChunker) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	c.pending = append(c.pending, p)
	c.size += len(p)
}

// Next returns the next full frame, or false when fewer than frameSize
// bytes are buffered.
func (c *frameChunker) Next() ([]byte, bool) {
	if c.size < c.frameSize {
		return nil, false
	}
	return c.take(c.frameSize), true
}

// Flush drains the remainder rounded down to an even byte count. A single
// trailing odd byte, which can only come from a misbehaving upstream, is
// discarded rather than emitted as a split sample.
func (c *frameChunker) Flush() []byte {
	n := c.size - c.size%2
	if n == 0 {
		c.pending = nil
		c.readOff = 0
		c.size = 0
		return nil
	}
	return c.take(n)
}

func (c *frameChunker) take(n int) []byte {
	out := make([]byte, 0, n)
	for n > 0 {
		head := c.pending[0][c.readOff:]
		if len(head) > n {
			out = append(out, head[:n]...)
			c.readOff += n
			c.size -= n
			return out
		}
		out = append(out, head...)
		n -= len(head)
		c.size -= len(head)
		c.pending = c.pending[1:]
		c.readOff = 0
	}
	return out
}
