package pipeline

import (
	"bytes"
	"testing"
)

func TestFrameChunker_UnevenDeliveries(t *testing.T) {
	// Deliveries of 3, 9000 and 1 bytes against a 4800-byte frame target:
	// every emitted frame must have even length and concatenating all
	// frames must reproduce the deliveries exactly.
	sizes := []int{3, 9000, 1}
	var want bytes.Buffer
	c := newFrameChunker(4800)
	b := byte(0)
	for _, n := range sizes {
		p := make([]byte, n)
		for i := range p {
			p[i] = b
			b++
		}
		want.Write(p)
		c.Write(p)
	}

	var got bytes.Buffer
	for {
		frame, ok := c.Next()
		if !ok {
			break
		}
		if len(frame) != 4800 {
			t.Fatalf("expected full frame of 4800 bytes, got %d", len(frame))
		}
		got.Write(frame)
	}
	tail := c.Flush()
	if len(tail)%2 != 0 {
		t.Fatalf("flush produced odd-length chunk: %d", len(tail))
	}
	got.Write(tail)

	if !bytes.Equal(got.Bytes(), want.Bytes()) {
		t.Fatalf("reassembled stream differs: got %d bytes want %d", got.Len(), want.Len())
	}
}

func TestFrameChunker_OddTotalRoundsDown(t *testing.T) {
	c := newFrameChunker(8)
	c.Write([]byte{1, 2, 3})
	if _, ok := c.Next(); ok {
		t.Fatalf("did not expect a full frame")
	}
	tail := c.Flush()
	if len(tail) != 2 {
		t.Fatalf("expected remainder rounded down to 2 bytes, got %d", len(tail))
	}
}

func TestFrameChunker_OddFrameSizeAligned(t *testing.T) {
	c := newFrameChunker(5)
	c.Write(make([]byte, 10))
	frame, ok := c.Next()
	if !ok || len(frame) != 4 {
		t.Fatalf("expected frame size rounded down to 4, got %d (ok=%v)", len(frame), ok)
	}
}
