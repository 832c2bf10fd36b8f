package tts

import (
	"context"
	"testing"
	"time"
)

func TestElevenLabs_Stream_NoKey(t *testing.T) {
	e := NewElevenLabsClient("", "", 24000)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := e.Stream(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when api key missing")
		}
	case <-pcmCh:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}

func TestDeepgram_Stream_NoKey(t *testing.T) {
	d := NewDeepgramClient("", "", 24000)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := d.Stream(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when api key missing")
		}
	case <-pcmCh:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
}

func TestNewClients_Defaults(t *testing.T) {
	if c := NewElevenLabsClient("k", "v", 0); c.SampleRate != 24000 {
		t.Fatalf("expected default sample rate, got %d", c.SampleRate)
	}
	if d := NewDeepgramClient("k", "", 0); d.model == "" || d.sampleRate != 24000 {
		t.Fatalf("expected model and sample rate defaults")
	}
}
