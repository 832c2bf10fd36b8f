package pipeline

import (
	"context"

	"github.com/calliope-ai/voicebridge/internal/llm"
)

// Transcriber turns one complete WAV utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Generator streams completion tokens for a conversation.
type Generator interface {
	Stream(ctx context.Context, messages []llm.Message) (<-chan string, <-chan error)
}

// Synthesizer streams raw PCM bytes for one sentence. Delivery sizes are
// arbitrary; the pipeline re-chunks for sample alignment.
type Synthesizer interface {
	Stream(ctx context.Context, text string) (<-chan []byte, <-chan error)
}
