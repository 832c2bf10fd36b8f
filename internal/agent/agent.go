package agent

import "context"

// ID names one of the closed set of agent types a session can route to.
type ID string

const (
	// Realtime is the full-duplex realtime voice agent.
	Realtime ID = "realtime"
	// Pipeline is the decomposed transcribe/generate/synthesize agent.
	Pipeline ID = "pipeline"
	// ConvAI is the third-party conversational agent.
	ConvAI ID = "convai"
)

// Valid reports whether id is a known agent type.
func (id ID) Valid() bool {
	switch id {
	case Realtime, Pipeline, ConvAI:
		return true
	}
	return false
}

// Status is the adapter connection state. Transitions are strictly
// disconnected -> connecting -> {connected, error}, and any state ->
// disconnected on explicit disconnect or transport close.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Adapter is the uniform capability set every agent variant implements.
// The session holds Adapter values and never concrete types.
//
// Connect may block on the provider handshake and reports failure both as a
// returned error and through the adapter's status/error events. Disconnect
// is synchronous, idempotent and safe on a never-connected instance.
// SendAudio forwards one PCM16 frame at the adapter's required sample rate;
// adapters that are not connected drop frames. CommitTurn is the explicit
// end-of-utterance signal for push-to-talk flows; adapters that react to
// provider-side turn detection treat it as a no-op.
type Adapter interface {
	ID() ID
	Connect(ctx context.Context) error
	Disconnect()
	SendAudio(pcm []byte)
	CommitTurn()
	RequiredSampleRate() int
	Status() Status
}
