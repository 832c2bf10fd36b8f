package agent

import "sync"

// Role tags a transcript line with its speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AudioFrame is one outbound PCM16 chunk produced by an adapter.
// The slice is owned by the receiver; adapters must not reuse it.
type AudioFrame struct {
	Agent      ID
	SampleRate int
	PCM        []byte
}

// Transcript is one transcript line or delta produced by an adapter.
type Transcript struct {
	Agent ID
	Role  Role
	Text  string
	Final bool
}

// StatusChange reports an adapter status transition.
type StatusChange struct {
	Agent  ID
	Status Status
}

// Events is the per-session hub for the four adapter event kinds. All
// adapters owned by one session share a single hub; events carry the
// originating agent id. Closing the hub detaches every producer at once,
// which is how in-flight work is abandoned when the client connection goes
// away.
type Events struct {
	audio       chan AudioFrame
	transcripts chan Transcript
	statuses    chan StatusChange
	errs        chan *Error

	done      chan struct{}
	closeOnce sync.Once
}

// NewEvents creates an event hub with buffering sized for audio bursts.
func NewEvents() *Events {
	return &Events{
		audio:       make(chan AudioFrame, 1024),
		transcripts: make(chan Transcript, 64),
		statuses:    make(chan StatusChange, 16),
		errs:        make(chan *Error, 16),
		done:        make(chan struct{}),
	}
}

// Audio returns the outbound audio channel.
func (e *Events) Audio() <-chan AudioFrame { return e.audio }

// Transcripts returns the outbound transcript channel.
func (e *Events) Transcripts() <-chan Transcript { return e.transcripts }

// Statuses returns the outbound status-change channel.
func (e *Events) Statuses() <-chan StatusChange { return e.statuses }

// Errors returns the outbound error channel.
func (e *Events) Errors() <-chan *Error { return e.errs }

// Done is closed when the hub is closed.
func (e *Events) Done() <-chan struct{} { return e.done }

// Close detaches all producers. Emits after Close are discarded.
func (e *Events) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// EmitAudio delivers an audio frame. If the consumer has fallen behind the
// frame is dropped rather than stalling the provider read loop.
func (e *Events) EmitAudio(f AudioFrame) {
	select {
	case <-e.done:
	case e.audio <- f:
	default:
	}
}

// EmitTranscript delivers a transcript event, blocking until the consumer
// accepts it or the hub closes. Transcript text must never be dropped.
func (e *Events) EmitTranscript(t Transcript) {
	select {
	case <-e.done:
	case e.transcripts <- t:
	}
}

// EmitStatus delivers a status transition.
func (e *Events) EmitStatus(agent ID, status Status) {
	select {
	case <-e.done:
	case e.statuses <- StatusChange{Agent: agent, Status: status}:
	}
}

// EmitError delivers an adapter error.
func (e *Events) EmitError(err *Error) {
	if err == nil {
		return
	}
	select {
	case <-e.done:
	case e.errs <- err:
	}
}
