package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/calliope-ai/voicebridge/internal/agent"
	"github.com/calliope-ai/voicebridge/internal/audio"
	"github.com/calliope-ai/voicebridge/internal/llm"
	"github.com/calliope-ai/voicebridge/internal/logging"
)

// Config is the immutable per-adapter configuration.
type Config struct {
	// SampleRate is the required input rate for SendAudio frames.
	SampleRate int
	// SynthSampleRate is the rate of the synthesizer's PCM output.
	SynthSampleRate int
	// OutFrameSize is the target emitted audio frame size in bytes.
	OutFrameSize int
	// SilenceHold is the idle window after the last frame before the
	// buffered utterance is committed. Mic release commits immediately.
	SilenceHold time.Duration
	// HistoryTurns caps conversation history in user/assistant pairs.
	HistoryTurns int
	// SystemPrompt seeds every generation request.
	SystemPrompt string
	// MaxConcurrentSynth bounds overlapping sentence synthesis calls.
	MaxConcurrentSynth int64
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.SynthSampleRate == 0 {
		c.SynthSampleRate = 24000
	}
	if c.OutFrameSize == 0 {
		c.OutFrameSize = 4800
	}
	if c.SilenceHold == 0 {
		c.SilenceHold = 900 * time.Millisecond
	}
	if c.HistoryTurns == 0 {
		c.HistoryTurns = 8
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are a helpful, concise voice AI agent. Answer clearly and briefly."
	}
	if c.MaxConcurrentSynth == 0 {
		c.MaxConcurrentSynth = 3
	}
	return c
}

type convTurn struct {
	Role string // "user" or "assistant"
	Text string
}

// Adapter is the decomposed transcribe -> generate -> synthesize agent.
// Generation and synthesis overlap at sentence granularity: sentence k+1's
// tokens stream in while sentence k's audio is still being synthesized.
type Adapter struct {
	cfg   Config
	stt   Transcriber
	gen   Generator
	synth Synthesizer
	ev    *agent.Events
	sem   *semaphore.Weighted

	mu        sync.Mutex
	status    agent.Status
	ctx       context.Context
	cancel    context.CancelFunc
	audioBuf  []byte
	idleTimer *time.Timer

	// turnMu serializes turns so the history is only ever mutated by the
	// pipeline's own sequential steps.
	turnMu  sync.Mutex
	history []convTurn
}

// New constructs a pipeline adapter. The events hub is shared with the
// owning session.
func New(cfg Config, stt Transcriber, gen Generator, synth Synthesizer, ev *agent.Events) *Adapter {
	cfg = cfg.withDefaults()
	return &Adapter{
		cfg:    cfg,
		stt:    stt,
		gen:    gen,
		synth:  synth,
		ev:     ev,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentSynth),
		status: agent.StatusDisconnected,
	}
}

// ID implements agent.Adapter.
func (a *Adapter) ID() agent.ID { return agent.Pipeline }

// RequiredSampleRate implements agent.Adapter.
func (a *Adapter) RequiredSampleRate() int { return a.cfg.SampleRate }

// Status implements agent.Adapter.
func (a *Adapter) Status() agent.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Adapter) setStatus(s agent.Status) {
	a.mu.Lock()
	if a.status == s {
		a.mu.Unlock()
		return
	}
	a.status = s
	a.mu.Unlock()
	a.ev.EmitStatus(agent.Pipeline, s)
}

// Connect implements agent.Adapter. The pipeline holds no standing provider
// connection; connect validates its collaborators and arms the adapter.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status == agent.StatusConnected || a.status == agent.StatusConnecting {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()
	a.setStatus(agent.StatusConnecting)

	if a.stt == nil || a.gen == nil || a.synth == nil {
		err := agent.NewError(agent.Pipeline, agent.CodeAuth, fmt.Errorf("pipeline services not configured"))
		a.setStatus(agent.StatusError)
		a.ev.EmitError(err)
		return err
	}

	a.mu.Lock()
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.audioBuf = nil
	a.mu.Unlock()
	a.setStatus(agent.StatusConnected)
	return nil
}

// Disconnect implements agent.Adapter. Safe on a never-connected instance;
// in-flight transcription, generation and synthesis are abandoned.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if a.idleTimer != nil {
		_ = a.idleTimer.Stop()
		a.idleTimer = nil
	}
	cancel := a.cancel
	a.cancel = nil
	a.audioBuf = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.setStatus(agent.StatusDisconnected)
}

// SendAudio implements agent.Adapter. Frames accumulate until the silence
// timer or an explicit CommitTurn fires.
func (a *Adapter) SendAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	a.mu.Lock()
	if a.status != agent.StatusConnected {
		a.mu.Unlock()
		return
	}
	a.audioBuf = append(a.audioBuf, pcm...)
	if a.idleTimer == nil {
		a.idleTimer = time.AfterFunc(a.cfg.SilenceHold, a.onIdle)
	} else {
		_ = a.idleTimer.Stop()
		a.idleTimer.Reset(a.cfg.SilenceHold)
	}
	a.mu.Unlock()
}

// CommitTurn implements agent.Adapter: the push-to-talk end-of-utterance
// signal. The silence timer remains as a fallback for callers that never
// send it.
func (a *Adapter) CommitTurn() { a.triggerTurn() }

func (a *Adapter) onIdle() { a.triggerTurn() }

func (a *Adapter) triggerTurn() {
	a.mu.Lock()
	if a.status != agent.StatusConnected || len(a.audioBuf) == 0 {
		a.mu.Unlock()
		return
	}
	payload := a.audioBuf
	a.audioBuf = nil
	if a.idleTimer != nil {
		_ = a.idleTimer.Stop()
	}
	ctx := a.ctx
	a.mu.Unlock()
	if ctx == nil {
		return
	}
	go a.runTurn(ctx, payload)
}

// runTurn executes one full utterance turn. Upstream failures abort the
// turn only; the adapter stays connected for the next one.
func (a *Adapter) runTurn(ctx context.Context, payload []byte) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	if ctx.Err() != nil {
		return
	}

	wav := audio.WAVFromPCM16(payload, a.cfg.SampleRate)
	text, err := a.stt.Transcribe(ctx, wav)
	if err != nil {
		if ctx.Err() == nil {
			a.ev.EmitError(agent.NewError(agent.Pipeline, agent.CodeUpstream, fmt.Errorf("transcribe: %w", err)))
		}
		return
	}
	if strings.TrimSpace(text) == "" {
		// Silence; not an error and no downstream effects.
		return
	}

	a.appendTurn("user", text)
	a.ev.EmitTranscript(agent.Transcript{Agent: agent.Pipeline, Role: agent.RoleUser, Text: text, Final: true})

	reply, ok := a.generateAndSpeak(ctx, a.buildMessages())
	if !ok || strings.TrimSpace(reply) == "" {
		return
	}
	a.appendTurn("assistant", reply)
	a.ev.EmitTranscript(agent.Transcript{Agent: agent.Pipeline, Role: agent.RoleAssistant, Text: reply, Final: true})
}

// generateAndSpeak streams tokens, launches per-sentence synthesis without
// waiting, and returns the full reply. Synthesis calls may complete out of
// order; the emit loop drains jobs strictly in submission order so each
// sentence's audio leaves as one contiguous block.
func (a *Adapter) generateAndSpeak(ctx context.Context, messages []llm.Message) (string, bool) {
	tokens, genErrCh := a.gen.Stream(ctx, messages)

	jobs := make(chan *synthJob, 32)
	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		a.emitLoop(ctx, jobs)
	}()

	// pending carries the same jobs to the dispatcher, which issues the
	// synthesis calls one at a time so they start in generation order.
	pending := make(chan *synthJob, 32)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatchSynth(ctx, pending)
	}()

	submit := func(sentence string) {
		job := &synthJob{text: sentence, frames: make(chan []byte, 256)}
		jobs <- job
		pending <- job
	}

	var full strings.Builder
	var split sentenceSplitter
	for tok := range tokens {
		full.WriteString(tok)
		a.ev.EmitTranscript(agent.Transcript{Agent: agent.Pipeline, Role: agent.RoleAssistant, Text: tok, Final: false})
		for _, sentence := range split.Push(tok) {
			submit(sentence)
		}
	}
	genErr := <-genErrCh
	if genErr == nil {
		if tail := split.Flush(); tail != "" {
			submit(tail)
		}
	}
	close(pending)
	<-dispatchDone
	close(jobs)
	<-emitDone

	if genErr != nil {
		if ctx.Err() == nil {
			a.ev.EmitError(agent.NewError(agent.Pipeline, agent.CodeUpstream, fmt.Errorf("generate: %w", genErr)))
		}
		return "", false
	}
	return full.String(), true
}

// synthJob carries one sentence's raw synthesized byte stream from its
// synthesis goroutine to the in-order emit loop.
type synthJob struct {
	text   string
	frames chan []byte
	err    error
}

// dispatchSynth starts synthesis for queued sentences strictly in
// submission order. Stream returns its channels immediately, so issuing the
// calls from one goroutine keeps the order deterministic while the
// semaphore caps how many streams are open at once. Byte pumping fans out
// so slow sentences overlap.
func (a *Adapter) dispatchSynth(ctx context.Context, pending <-chan *synthJob) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for job := range pending {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			close(job.frames)
			continue
		}
		pcmCh, errCh := a.synth.Stream(ctx, job.text)
		wg.Add(1)
		go func(job *synthJob) {
			defer wg.Done()
			defer a.sem.Release(1)
			a.pumpSynth(ctx, job, pcmCh, errCh)
		}(job)
	}
}

func (a *Adapter) pumpSynth(ctx context.Context, job *synthJob, pcmCh <-chan []byte, errCh <-chan error) {
	defer close(job.frames)
	for pcmCh != nil || errCh != nil {
		select {
		case p, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			select {
			case job.frames <- p:
			case <-ctx.Done():
				return
			}
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if e != nil {
				job.err = e
			}
		case <-ctx.Done():
			return
		}
	}
}

// emitLoop drains synthesis jobs in submission order, re-chunking each
// sentence's byte stream into sample-aligned frames.
func (a *Adapter) emitLoop(ctx context.Context, jobs <-chan *synthJob) {
	for job := range jobs {
		chunker := newFrameChunker(a.cfg.OutFrameSize)
		for p := range job.frames {
			chunker.Write(p)
			for {
				frame, ok := chunker.Next()
				if !ok {
					break
				}
				a.emitAudio(frame)
			}
		}
		if tail := chunker.Flush(); len(tail) > 0 {
			a.emitAudio(tail)
		}
		if job.err != nil && ctx.Err() == nil {
			logging.Warnw("pipeline: sentence synthesis failed", "err", job.err)
			a.ev.EmitError(agent.NewError(agent.Pipeline, agent.CodeUpstream, fmt.Errorf("synthesize: %w", job.err)))
		}
	}
}

func (a *Adapter) emitAudio(frame []byte) {
	a.ev.EmitAudio(agent.AudioFrame{Agent: agent.Pipeline, SampleRate: a.cfg.SynthSampleRate, PCM: frame})
}

func (a *Adapter) appendTurn(role, text string) {
	a.history = append(a.history, convTurn{Role: role, Text: text})
	// Evict oldest entries beyond the configured turn budget.
	if max := a.cfg.HistoryTurns * 2; len(a.history) > max {
		a.history = append(a.history[:0:0], a.history[len(a.history)-max:]...)
	}
}

func (a *Adapter) buildMessages() []llm.Message {
	msgs := make([]llm.Message, 0, len(a.history)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: a.cfg.SystemPrompt})
	for _, t := range a.history {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Text})
	}
	return msgs
}
