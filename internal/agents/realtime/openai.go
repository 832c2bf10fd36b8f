package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calliope-ai/voicebridge/internal/agent"
	"github.com/calliope-ai/voicebridge/internal/logging"
)

// Config is the immutable adapter configuration.
type Config struct {
	APIKey       string
	Model        string
	Voice        string
	Instructions string
	// SampleRate of PCM16 audio in both directions (the realtime API uses
	// 24 kHz for pcm16).
	SampleRate int
	// URL overrides the provider endpoint, used by tests.
	URL string
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "gpt-4o-realtime-preview"
	}
	if c.Voice == "" {
		c.Voice = "alloy"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 24000
	}
	if c.URL == "" {
		c.URL = "wss://api.openai.com/v1/realtime"
	}
	return c
}

// Adapter is the full-duplex realtime voice agent. One websocket stays open
// to the provider; input frames are forwarded immediately, transcript and
// audio deltas come back asynchronously. The session uses manual turn
// taking, so server-side voice activity detection is disabled and
// CommitTurn finalizes the input buffer and requests a response.
type Adapter struct {
	cfg Config
	ev  *agent.Events

	mu      sync.Mutex
	status  agent.Status
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New constructs a realtime adapter sharing the session's events hub.
func New(cfg Config, ev *agent.Events) *Adapter {
	return &Adapter{cfg: cfg.withDefaults(), ev: ev, status: agent.StatusDisconnected}
}

// ID implements agent.Adapter.
func (a *Adapter) ID() agent.ID { return agent.Realtime }

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
	a.ev.EmitStatus(agent.Realtime, s)
}

func (a *Adapter) fail(code agent.Code, err error) error {
	werr := agent.NewError(agent.Realtime, code, err)
	a.setStatus(agent.StatusError)
	a.ev.EmitError(werr)
	return werr
}

// Connect implements agent.Adapter. No-op when already connecting or
// connected.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.status == agent.StatusConnected || a.status == agent.StatusConnecting {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()
	a.setStatus(agent.StatusConnecting)

	if a.cfg.APIKey == "" {
		return a.fail(agent.CodeAuth, fmt.Errorf("openai api key missing"))
	}

	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return a.fail(agent.CodeConnection, err)
	}
	q := u.Query()
	q.Set("model", a.cfg.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return a.fail(agent.CodeAuth, fmt.Errorf("realtime handshake rejected: status=%d", resp.StatusCode))
		}
		return a.fail(agent.CodeConnection, fmt.Errorf("realtime dial: %w", err))
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	// Manual turn taking: no server VAD, PCM16 both ways.
	sessionUpdate := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"voice":               a.cfg.Voice,
			"instructions":        a.cfg.Instructions,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": nil,
		},
	}
	if err := a.writeJSON(sessionUpdate); err != nil {
		a.closeConn()
		return a.fail(agent.CodeConnection, fmt.Errorf("realtime session.update: %w", err))
	}

	a.setStatus(agent.StatusConnected)
	go a.readLoop(conn)
	return nil
}

// Disconnect implements agent.Adapter. Idempotent and safe on a
// never-connected instance.
func (a *Adapter) Disconnect() {
	a.closeConn()
	a.setStatus(agent.StatusDisconnected)
}

func (a *Adapter) closeConn() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// SendAudio implements agent.Adapter: forwards one PCM16 frame re-encoded
// as base64 in an append event. Frames sent while not connected are
// dropped.
func (a *Adapter) SendAudio(pcm []byte) {
	if len(pcm) == 0 || a.Status() != agent.StatusConnected {
		return
	}
	msg := map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	}
	if err := a.writeJSON(msg); err != nil {
		logging.Debugw("realtime: audio append failed", "err", err)
	}
}

// CommitTurn implements agent.Adapter: finalizes the input buffer and asks
// for a response (mic release in push-to-talk flows).
func (a *Adapter) CommitTurn() {
	if a.Status() != agent.StatusConnected {
		return
	}
	if err := a.writeJSON(map[string]any{"type": "input_audio_buffer.commit"}); err != nil {
		logging.Debugw("realtime: commit failed", "err", err)
		return
	}
	if err := a.writeJSON(map[string]any{"type": "response.create"}); err != nil {
		logging.Debugw("realtime: response.create failed", "err", err)
	}
}

func (a *Adapter) writeJSON(v any) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (a *Adapter) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			deliberate := a.conn == nil
			a.mu.Unlock()
			if !deliberate {
				a.closeConn()
				_ = a.fail(agent.CodeConnection, fmt.Errorf("realtime transport closed: %w", err))
			}
			return
		}
		a.handleServerEvent(data)
	}
}

type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// handleServerEvent translates provider events 1:1 into adapter events.
func (a *Adapter) handleServerEvent(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logging.Debugw("realtime: unparseable event", "err", err)
		return
	}
	switch ev.Type {
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		a.ev.EmitAudio(agent.AudioFrame{Agent: agent.Realtime, SampleRate: a.cfg.SampleRate, PCM: pcm})
	case "response.audio_transcript.delta":
		if ev.Delta != "" {
			a.ev.EmitTranscript(agent.Transcript{Agent: agent.Realtime, Role: agent.RoleAssistant, Text: ev.Delta, Final: false})
		}
	case "response.audio_transcript.done":
		if ev.Transcript != "" {
			a.ev.EmitTranscript(agent.Transcript{Agent: agent.Realtime, Role: agent.RoleAssistant, Text: ev.Transcript, Final: true})
		}
	case "conversation.item.input_audio_transcription.completed":
		if ev.Transcript != "" {
			a.ev.EmitTranscript(agent.Transcript{Agent: agent.Realtime, Role: agent.RoleUser, Text: ev.Transcript, Final: true})
		}
	case "error":
		msg := "provider error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		a.ev.EmitError(agent.NewError(agent.Realtime, agent.CodeUpstream, fmt.Errorf("%s", msg)))
	}
}
