package convai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
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
	APIKey  string
	AgentID string
	// SampleRate of PCM16 input audio (ConvAI agents default to 16 kHz).
	SampleRate int
	// BaseURL overrides the API host, used by tests.
	BaseURL string
	// HTTPClient performs the signed-URL request.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.elevenlabs.io"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return c
}

// Adapter is the third-party conversational agent: it exchanges a
// short-lived signed connection URL for the configured agent, opens a
// websocket to it, sends the initiation handshake, and then forwards audio
// while answering provider keep-alive pings.
type Adapter struct {
	cfg Config
	ev  *agent.Events

	mu      sync.Mutex
	status  agent.Status
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex
}

// New constructs a conversational adapter sharing the session's events hub.
func New(cfg Config, ev *agent.Events) *Adapter {
	return &Adapter{cfg: cfg.withDefaults(), ev: ev, status: agent.StatusDisconnected}
}

// ID implements agent.Adapter.
func (a *Adapter) ID() agent.ID { return agent.ConvAI }

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
	a.ev.EmitStatus(agent.ConvAI, s)
}

func (a *Adapter) fail(code agent.Code, err error) error {
	werr := agent.NewError(agent.ConvAI, code, err)
	a.setStatus(agent.StatusError)
	a.ev.EmitError(werr)
	return werr
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

func (a *Adapter) fetchSignedURL(ctx context.Context) (string, error) {
	u, err := url.Parse(a.cfg.BaseURL + "/v1/convai/conversation/get_signed_url")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("agent_id", a.cfg.AgentID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", a.cfg.APIKey)

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", agent.NewError(agent.ConvAI, agent.CodeAuth, fmt.Errorf("signed url rejected: status=%d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("signed url error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var sr signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", err
	}
	if sr.SignedURL == "" {
		return "", fmt.Errorf("signed url response empty")
	}
	return sr.SignedURL, nil
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

	if a.cfg.APIKey == "" || a.cfg.AgentID == "" {
		return a.fail(agent.CodeAuth, fmt.Errorf("elevenlabs api key or agent id missing"))
	}

	signedURL, err := a.fetchSignedURL(ctx)
	if err != nil {
		if agent.CodeOf(err) == agent.CodeAuth {
			return a.fail(agent.CodeAuth, err)
		}
		return a.fail(agent.CodeConnection, fmt.Errorf("convai signed url: %w", err))
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		return a.fail(agent.CodeConnection, fmt.Errorf("convai dial: %w", err))
	}

	a.mu.Lock()
	a.conn = conn
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	if err := a.writeJSON(map[string]any{"type": "conversation_initiation_client_data"}); err != nil {
		a.closeConn()
		return a.fail(agent.CodeConnection, fmt.Errorf("convai handshake: %w", err))
	}

	a.setStatus(agent.StatusConnected)
	go a.readLoop(conn)
	return nil
}

// Disconnect implements agent.Adapter. Idempotent and safe on a
// never-connected instance.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
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

// SendAudio implements agent.Adapter. Frames sent while not connected are
// dropped.
func (a *Adapter) SendAudio(pcm []byte) {
	if len(pcm) == 0 || a.Status() != agent.StatusConnected {
		return
	}
	msg := map[string]any{"user_audio_chunk": base64.StdEncoding.EncodeToString(pcm)}
	if err := a.writeJSON(msg); err != nil {
		logging.Debugw("convai: audio chunk failed", "err", err)
	}
}

// CommitTurn implements agent.Adapter. The provider performs its own turn
// detection, so mic release needs no explicit commit here.
func (a *Adapter) CommitTurn() {}

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
				_ = a.fail(agent.CodeConnection, fmt.Errorf("convai transport closed: %w", err))
			}
			return
		}
		a.handleServerEvent(data)
	}
}

type serverEvent struct {
	Type       string `json:"type"`
	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event,omitempty"`
	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`
	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`
	PingEvent *struct {
		EventID int `json:"event_id"`
		PingMS  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`
}

// handleServerEvent translates provider events into adapter events and
// answers keep-alive pings.
func (a *Adapter) handleServerEvent(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logging.Debugw("convai: unparseable event", "err", err)
		return
	}
	switch ev.Type {
	case "audio":
		if ev.AudioEvent == nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(ev.AudioEvent.AudioBase64)
		if err != nil || len(pcm) == 0 {
			return
		}
		a.ev.EmitAudio(agent.AudioFrame{Agent: agent.ConvAI, SampleRate: a.cfg.SampleRate, PCM: pcm})
	case "user_transcript":
		if ev.UserTranscriptionEvent != nil && ev.UserTranscriptionEvent.UserTranscript != "" {
			a.ev.EmitTranscript(agent.Transcript{Agent: agent.ConvAI, Role: agent.RoleUser, Text: ev.UserTranscriptionEvent.UserTranscript, Final: true})
		}
	case "agent_response":
		if ev.AgentResponseEvent != nil && ev.AgentResponseEvent.AgentResponse != "" {
			a.ev.EmitTranscript(agent.Transcript{Agent: agent.ConvAI, Role: agent.RoleAssistant, Text: ev.AgentResponseEvent.AgentResponse, Final: true})
		}
	case "ping":
		if ev.PingEvent == nil {
			return
		}
		a.schedulePong(ev.PingEvent.EventID, ev.PingEvent.PingMS)
	}
}

// schedulePong answers a keep-alive ping, honoring the requested delay so
// idle connections are not dropped by the provider.
func (a *Adapter) schedulePong(eventID, pingMS int) {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	if ctx == nil {
		return
	}
	go func() {
		if pingMS > 0 {
			select {
			case <-time.After(time.Duration(pingMS) * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
		if err := a.writeJSON(map[string]any{"type": "pong", "event_id": eventID}); err != nil {
			logging.Debugw("convai: pong failed", "err", err)
		}
	}()
}
