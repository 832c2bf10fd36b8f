package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calliope-ai/voicebridge/internal/agent"
	"github.com/calliope-ai/voicebridge/internal/logging"
	"github.com/calliope-ai/voicebridge/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// codeBadRequest marks malformed control messages from the client. It is
// not an agent failure so it carries no agent id.
const codeBadRequest agent.Code = "bad-request"

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// Handler upgrades client connections and bridges them to a session: binary
// frames in become routed microphone audio, text frames in are control
// commands, and session events flow back out as JSON plus binary audio.
type Handler struct {
	cfg          session.Config
	defaultAgent agent.ID
	factory      session.Factory
}

func NewHandler(cfg session.Config, defaultAgent agent.ID, factory session.Factory) *Handler {
	return &Handler{cfg: cfg, defaultAgent: defaultAgent, factory: factory}
}

// ServeWebSocket owns the socket for its whole lifetime. The session is
// created on upgrade and closed when the socket drops, whichever side
// drops it.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("ws upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sess, err := session.New(h.cfg, h.defaultAgent, h.factory)
	if err != nil {
		logging.Errorw("session create failed", "err", err)
		return
	}
	defer sess.Close()
	logging.Infow("client connected", "session", sess.ID(), "remote", r.RemoteAddr)

	// All writes go through the pump; outbound carries status and error
	// JSON produced by the read loop.
	outbound := make(chan any, 16)
	pumpDone := make(chan struct{})
	go h.writePump(conn, sess, outbound, pumpDone)

	// Initial snapshot so the client knows mode, primary and sample rate
	// before sending any audio.
	send(outbound, pumpDone, statusMessage{Type: "status", Session: sess.Snapshot()})

	h.readLoop(conn, sess, outbound, pumpDone)
	close(outbound)
	<-pumpDone
	logging.Infow("client disconnected", "session", sess.ID())
}

// send queues v for the write pump, giving up if the pump has exited.
func send(outbound chan<- any, pumpDone <-chan struct{}, v any) {
	select {
	case outbound <- v:
	case <-pumpDone:
	}
}

func (h *Handler) readLoop(conn *websocket.Conn, sess *session.Session, outbound chan<- any, pumpDone <-chan struct{}) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Warnw("ws read error", "session", sess.ID(), "err", err)
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			sess.RouteAudio(data)
		case websocket.TextMessage:
			msg, err := parseClientMessage(data)
			if err != nil {
				send(outbound, pumpDone, errorMessage{Type: "error", Code: codeBadRequest, Message: err.Error()})
				continue
			}
			if err := h.dispatch(sess, msg); err != nil {
				send(outbound, pumpDone, errorMessage{Type: "error", Code: codeBadRequest, Message: err.Error()})
			}
			// Every control action is answered with a fresh snapshot.
			send(outbound, pumpDone, statusMessage{Type: "status", Session: sess.Snapshot()})
		}
	}
}

func (h *Handler) dispatch(sess *session.Session, msg clientMessage) error {
	switch msg.Action {
	case ActionStart:
		return sess.Start()
	case ActionStop:
		sess.Stop()
		return nil
	case ActionSwap:
		return sess.Swap(msg.Payload.Agent)
	case ActionSelect:
		return sess.Select(msg.Payload.Agent)
	case ActionToggleDual:
		if msg.Payload.Enabled == nil {
			return fmt.Errorf("toggle-dual requires payload.enabled")
		}
		return sess.ToggleDual(*msg.Payload.Enabled)
	case ActionMicRelease:
		sess.MicRelease()
		return nil
	default:
		return fmt.Errorf("unknown action %q", msg.Action)
	}
}

// writePump is the only goroutine that writes to the socket. Agent audio
// goes out as binary frames; in dual mode only the primary agent's audio
// is forwarded since the client plays one stream at one sample rate.
func (h *Handler) writePump(conn *websocket.Conn, sess *session.Session, outbound <-chan any, done chan<- struct{}) {
	defer close(done)
	ev := sess.Events()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-ev.Audio():
			if !ok {
				return
			}
			if frame.Agent != sess.Primary() {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame.PCM); err != nil {
				return
			}
		case tr, ok := <-ev.Transcripts():
			if !ok {
				return
			}
			if err := h.writeJSON(conn, transcriptMessage{
				Type: "transcript", Agent: tr.Agent, Role: tr.Role, Text: tr.Text, IsFinal: tr.Final,
			}); err != nil {
				return
			}
		case _, ok := <-ev.Statuses():
			if !ok {
				return
			}
			if err := h.writeJSON(conn, statusMessage{Type: "status", Session: sess.Snapshot()}); err != nil {
				return
			}
		case aerr, ok := <-ev.Errors():
			if !ok {
				return
			}
			if err := h.writeJSON(conn, errorMessage{
				Type: "error", Code: aerr.Code, Message: aerr.Error(), Agent: aerr.Agent,
			}); err != nil {
				return
			}
		case v, ok := <-outbound:
			if !ok {
				return
			}
			if err := h.writeJSON(conn, v); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ev.Done():
			return
		}
	}
}

func (h *Handler) writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
