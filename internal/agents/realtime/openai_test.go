package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calliope-ai/voicebridge/internal/agent"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// fakeRealtimeServer records inbound client messages and can push events.
type fakeRealtimeServer struct {
	srv  *httptest.Server
	mu   sync.Mutex
	msgs []map[string]any
	conn *websocket.Conn
}

func newFakeRealtimeServer(t *testing.T) *fakeRealtimeServer {
	f := &fakeRealtimeServer{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		for {
			var m map[string]any
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			f.mu.Lock()
			f.msgs = append(f.msgs, m)
			f.mu.Unlock()
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRealtimeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRealtimeServer) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		if t, ok := m["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeRealtimeServer) push(t *testing.T, v any) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()
		if conn != nil {
			if err := conn.WriteJSON(v); err != nil {
				t.Fatalf("push: %v", err)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no client connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnect_NoKeyIsAuthError(t *testing.T) {
	ev := agent.NewEvents()
	defer ev.Close()
	a := New(Config{}, ev)
	err := a.Connect(context.Background())
	if err == nil {
		t.Fatalf("expected error with missing key")
	}
	if agent.CodeOf(err) != agent.CodeAuth {
		t.Fatalf("expected auth code, got %s", agent.CodeOf(err))
	}
	if a.Status() != agent.StatusError {
		t.Fatalf("expected error status, got %s", a.Status())
	}
}

func TestConnect_SendsSessionUpdateAndCommitFlow(t *testing.T) {
	f := newFakeRealtimeServer(t)
	ev := agent.NewEvents()
	defer ev.Close()
	a := New(Config{APIKey: "key", URL: f.wsURL()}, ev)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer a.Disconnect()
	if a.Status() != agent.StatusConnected {
		t.Fatalf("expected connected, got %s", a.Status())
	}

	a.SendAudio([]byte{1, 0, 2, 0})
	a.CommitTurn()

	waitFor(t, func() bool { return len(f.types()) >= 4 })
	got := f.types()
	want := []string{"session.update", "input_audio_buffer.append", "input_audio_buffer.commit", "response.create"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d mismatch: got %v want %v", i, got, want)
		}
	}

	// Base64 round-trip of the appended audio.
	f.mu.Lock()
	audioB64, _ := f.msgs[1]["audio"].(string)
	f.mu.Unlock()
	pcm, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil || len(pcm) != 4 {
		t.Fatalf("append payload mismatch: %q", audioB64)
	}
}

func TestHandleServerEvent_Translation(t *testing.T) {
	ev := agent.NewEvents()
	defer ev.Close()
	a := New(Config{APIKey: "key"}, ev)

	pcm := []byte{9, 0, 8, 0}
	events := []any{
		map[string]any{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm)},
		map[string]any{"type": "response.audio_transcript.delta", "delta": "Hel"},
		map[string]any{"type": "response.audio_transcript.done", "transcript": "Hello."},
		map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "hi there"},
		map[string]any{"type": "error", "error": map[string]any{"message": "bad thing"}},
	}
	for _, e := range events {
		raw, _ := json.Marshal(e)
		a.handleServerEvent(raw)
	}

	frame := <-ev.Audio()
	if string(frame.PCM) != string(pcm) || frame.SampleRate != 24000 {
		t.Fatalf("audio frame mismatch: %+v", frame)
	}
	tr := <-ev.Transcripts()
	if tr.Final || tr.Text != "Hel" || tr.Role != agent.RoleAssistant {
		t.Fatalf("partial transcript mismatch: %+v", tr)
	}
	tr = <-ev.Transcripts()
	if !tr.Final || tr.Text != "Hello." {
		t.Fatalf("final transcript mismatch: %+v", tr)
	}
	tr = <-ev.Transcripts()
	if !tr.Final || tr.Role != agent.RoleUser || tr.Text != "hi there" {
		t.Fatalf("user transcript mismatch: %+v", tr)
	}
	ae := <-ev.Errors()
	if ae.Code != agent.CodeUpstream || !strings.Contains(ae.Error(), "bad thing") {
		t.Fatalf("error event mismatch: %v", ae)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	f := newFakeRealtimeServer(t)
	ev := agent.NewEvents()
	defer ev.Close()
	a := New(Config{APIKey: "key", URL: f.wsURL()}, ev)
	a.Disconnect() // never connected
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	a.Disconnect()
	a.Disconnect()
	if a.Status() != agent.StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", a.Status())
	}
}
