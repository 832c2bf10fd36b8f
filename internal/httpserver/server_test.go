package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calliope-ai/voicebridge/internal/agent"
	"github.com/calliope-ai/voicebridge/internal/config"
)

func TestHealthz(t *testing.T) {
	e := New(config.Config{})
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestFactoryBuildsEveryAgent(t *testing.T) {
	f := Factory(config.Config{TTSProvider: "deepgram"})
	ev := agent.NewEvents()
	defer ev.Close()
	for _, id := range []agent.ID{agent.Realtime, agent.Pipeline, agent.ConvAI} {
		ad, err := f(id, ev)
		if err != nil {
			t.Fatalf("factory(%s): %v", id, err)
		}
		if ad.ID() != id {
			t.Fatalf("factory(%s) built adapter %s", id, ad.ID())
		}
		if ad.RequiredSampleRate() <= 0 {
			t.Fatalf("factory(%s): sample rate %d", id, ad.RequiredSampleRate())
		}
	}
}

func TestFactoryRejectsUnknownAgentAndProvider(t *testing.T) {
	ev := agent.NewEvents()
	defer ev.Close()
	if _, err := Factory(config.Config{})(agent.ID("bogus"), ev); err == nil {
		t.Fatal("expected error for unknown agent")
	}
	if _, err := Factory(config.Config{TTSProvider: "nope"})(agent.Pipeline, ev); err == nil {
		t.Fatal("expected error for unknown tts provider")
	}
}
