package gateway

import (
	"testing"

	"github.com/calliope-ai/voicebridge/internal/agent"
)

func TestParseClientMessage(t *testing.T) {
	m, err := parseClientMessage([]byte(`{"type":"control","action":"swap","payload":{"agent":"convai"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Action != ActionSwap || m.Payload.Agent != agent.ConvAI {
		t.Fatalf("parsed %+v", m)
	}
}

func TestParseClientMessage_ToggleDualPayload(t *testing.T) {
	m, err := parseClientMessage([]byte(`{"type":"control","action":"toggle-dual","payload":{"enabled":false}}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Payload.Enabled == nil || *m.Payload.Enabled {
		t.Fatalf("enabled = %v, want false", m.Payload.Enabled)
	}
}

func TestParseClientMessage_Rejects(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"audio"}`,
	}
	for _, c := range cases {
		if _, err := parseClientMessage([]byte(c)); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}
