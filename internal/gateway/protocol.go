package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/calliope-ai/voicebridge/internal/agent"
	"github.com/calliope-ai/voicebridge/internal/session"
)

// Control actions accepted from the client.
const (
	ActionStart      = "start"
	ActionStop       = "stop"
	ActionSwap       = "swap"
	ActionSelect     = "select"
	ActionToggleDual = "toggle-dual"
	ActionMicRelease = "mic-release"
)

// clientMessage is any text frame received from the client.
type clientMessage struct {
	Type    string         `json:"type"`
	Action  string         `json:"action,omitempty"`
	Payload controlPayload `json:"payload,omitempty"`
}

type controlPayload struct {
	Agent   agent.ID `json:"agent,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
}

// statusMessage pushes the full session snapshot. Sent once after connect
// and again after every control action so the client never tracks deltas.
type statusMessage struct {
	Type    string           `json:"type"`
	Session session.Snapshot `json:"session"`
}

type transcriptMessage struct {
	Type    string     `json:"type"`
	Agent   agent.ID   `json:"agent"`
	Role    agent.Role `json:"role"`
	Text    string     `json:"text"`
	IsFinal bool       `json:"isFinal"`
}

type errorMessage struct {
	Type    string     `json:"type"`
	Code    agent.Code `json:"code"`
	Message string     `json:"message"`
	Agent   agent.ID   `json:"agent,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	var m clientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return clientMessage{}, fmt.Errorf("parse client message: %w", err)
	}
	if m.Type != "control" {
		return clientMessage{}, fmt.Errorf("unexpected message type %q", m.Type)
	}
	return m, nil
}
