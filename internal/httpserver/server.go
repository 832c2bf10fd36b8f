package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/calliope-ai/voicebridge/internal/agent"
	"github.com/calliope-ai/voicebridge/internal/agents/convai"
	"github.com/calliope-ai/voicebridge/internal/agents/pipeline"
	"github.com/calliope-ai/voicebridge/internal/agents/realtime"
	"github.com/calliope-ai/voicebridge/internal/config"
	"github.com/calliope-ai/voicebridge/internal/gateway"
	"github.com/calliope-ai/voicebridge/internal/llm"
	"github.com/calliope-ai/voicebridge/internal/session"
	"github.com/calliope-ai/voicebridge/internal/transcript"
	"github.com/calliope-ai/voicebridge/internal/tts"
)

const systemPrompt = "You are a helpful voice assistant. Keep answers short and conversational; they will be spoken aloud."

// New constructs the Echo server with routes wired to the given config.
func New(cfg config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	gw := gateway.NewHandler(
		session.Config{KeepWarmOnSwap: cfg.KeepWarmOnSwap},
		agent.Realtime,
		Factory(cfg),
	)
	e.GET("/session", echo.WrapHandler(http.HandlerFunc(gw.ServeWebSocket)))

	return e
}

// Factory builds per-session adapters from the process config. Each call
// returns a fresh adapter bound to the session's event hub; sessions never
// share provider connections.
func Factory(cfg config.Config) session.Factory {
	return func(id agent.ID, ev *agent.Events) (agent.Adapter, error) {
		switch id {
		case agent.Realtime:
			return realtime.New(realtime.Config{
				APIKey:       cfg.OpenAIKey,
				Model:        cfg.RealtimeModel,
				Voice:        cfg.RealtimeVoice,
				Instructions: systemPrompt,
			}, ev), nil
		case agent.Pipeline:
			stt := transcript.NewOpenAIClient(cfg.OpenAIKey, cfg.TranscribeModel)
			gen := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.ChatModel)
			synth, err := synthesizer(cfg)
			if err != nil {
				return nil, err
			}
			return pipeline.New(pipeline.Config{
				SilenceHold:  cfg.SilenceHold,
				HistoryTurns: cfg.HistoryTurns,
				SystemPrompt: systemPrompt,
			}, stt, gen, synth, ev), nil
		case agent.ConvAI:
			return convai.New(convai.Config{
				APIKey:  cfg.ElevenLabsKey,
				AgentID: cfg.ConvAIAgentID,
			}, ev), nil
		default:
			return nil, fmt.Errorf("unknown agent %q", id)
		}
	}
}

func synthesizer(cfg config.Config) (pipeline.Synthesizer, error) {
	switch cfg.TTSProvider {
	case "", "elevenlabs":
		return tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, 24000), nil
	case "deepgram":
		return tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel, 24000), nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.TTSProvider)
	}
}
