package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// OpenAI (realtime agent + pipeline transcription/generation)
	OpenAIKey       string
	RealtimeModel   string
	RealtimeVoice   string
	TranscribeModel string
	ChatModel       string

	// ElevenLabs (pipeline synthesis + conversational agent)
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	ConvAIAgentID     string

	// Deepgram (alternative pipeline synthesizer)
	DeepgramKey   string
	DeepgramModel string

	// TTSProvider selects the pipeline synthesizer: "elevenlabs" or "deepgram".
	TTSProvider string

	// KeepWarmOnSwap keeps previously active adapters connected after a swap
	// so swapping back is fast. Disable to free provider connections eagerly.
	KeepWarmOnSwap bool

	// SilenceHold is the quiet period after the last audio frame before the
	// pipeline agent treats the utterance as complete. Mic-release commits
	// a turn immediately regardless of this value.
	SilenceHold time.Duration

	// HistoryTurns caps the pipeline agent's conversation history, counted
	// in user/assistant exchange pairs.
	HistoryTurns int
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - realtime and pipeline agents will not work")
	}
	realtimeModel := os.Getenv("OPENAI_REALTIME_MODEL")
	if realtimeModel == "" {
		realtimeModel = "gpt-4o-realtime-preview"
	}
	realtimeVoice := os.Getenv("OPENAI_REALTIME_VOICE")
	if realtimeVoice == "" {
		realtimeVoice = "alloy"
	}
	transcribeModel := os.Getenv("OPENAI_TRANSCRIBE_MODEL")
	if transcribeModel == "" {
		transcribeModel = "whisper-1"
	}
	chatModel := os.Getenv("OPENAI_CHAT_MODEL")
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	if elevenKey == "" {
		log.Println("Warning: ELEVENLABS_API_KEY not set - ElevenLabs TTS and the conversational agent will not work")
	}
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	convAIAgentID := os.Getenv("ELEVENLABS_AGENT_ID")

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	deepgramModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if deepgramModel == "" {
		deepgramModel = "aura-2-thalia-en"
	}

	ttsProvider := os.Getenv("TTS_PROVIDER")
	if ttsProvider == "" {
		ttsProvider = "elevenlabs"
	}

	keepWarm := true
	if v := os.Getenv("KEEP_WARM_ON_SWAP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			keepWarm = b
		}
	}

	silenceHold := 900 * time.Millisecond
	if v := os.Getenv("PIPELINE_SILENCE_HOLD_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			silenceHold = time.Duration(ms) * time.Millisecond
		}
	}

	historyTurns := 8
	if v := os.Getenv("PIPELINE_HISTORY_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			historyTurns = n
		}
	}

	log.Printf("config: HTTP_ADDRESS=%s TTS_PROVIDER=%s KEEP_WARM_ON_SWAP=%v", addr, ttsProvider, keepWarm)
	return Config{
		HTTPAddress:       addr,
		OpenAIKey:         openAIKey,
		RealtimeModel:     realtimeModel,
		RealtimeVoice:     realtimeVoice,
		TranscribeModel:   transcribeModel,
		ChatModel:         chatModel,
		ElevenLabsKey:     elevenKey,
		ElevenLabsVoiceID: voiceID,
		ConvAIAgentID:     convAIAgentID,
		DeepgramKey:       deepgramKey,
		DeepgramModel:     deepgramModel,
		TTSProvider:       ttsProvider,
		KeepWarmOnSwap:    keepWarm,
		SilenceHold:       silenceHold,
		HistoryTurns:      historyTurns,
	}
}
