package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("TTS_PROVIDER", "")
	os.Setenv("OPENAI_CHAT_MODEL", "")
	os.Setenv("PIPELINE_SILENCE_HOLD_MS", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.TTSProvider != "elevenlabs" {
		t.Fatalf("expected default tts provider, got %q", cfg.TTSProvider)
	}
	if cfg.ChatModel == "" {
		t.Fatalf("expected default chat model")
	}
	if cfg.SilenceHold != 900*time.Millisecond {
		t.Fatalf("expected default silence hold, got %v", cfg.SilenceHold)
	}
	if !cfg.KeepWarmOnSwap {
		t.Fatalf("expected keep-warm policy on by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	os.Setenv("KEEP_WARM_ON_SWAP", "false")
	os.Setenv("PIPELINE_SILENCE_HOLD_MS", "400")
	os.Setenv("PIPELINE_HISTORY_TURNS", "3")
	defer func() {
		os.Unsetenv("KEEP_WARM_ON_SWAP")
		os.Unsetenv("PIPELINE_SILENCE_HOLD_MS")
		os.Unsetenv("PIPELINE_HISTORY_TURNS")
	}()
	cfg := Load()
	if cfg.KeepWarmOnSwap {
		t.Fatalf("expected keep-warm policy off")
	}
	if cfg.SilenceHold != 400*time.Millisecond {
		t.Fatalf("expected overridden silence hold, got %v", cfg.SilenceHold)
	}
	if cfg.HistoryTurns != 3 {
		t.Fatalf("expected overridden history turns, got %d", cfg.HistoryTurns)
	}
}
