package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("VAD_THRESHOLD_RMS", "")
	t.Setenv("VAD_HANGOVER_MS", "")
	t.Setenv("RESUME_INTERRUPTED_AGENT", "")
	t.Setenv("TTS_PROVIDER", "")

	cfg := Load()
	if cfg.HTTPAddress != ":8080" {
		t.Fatalf("default address mismatch: %s", cfg.HTTPAddress)
	}
	if cfg.TTSProvider != "deepgram" {
		t.Fatalf("default tts provider mismatch: %s", cfg.TTSProvider)
	}
	if cfg.VADThresholdRMS != 300 {
		t.Fatalf("default vad threshold mismatch: %g", cfg.VADThresholdRMS)
	}
	if cfg.VADHangoverMs != 400 {
		t.Fatalf("default hangover mismatch: %d", cfg.VADHangoverMs)
	}
	if !cfg.ResumeInterruptedAgent {
		t.Fatalf("expected resume enabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9999")
	t.Setenv("VAD_THRESHOLD_RMS", "150.5")
	t.Setenv("VAD_HANGOVER_MS", "250")
	t.Setenv("RESUME_INTERRUPTED_AGENT", "false")

	cfg := Load()
	if cfg.HTTPAddress != ":9999" {
		t.Fatalf("address override mismatch: %s", cfg.HTTPAddress)
	}
	if cfg.VADThresholdRMS != 150.5 {
		t.Fatalf("vad threshold override mismatch: %g", cfg.VADThresholdRMS)
	}
	if cfg.VADHangoverMs != 250 {
		t.Fatalf("hangover override mismatch: %d", cfg.VADHangoverMs)
	}
	if cfg.ResumeInterruptedAgent {
		t.Fatalf("expected resume disabled")
	}
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("VAD_THRESHOLD_RMS", "loud")
	t.Setenv("VAD_HANGOVER_MS", "soon")
	t.Setenv("RESUME_INTERRUPTED_AGENT", "maybe")

	cfg := Load()
	if cfg.VADThresholdRMS != 300 || cfg.VADHangoverMs != 400 || !cfg.ResumeInterruptedAgent {
		t.Fatalf("expected defaults on unparseable values, got %+v", cfg)
	}
}
