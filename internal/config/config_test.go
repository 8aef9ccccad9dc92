package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ASR.ModelSize != "small" {
		t.Fatalf("expected default asr size small, got %q", cfg.ASR.ModelSize)
	}
	if cfg.EventStore.RetentionMode != "ephemeral" {
		t.Fatalf("expected ephemeral journal by default, got %q", cfg.EventStore.RetentionMode)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected 16kHz recognition rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Web.OutputTTLDuration() != time.Hour {
		t.Fatalf("expected 1h output ttl, got %s", cfg.Web.OutputTTLDuration())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_ASR_MODE", "openai")
	t.Setenv("LOQA_ASR_MODEL_SIZE", "medium")
	t.Setenv("LOQA_MT_MODE", "ollama")
	t.Setenv("LOQA_MT_TEMPERATURE", "0.5")
	t.Setenv("LOQA_TTS_RATE", "1.25")
	t.Setenv("LOQA_CACHE_MAX_MODELS", "3")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || !cfg.Bus.TLSInsecure {
		t.Fatalf("expected bus overrides, got %+v", cfg.Bus)
	}
	if cfg.ASR.Mode != "openai" || cfg.ASR.ModelSize != "medium" {
		t.Fatalf("expected asr overrides, got %+v", cfg.ASR)
	}
	if cfg.MT.Mode != "ollama" || cfg.MT.Temperature != 0.5 {
		t.Fatalf("expected mt overrides, got %+v", cfg.MT)
	}
	if cfg.TTS.Rate != 1.25 {
		t.Fatalf("expected tts rate override, got %v", cfg.TTS.Rate)
	}
	if cfg.Cache.MaxModels != 3 {
		t.Fatalf("expected cache override, got %d", cfg.Cache.MaxModels)
	}
	if cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
}

func TestLoadFileWithLanguages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s2s.yaml")
	data := `runtime_name: test-s2s
languages:
  order: [en, de]
  names:
    en: English
    de: German
  models:
    - source: de
      target: en
      id: Helsinki-NLP/opus-mt-de-en
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "test-s2s" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if len(cfg.Languages.Models) != 1 || cfg.Languages.Names["de"] != "German" {
		t.Fatalf("unexpected languages block: %+v", cfg.Languages)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	cases := map[string]func(*Config){
		"asr mode":      func(c *Config) { c.ASR.Mode = "kaldi" },
		"asr size":      func(c *Config) { c.ASR.ModelSize = "huge" },
		"asr exec":      func(c *Config) { c.ASR.Mode = "exec" },
		"mt mode":       func(c *Config) { c.MT.Mode = "marian" },
		"mt exec":       func(c *Config) { c.MT.Mode = "exec" },
		"tts piper":     func(c *Config) { c.TTS.Mode = "piper" },
		"tts rate":      func(c *Config) { c.TTS.Rate = -1 },
		"cache":         func(c *Config) { c.Cache.MaxModels = 0 },
		"retention":     func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"jobs":          func(c *Config) { c.Jobs.Enabled = true; c.Jobs.Concurrency = 0 },
		"span exporter": func(c *Config) { c.Telemetry.SpanExporter = "stdout" },
		"otlp no host":  func(c *Config) { c.Telemetry.SpanExporter = "otlp" },
		"heartbeat":     func(c *Config) { c.Jobs.Enabled = true; c.Jobs.HeartbeatTimeout = c.Jobs.HeartbeatInterval },
		"model no name": func(c *Config) { c.Languages.Models = []ModelConfig{{Source: "a", Target: "b", ID: "m"}} },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
