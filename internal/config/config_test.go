package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/babelcall/internal/config"
	"github.com/MrWong99/babelcall/pkg/provider/mt"
	mtmock "github.com/MrWong99/babelcall/pkg/provider/mt/mock"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
	sttmock "github.com/MrWong99/babelcall/pkg/provider/stt/mock"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
	ttsmock "github.com/MrWong99/babelcall/pkg/provider/tts/mock"
	"github.com/MrWong99/babelcall/pkg/provider/vad"
	vadmock "github.com/MrWong99/babelcall/pkg/provider/vad/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  admin_addr: ":9090"
  log_level: info
  shutdown_timeout: 5s

gateway:
  framed_addr: ":5050"
  message_addr: ":5051"
  message_path: /mic/
  frame_size: 320
  sample_rate: 8000
  write_timeout: 2s

rtp:
  streams:
    - name: ext-1001
      listen_addr: ":40000"
      codec: ulaw
      jitter_buffer: 12
      egress: true
      target_lang: fr

pipeline:
  source_lang: en
  target_lang: de
  voice_id: narrator
  latency_budget: 900ms
  emotion: true
  endpoints:
    - match: "support-*"
      target_lang: es

segmenter:
  energy_threshold: 450
  max_duration: 2500ms

pacing:
  capacity: 12
  silence_placeholder: true

translator:
  context_limit: 400
  cache_ttl: 30s
  formality: prefer_less

providers:
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-3
    options:
      endpointing_ms: 250
  mt:
    name: deepl
    api_key: dl-test:fx
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      output_format: pcm_16000
  vad:
    name: energy

voices:
  narrator:
    voice_id: 21m00Tcm4TlvDq8ikWAM
    stability: 0.6
    speed_factor: 1.05

resilience:
  max_failures: 3
  reset_timeout: 15s
`

// minimalYAML is the smallest valid configuration.
const minimalYAML = `
gateway:
  framed_addr: ":5050"
pipeline:
  source_lang: en
  target_lang: de
providers:
  stt:
    name: deepgram
  mt:
    name: deepl
  tts:
    name: elevenlabs
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.AdminAddr != ":9090" {
		t.Errorf("server.admin_addr: got %q, want %q", cfg.Server.AdminAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("server.shutdown_timeout: got %s, want 5s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Gateway.WriteTimeout != 2*time.Second {
		t.Errorf("gateway.write_timeout: got %s, want 2s", cfg.Gateway.WriteTimeout)
	}
	if len(cfg.RTP.Streams) != 1 {
		t.Fatalf("rtp.streams: got %d, want 1", len(cfg.RTP.Streams))
	}
	s := cfg.RTP.Streams[0]
	if s.JitterBuffer != 12 || !s.Egress || s.Channel() != "ext-1001" {
		t.Errorf("rtp.streams[0]: got %+v", s)
	}
	if cfg.Pipeline.LatencyBudget != 900*time.Millisecond {
		t.Errorf("pipeline.latency_budget: got %s, want 900ms", cfg.Pipeline.LatencyBudget)
	}
	if cfg.Segmenter.MaxDuration != 2500*time.Millisecond {
		t.Errorf("segmenter.max_duration: got %s, want 2.5s", cfg.Segmenter.MaxDuration)
	}
	if cfg.Providers.MT.APIKey != "dl-test:fx" {
		t.Errorf("providers.mt.api_key: got %q", cfg.Providers.MT.APIKey)
	}
	if got := config.Option(cfg.Providers.STT, "endpointing_ms", 0); got != 250 {
		t.Errorf("providers.stt.options.endpointing_ms: got %d, want 250", got)
	}
	if v := cfg.Voices["narrator"]; v.SpeedFactor != 1.05 {
		t.Errorf("voices.narrator.speed_factor: got %.2f, want 1.05", v.SpeedFactor)
	}
	if cfg.Resilience.ResetTimeout != 15*time.Second {
		t.Errorf("resilience.reset_timeout: got %s, want 15s", cfg.Resilience.ResetTimeout)
	}
}

func TestLoadFromReader_Minimal(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, minimalYAML)
	if cfg.Providers.VAD.Name != "" {
		t.Errorf("providers.vad.name: got %q, want empty", cfg.Providers.VAD.Name)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "callers: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("BABELCALL_TEST_DEEPL_KEY", "from-env")
	yaml := strings.Replace(minimalYAML, "name: deepl", "name: deepl\n    api_key: ${BABELCALL_TEST_DEEPL_KEY}", 1)
	cfg := mustLoad(t, yaml)
	if cfg.Providers.MT.APIKey != "from-env" {
		t.Errorf("providers.mt.api_key: got %q, want %q", cfg.Providers.MT.APIKey, "from-env")
	}
}

func TestLoadFromReader_EmptyFails(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error for empty config, got nil")
	}
	for _, want := range []string{"no ingress", "pipeline.source_lang", "providers.stt.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

// ── Routing ──────────────────────────────────────────────────────────────────

func TestPipelineConfig_Resolve(t *testing.T) {
	t.Parallel()
	p := config.PipelineConfig{
		SourceLang: "en",
		TargetLang: "de",
		VoiceID:    "narrator",
		Endpoints: []config.EndpointConfig{
			{Match: "support-*", TargetLang: "es"},
			{Match: "sales-?", SourceLang: "fr", VoiceID: "bright"},
			{Match: "*", TargetLang: "it"},
		},
	}

	tests := []struct {
		identity string
		want     config.Route
	}{
		{"support-42", config.Route{SourceLang: "en", TargetLang: "es", VoiceID: "narrator"}},
		{"sales-1", config.Route{SourceLang: "fr", TargetLang: "de", VoiceID: "bright"}},
		{"sales-12", config.Route{SourceLang: "en", TargetLang: "it", VoiceID: "narrator"}},
	}
	for _, tt := range tests {
		t.Run(tt.identity, func(t *testing.T) {
			t.Parallel()
			if got := p.Resolve(tt.identity); got != tt.want {
				t.Errorf("Resolve(%q) = %+v, want %+v", tt.identity, got, tt.want)
			}
		})
	}
}

func TestPipelineConfig_ResolveDefaults(t *testing.T) {
	t.Parallel()
	p := config.PipelineConfig{SourceLang: "en", TargetLang: "ja"}
	want := config.Route{SourceLang: "en", TargetLang: "ja"}
	if got := p.Resolve("c0ffee00-0000-0000-0000-000000000001"); got != want {
		t.Errorf("Resolve = %+v, want %+v", got, want)
	}
}

func TestRTPStreamConfig_Channel(t *testing.T) {
	t.Parallel()
	if got := (config.RTPStreamConfig{Name: "a"}).Channel(); got != "a" {
		t.Errorf("Channel() = %q, want %q", got, "a")
	}
	if got := (config.RTPStreamConfig{Name: "a", ChannelID: "b"}).Channel(); got != "b" {
		t.Errorf("Channel() = %q, want %q", got, "b")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}

	tests := []struct {
		kind   string
		create func() error
	}{
		{"stt", func() error { _, err := reg.CreateSTT(entry); return err }},
		{"mt", func() error { _, err := reg.CreateMT(entry); return err }},
		{"tts", func() error { _, err := reg.CreateTTS(entry); return err }},
		{"vad", func() error { _, err := reg.CreateVAD(entry); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			t.Parallel()
			err := tt.create()
			if !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
			}
			if err != nil && !strings.Contains(err.Error(), tt.kind+"/") {
				t.Errorf("error should name the kind %q, got: %v", tt.kind, err)
			}
		})
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	wantSTT := &sttmock.Provider{}
	wantMT := &mtmock.Provider{}
	wantTTS := &ttsmock.Provider{}
	wantVAD := &vadmock.Engine{}
	var gotEntry config.ProviderEntry

	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return wantSTT, nil
	})
	reg.RegisterMT("stub", func(config.ProviderEntry) (mt.Provider, error) { return wantMT, nil })
	reg.RegisterTTS("stub", func(config.ProviderEntry) (tts.Provider, error) { return wantTTS, nil })
	reg.RegisterVAD("stub", func(config.ProviderEntry) (vad.Engine, error) { return wantVAD, nil })

	entry := config.ProviderEntry{Name: "stub", Model: "m1"}
	if got, err := reg.CreateSTT(entry); err != nil || got != wantSTT {
		t.Errorf("CreateSTT = %v, %v; want registered instance", got, err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory entry model: got %q, want %q", gotEntry.Model, "m1")
	}
	if got, err := reg.CreateMT(entry); err != nil || got != wantMT {
		t.Errorf("CreateMT = %v, %v; want registered instance", got, err)
	}
	if got, err := reg.CreateTTS(entry); err != nil || got != wantTTS {
		t.Errorf("CreateTTS = %v, %v; want registered instance", got, err)
	}
	if got, err := reg.CreateVAD(entry); err != nil || got != wantVAD {
		t.Errorf("CreateVAD = %v, %v; want registered instance", got, err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterMT("broken", func(config.ProviderEntry) (mt.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateMT(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

// ── Options ──────────────────────────────────────────────────────────────────

func TestOption(t *testing.T) {
	t.Parallel()
	entry := config.ProviderEntry{Options: map[string]any{
		"format":  "pcm_16000",
		"ms":      300,
		"ratio":   0.5,
		"whole":   2.0,
		"enabled": true,
	}}

	if got := config.Option(entry, "format", "x"); got != "pcm_16000" {
		t.Errorf("string option: got %q", got)
	}
	if got := config.Option(entry, "ms", 0); got != 300 {
		t.Errorf("int option: got %d", got)
	}
	if got := config.Option(entry, "ms", 0.0); got != 300.0 {
		t.Errorf("int as float64: got %v", got)
	}
	if got := config.Option(entry, "whole", 0); got != 2 {
		t.Errorf("integral float as int: got %d", got)
	}
	if got := config.Option(entry, "ratio", 7); got != 7 {
		t.Errorf("fractional float as int should fall back, got %d", got)
	}
	if got := config.Option(entry, "enabled", false); !got {
		t.Error("bool option: got false")
	}
	if got := config.Option(entry, "missing", "def"); got != "def" {
		t.Errorf("missing option: got %q", got)
	}
	if got := config.Option(entry, "format", 1); got != 1 {
		t.Errorf("mismatched type should fall back, got %d", got)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("ELEVENLABS_VOICE_ANNA", "voice-anna")
	t.Setenv("ELEVENLABS_VOICE_CLAIRE", "voice-claire")
	t.Setenv("BABELCALL_ARCHIVE_DSN", "")

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Pipeline.Glossary.Terms; len(got) != 2 || got[0] != "Zentrix" {
		t.Errorf("glossary terms = %v", got)
	}
	if cfg.Archive.DSN != "" || cfg.Archive.QueueSize != 1024 {
		t.Errorf("archive = %+v, want disabled with queue 1024", cfg.Archive)
	}
	if len(cfg.RTP.Streams) != 1 || cfg.Voices["anna"].VoiceID != "voice-anna" {
		t.Errorf("streams = %+v, voices = %+v", cfg.RTP.Streams, cfg.Voices)
	}
}
