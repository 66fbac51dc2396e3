package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/babelcall/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Voices = map[string]config.VoiceConfig{"narrator": {VoiceID: "v1"}}

	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.PipelineChanged || d.VoicesChanged {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired: got %v, want none", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := validConfig()
	old.Server.LogLevel = config.LogInfo
	new := validConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_PipelineChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *config.PipelineConfig)
	}{
		{"target lang", func(p *config.PipelineConfig) { p.TargetLang = "fr" }},
		{"voice", func(p *config.PipelineConfig) { p.VoiceID = "bright" }},
		{"latency budget", func(p *config.PipelineConfig) { p.LatencyBudget = time.Second }},
		{"emotion", func(p *config.PipelineConfig) { p.Emotion = true }},
		{"endpoints", func(p *config.PipelineConfig) {
			p.Endpoints = []config.EndpointConfig{{Match: "*", TargetLang: "it"}}
		}},
		{"glossary terms", func(p *config.PipelineConfig) { p.Glossary.Terms = []string{"Zentrix"} }},
		{"glossary boost", func(p *config.PipelineConfig) { p.Glossary.Boost = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := validConfig()
			new := validConfig()
			tt.mutate(&new.Pipeline)

			d := config.Diff(old, new)
			if !d.PipelineChanged {
				t.Error("expected PipelineChanged=true")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("pipeline changes must not require restart, got %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_Voices(t *testing.T) {
	t.Parallel()
	old := validConfig()
	old.Voices = map[string]config.VoiceConfig{
		"keep":   {VoiceID: "k"},
		"change": {VoiceID: "c", Stability: 0.4},
		"remove": {VoiceID: "r"},
	}
	new := validConfig()
	new.Voices = map[string]config.VoiceConfig{
		"keep":   {VoiceID: "k"},
		"change": {VoiceID: "c", Stability: 0.7},
		"add":    {VoiceID: "a"},
	}

	d := config.Diff(old, new)
	if !d.VoicesChanged {
		t.Fatal("expected VoicesChanged=true")
	}
	want := []config.VoiceDiff{
		{Name: "add", Added: true},
		{Name: "change", Changed: true},
		{Name: "remove", Removed: true},
	}
	if !slices.Equal(d.VoiceChanges, want) {
		t.Errorf("VoiceChanges:\n got  %+v\n want %+v", d.VoiceChanges, want)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := validConfig()
	new := validConfig()
	new.Gateway.FrameSize = 640
	new.Providers.STT.Options = map[string]any{"endpointing_ms": 200}
	new.RTP.Streams = []config.RTPStreamConfig{{Name: "ext", ListenAddr: ":40000", Codec: "pcmu"}}
	new.Server.LogLevel = config.LogWarn
	new.Archive.DSN = "postgres://localhost/babelcall"

	d := config.Diff(old, new)
	want := []string{"gateway", "rtp", "providers", "archive"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
	if !d.LogLevelChanged {
		t.Error("log level change should still be reported")
	}
}

func TestDiff_ProviderOptionsNested(t *testing.T) {
	t.Parallel()
	old := validConfig()
	old.Providers.TTS.Options = map[string]any{"settings": map[string]any{"a": 1}}
	new := validConfig()
	new.Providers.TTS.Options = map[string]any{"settings": map[string]any{"a": 1}}

	if d := config.Diff(old, new); len(d.RestartRequired) != 0 {
		t.Errorf("equal nested options should not differ, got %v", d.RestartRequired)
	}
}
