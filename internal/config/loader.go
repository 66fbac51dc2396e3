package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/babelcall/internal/rtp"
	"github.com/MrWong99/babelcall/pkg/provider/mt"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"mt":  {"deepl"},
	"tts": {"elevenlabs"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Environment references (${VAR}) are expanded before decoding so that API
// keys need not be stored in the file.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative, got %s", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Ingress
	gw := cfg.Gateway
	if gw.FramedAddr == "" && gw.MessageAddr == "" && len(cfg.RTP.Streams) == 0 {
		errs = append(errs, errors.New("no ingress configured; set gateway.framed_addr, gateway.message_addr or rtp.streams"))
	}
	if gw.FrameSize < 0 || gw.FrameSize%2 != 0 {
		errs = append(errs, fmt.Errorf("gateway.frame_size %d must be a positive even number of bytes", gw.FrameSize))
	}
	if gw.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("gateway.sample_rate must not be negative, got %d", gw.SampleRate))
	}
	if gw.MessagePath != "" && (!strings.HasPrefix(gw.MessagePath, "/") || !strings.HasSuffix(gw.MessagePath, "/")) {
		errs = append(errs, fmt.Errorf("gateway.message_path %q must start and end with /", gw.MessagePath))
	}
	if gw.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("gateway.write_timeout must not be negative, got %s", gw.WriteTimeout))
	}

	// RTP streams
	streamNames := make(map[string]int, len(cfg.RTP.Streams))
	channels := make(map[string]int, len(cfg.RTP.Streams))
	for i, s := range cfg.RTP.Streams {
		prefix := fmt.Sprintf("rtp.streams[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := streamNames[s.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of rtp.streams[%d]", prefix, s.Name, prev))
			}
			streamNames[s.Name] = i
		}
		if ch := s.Channel(); ch != "" {
			if prev, ok := channels[ch]; ok {
				errs = append(errs, fmt.Errorf("%s channel %q is already fed by rtp.streams[%d]", prefix, ch, prev))
			}
			channels[ch] = i
		}
		if s.ListenAddr == "" {
			errs = append(errs, fmt.Errorf("%s.listen_addr is required", prefix))
		}
		if _, err := rtp.ParseCodec(s.Codec); err != nil {
			errs = append(errs, fmt.Errorf("%s.codec: %w", prefix, err))
		}
		if s.SampleRate < 0 || s.Channels < 0 || s.JitterBuffer < 0 {
			errs = append(errs, fmt.Errorf("%s: sample_rate, channels and jitter_buffer must not be negative", prefix))
		}
		if s.Channels > 2 {
			errs = append(errs, fmt.Errorf("%s.channels %d is out of range [1, 2]", prefix, s.Channels))
		}
	}

	// Pipeline
	if cfg.Pipeline.SourceLang == "" {
		errs = append(errs, errors.New("pipeline.source_lang is required"))
	}
	if cfg.Pipeline.TargetLang == "" {
		errs = append(errs, errors.New("pipeline.target_lang is required"))
	}
	if cfg.Pipeline.SourceLang != "" && strings.EqualFold(cfg.Pipeline.SourceLang, cfg.Pipeline.TargetLang) {
		slog.Warn("pipeline.source_lang equals pipeline.target_lang; calls will be re-voiced, not translated",
			"lang", cfg.Pipeline.SourceLang,
		)
	}
	if cfg.Pipeline.LatencyBudget < 0 {
		errs = append(errs, fmt.Errorf("pipeline.latency_budget must not be negative, got %s", cfg.Pipeline.LatencyBudget))
	}
	for i, ep := range cfg.Pipeline.Endpoints {
		prefix := fmt.Sprintf("pipeline.endpoints[%d]", i)
		if ep.Match == "" {
			errs = append(errs, fmt.Errorf("%s.match is required", prefix))
			continue
		}
		if _, err := path.Match(ep.Match, ""); err != nil {
			errs = append(errs, fmt.Errorf("%s.match %q: %w", prefix, ep.Match, err))
		}
	}

	gl := cfg.Pipeline.Glossary
	if gl.Boost < 0 {
		errs = append(errs, fmt.Errorf("pipeline.glossary.boost must not be negative, got %g", gl.Boost))
	}
	for field, val := range map[string]float64{
		"phonetic_threshold": gl.PhoneticThreshold,
		"fuzzy_threshold":    gl.FuzzyThreshold,
	} {
		if val < 0 || val > 1 {
			errs = append(errs, fmt.Errorf("pipeline.glossary.%s %.2f is out of range [0, 1]", field, val))
		}
	}
	for i, term := range gl.Terms {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("pipeline.glossary.terms[%d] is empty", i))
		}
	}

	// Segmenter
	seg := cfg.Segmenter
	if seg.EnergyThreshold < 0 || seg.MinVoiceFrames < 0 || seg.MinSilenceFrames < 0 {
		errs = append(errs, errors.New("segmenter: thresholds and frame counts must not be negative"))
	}
	if seg.MinDuration > 0 && seg.MaxDuration > 0 && seg.MinDuration > seg.MaxDuration {
		errs = append(errs, fmt.Errorf("segmenter.min_duration %s exceeds max_duration %s", seg.MinDuration, seg.MaxDuration))
	}

	// Pacing
	if cfg.Pacing.Capacity < 0 {
		errs = append(errs, fmt.Errorf("pacing.capacity must not be negative, got %d", cfg.Pacing.Capacity))
	}

	// Translator
	tr := cfg.Translator
	if tr.ContextLimit < 0 || tr.CacheSize < 0 || tr.Retries < 0 {
		errs = append(errs, errors.New("translator: context_limit, cache_size and retries must not be negative"))
	}
	if tr.Formality != "" && !validFormality(mt.Formality(tr.Formality)) {
		errs = append(errs, fmt.Errorf("translator.formality %q is invalid; valid values: default, more, less, prefer_more, prefer_less", tr.Formality))
	}

	// Providers
	for kind, entry := range map[string]ProviderEntry{
		"stt": cfg.Providers.STT,
		"mt":  cfg.Providers.MT,
		"tts": cfg.Providers.TTS,
	} {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", kind))
		}
	}
	validateProviderEntry("stt", cfg.Providers.STT)
	validateProviderEntry("mt", cfg.Providers.MT)
	validateProviderEntry("tts", cfg.Providers.TTS)
	validateProviderEntry("vad", cfg.Providers.VAD)

	// Voices
	for name, v := range cfg.Voices {
		prefix := fmt.Sprintf("voices[%q]", name)
		if v.VoiceID == "" {
			errs = append(errs, fmt.Errorf("%s.voice_id is required", prefix))
		}
		for field, val := range map[string]float64{
			"stability":        v.Stability,
			"similarity_boost": v.SimilarityBoost,
			"style":            v.Style,
		} {
			if val < 0 || val > 1 {
				errs = append(errs, fmt.Errorf("%s.%s %.2f is out of range [0, 1]", prefix, field, val))
			}
		}
		if v.SpeedFactor != 0 && (v.SpeedFactor < 0.7 || v.SpeedFactor > 1.2) {
			errs = append(errs, fmt.Errorf("%s.speed_factor %.2f is out of range [0.7, 1.2]", prefix, v.SpeedFactor))
		}
	}

	// Resilience
	res := cfg.Resilience
	if res.MaxFailures < 0 || res.HalfOpenMax < 0 || res.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience: max_failures, half_open_max and reset_timeout must not be negative"))
	}

	// Archive
	if ar := cfg.Archive; ar.QueueSize < 0 || ar.WriteTimeout < 0 {
		errs = append(errs, errors.New("archive: queue_size and write_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

func validFormality(f mt.Formality) bool {
	switch f {
	case mt.FormalityDefault, mt.FormalityMore, mt.FormalityLess, mt.FormalityPreferMore, mt.FormalityPreferLess:
		return true
	}
	return false
}

// validateProviderEntry warns about unknown names of entry and its fallbacks.
func validateProviderEntry(kind string, entry ProviderEntry) {
	validateProviderName(kind, entry.Name)
	for _, fb := range entry.Fallbacks {
		validateProviderName(kind, fb.Name)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
