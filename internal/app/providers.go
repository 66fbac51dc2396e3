package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/babelcall/internal/config"
	"github.com/MrWong99/babelcall/internal/resilience"
	"github.com/MrWong99/babelcall/pkg/provider/mt"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
	"github.com/MrWong99/babelcall/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. STT, MT and TTS are
// required; a nil VAD uses the segmenter's built-in energy engine.
type Providers struct {
	STT stt.Provider
	MT  mt.Provider
	TTS tts.Provider
	VAD vad.Engine

	// Breakers reports the circuit breaker snapshots of each provider kind.
	// Populated by [BuildProviders]; nil when providers are injected directly.
	Breakers map[string]func() []resilience.Snapshot
}

func (p *Providers) validate() error {
	var errs []error
	if p == nil {
		return errors.New("app: providers are required")
	}
	if p.STT == nil {
		errs = append(errs, errors.New("app: stt provider is required"))
	}
	if p.MT == nil {
		errs = append(errs, errors.New("app: mt provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("app: tts provider is required"))
	}
	return errors.Join(errs...)
}

// BreakerSnapshots returns the current breaker state per provider kind.
func (p *Providers) BreakerSnapshots() map[string][]resilience.Snapshot {
	if len(p.Breakers) == 0 {
		return nil
	}
	out := make(map[string][]resilience.Snapshot, len(p.Breakers))
	for kind, fn := range p.Breakers {
		out[kind] = fn()
	}
	return out
}

// BuildProviders instantiates every provider named in cfg through reg. Each
// of STT, MT and TTS is wrapped in a fallback group with one circuit breaker
// per backend, so the configured fallbacks take over when the primary fails.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	fb := fallbackConfig(cfg.Resilience)
	ps := &Providers{Breakers: make(map[string]func() []resilience.Snapshot)}

	sttPrimary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	sttGroup := resilience.NewSTTFallback(sttPrimary, cfg.Providers.STT.Name, fb)
	for _, entry := range cfg.Providers.STT.Fallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create stt fallback %q: %w", entry.Name, err)
		}
		sttGroup.AddFallback(entry.Name, p)
	}
	ps.STT = sttGroup
	ps.Breakers["stt"] = sttGroup.Snapshots
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "fallbacks", len(cfg.Providers.STT.Fallbacks))

	mtPrimary, err := reg.CreateMT(cfg.Providers.MT)
	if err != nil {
		return nil, fmt.Errorf("app: create mt provider %q: %w", cfg.Providers.MT.Name, err)
	}
	mtGroup := resilience.NewMTFallback(mtPrimary, cfg.Providers.MT.Name, fb)
	for _, entry := range cfg.Providers.MT.Fallbacks {
		p, err := reg.CreateMT(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create mt fallback %q: %w", entry.Name, err)
		}
		mtGroup.AddFallback(entry.Name, p)
	}
	ps.MT = mtGroup
	ps.Breakers["mt"] = mtGroup.Snapshots
	slog.Info("provider created", "kind", "mt", "name", cfg.Providers.MT.Name, "fallbacks", len(cfg.Providers.MT.Fallbacks))

	ttsPrimary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ttsGroup := resilience.NewTTSFallback(ttsPrimary, cfg.Providers.TTS.Name, fb)
	for _, entry := range cfg.Providers.TTS.Fallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create tts fallback %q: %w", entry.Name, err)
		}
		ttsGroup.AddFallback(entry.Name, p)
	}
	ps.TTS = ttsGroup
	ps.Breakers["tts"] = ttsGroup.Snapshots
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name, "fallbacks", len(cfg.Providers.TTS.Fallbacks))

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("vad provider not registered, using built-in energy engine", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("app: create vad provider %q: %w", name, err)
		} else {
			ps.VAD = p
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}

	return ps, nil
}

func fallbackConfig(rc config.ResilienceConfig) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  rc.MaxFailures,
			ResetTimeout: rc.ResetTimeout,
			HalfOpenMax:  rc.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("provider circuit breaker changed state", "provider", name, "from", from, "to", to)
			},
		},
	}
}
