package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/babelcall/internal/config"
	"github.com/MrWong99/babelcall/internal/pacing"
	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/internal/segment"
	"github.com/MrWong99/babelcall/internal/speech"
	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
)

// startTimeout bounds connecting a channel's collaborators.
const startTimeout = 10 * time.Second

// channelSpec describes one channel to start.
type channelSpec struct {
	id         string
	route      config.Route
	source     pipeline.FrameSource
	frameSize  int
	sampleRate int
}

// startChannel builds the per-channel collaborators around spec.source and
// registers a running orchestrator for them. The translator and synthesizer
// are shared across channels; everything else is owned by the channel and
// released when it stops.
func (a *App) startChannel(ctx context.Context, spec channelSpec) (*pipeline.Orchestrator, error) {
	cfg := a.cfg.Load()
	if spec.frameSize <= 0 {
		spec.frameSize = audio.DefaultFrameSize
	}
	if spec.sampleRate <= 0 {
		spec.sampleRate = audio.DefaultSampleRate
	}
	frameDur := audio.FrameDuration(spec.frameSize, spec.sampleRate)

	var segOpts []segment.Option
	if a.providers.VAD != nil {
		segOpts = append(segOpts, segment.WithEngine(a.providers.VAD))
	}
	seg, err := segment.New(segment.Config{
		SampleRate:       spec.sampleRate,
		FrameDuration:    frameDur,
		EnergyThreshold:  cfg.Segmenter.EnergyThreshold,
		MinVoiceFrames:   cfg.Segmenter.MinVoiceFrames,
		MinSilenceFrames: cfg.Segmenter.MinSilenceFrames,
		MinDuration:      cfg.Segmenter.MinDuration,
		MaxDuration:      cfg.Segmenter.MaxDuration,
	}, segOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: channel %s: %w", spec.id, err)
	}

	streamCfg := stt.StreamConfig{
		SampleRate: spec.sampleRate,
		Channels:   1,
		Language:   spec.route.SourceLang,
	}
	recOpts := []speech.Option{
		speech.WithProviderName(cfg.Providers.STT.Name),
		speech.WithMetrics(a.metrics),
	}
	if g := a.glossary.Load(); g != nil {
		recOpts = append(recOpts, speech.WithCorrector(g))
		if boost := cfg.Pipeline.Glossary.Boost; boost > 0 {
			streamCfg.Keywords = g.Keywords(boost)
		}
	}
	rec := speech.NewRecognizer(a.providers.STT, streamCfg, recOpts...)

	pacingOpts := []pacing.Option{
		pacing.WithCapacity(cfg.Pacing.Capacity),
		pacing.WithFrameDuration(frameDur),
	}
	if cfg.Pacing.SilencePlaceholder {
		pacingOpts = append(pacingOpts, pacing.WithSilencePlaceholder(spec.frameSize))
	}

	c := pipeline.Collaborators{
		Source:      spec.source,
		Segmenter:   seg,
		Recognizer:  rec,
		Translator:  a.translator,
		Synthesizer: a.synth.Load(),
		Pacing:      pacing.New(pacingOpts...),
	}
	if cfg.Pipeline.Emotion {
		c.Emotion = speech.NewProsody()
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	o, err := a.registry.Create(startCtx, pipeline.Config{
		ChannelID:     spec.id,
		SourceLang:    spec.route.SourceLang,
		TargetLang:    spec.route.TargetLang,
		VoiceID:       spec.route.VoiceID,
		LatencyBudget: cfg.Pipeline.LatencyBudget,
		FrameSize:     spec.frameSize,
		SampleRate:    spec.sampleRate,
	}, c)
	if err != nil {
		closeSegmenter(spec.id, seg)
		return nil, err
	}

	go func() {
		<-o.Done()
		closeSegmenter(spec.id, seg)
	}()
	return o, nil
}

func closeSegmenter(channelID string, seg *segment.Segmenter) {
	if err := seg.Close(); err != nil {
		slog.Warn("app: close segmenter", "channel_id", channelID, "err", err)
	}
}
