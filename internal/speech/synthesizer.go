package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// ErrNoAudio is returned when the provider finished without producing audio.
var ErrNoAudio = errors.New("speech: synthesis produced no audio")

// Synthesizer adapts a streaming tts.Provider to [pipeline.Synthesizer] by
// collecting the whole utterance.
type Synthesizer struct {
	provider tts.Provider
	voices   map[string]tts.VoiceProfile
	opts     options
}

var _ pipeline.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer returns a Synthesizer over p. voices maps a voice ID to its
// base profile; IDs not in the map are used with provider defaults.
func NewSynthesizer(p tts.Provider, voices map[string]tts.VoiceProfile, opts ...Option) *Synthesizer {
	o := defaults("tts")
	o.apply(opts)
	return &Synthesizer{provider: p, voices: voices, opts: o}
}

// Synthesize renders text with the voice's base profile.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string) (pipeline.Synthesis, error) {
	return s.run(ctx, text, s.profile(voiceID))
}

// SynthesizeWithEmotion renders text with the voice's profile adjusted for
// emotion.
func (s *Synthesizer) SynthesizeWithEmotion(ctx context.Context, text, voiceID string, emotion pipeline.EmotionVector) (pipeline.Synthesis, error) {
	return s.run(ctx, text, ApplyEmotion(s.profile(voiceID), emotion))
}

func (s *Synthesizer) profile(voiceID string) tts.VoiceProfile {
	if v, ok := s.voices[voiceID]; ok {
		if v.ID == "" {
			v.ID = voiceID
		}
		return v
	}
	return tts.VoiceProfile{ID: voiceID}
}

func (s *Synthesizer) run(ctx context.Context, text string, voice tts.VoiceProfile) (pipeline.Synthesis, error) {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := s.provider.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		s.opts.metrics.RecordProviderError(ctx, s.opts.name, "tts")
		return pipeline.Synthesis{}, fmt.Errorf("speech: synthesize: %w", err)
	}

	var pcm []byte
collect:
	for {
		select {
		case chunk, ok := <-audioCh:
			if !ok {
				break collect
			}
			pcm = append(pcm, chunk...)
		case <-ctx.Done():
			go audio.Drain(audioCh)
			return pipeline.Synthesis{}, fmt.Errorf("speech: synthesize: %w", ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return pipeline.Synthesis{}, fmt.Errorf("speech: synthesize: %w", err)
	}
	if len(pcm) == 0 {
		s.opts.metrics.RecordProviderError(ctx, s.opts.name, "tts")
		return pipeline.Synthesis{}, ErrNoAudio
	}
	s.opts.metrics.RecordProviderRequest(ctx, s.opts.name, "tts", "ok")
	return pipeline.Synthesis{Audio: pcm, SampleRate: s.provider.SampleRate()}, nil
}

// ApplyEmotion adjusts a voice profile for the speaker's affect. Arousal
// lowers stability and raises speed; valence and the resulting speed raise
// style. Dominance is not mapped.
func ApplyEmotion(v tts.VoiceProfile, e pipeline.EmotionVector) tts.VoiceProfile {
	base := v.Stability
	if base <= 0 {
		base = 0.5
	}
	v.Stability = clamp(base+(0.5-e.Arousal)*0.6, 0.2, 0.9)

	speed := v.SpeedFactor
	if speed <= 0 {
		speed = 1
	}
	v.SpeedFactor = clamp(speed+(e.Arousal-0.5)*0.2, 0.85, 1.15)
	v.Style = clamp(v.Style+e.Valence*0.3+(v.SpeedFactor-1)*0.2, 0, 1)
	return v
}

func clamp(x, lo, hi float64) float64 {
	return min(max(x, lo), hi)
}
