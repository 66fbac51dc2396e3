package resilience

import (
	"context"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// The group reports the primary's sample rate. Audio from a fallback with a
// different rate is resampled chunk by chunk before it is emitted.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SampleRate returns the primary provider's output rate.
func (f *TTSFallback) SampleRate() int {
	return f.group.Primary().SampleRate()
}

// SynthesizeStream consumes text fragments and returns a channel of audio bytes,
// trying the first healthy provider. Only the initial stream setup is covered by
// failover; mid-stream errors are the caller's responsibility.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	want := f.SampleRate()
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		ch, err := p.SynthesizeStream(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		if have := p.SampleRate(); have != want {
			return resampleStream(ctx, ch, have, want), nil
		}
		return ch, nil
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// Snapshots returns the breaker state of every registered provider.
func (f *TTSFallback) Snapshots() []Snapshot {
	return f.group.Snapshots()
}

func resampleStream(ctx context.Context, in <-chan []byte, from, to int) <-chan []byte {
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		var carry []byte
		for chunk := range in {
			// Keep chunks sample-aligned; a provider may split a sample.
			chunk = append(carry, chunk...)
			even := len(chunk) &^ 1
			carry = append([]byte(nil), chunk[even:]...)
			if even == 0 {
				continue
			}
			select {
			case out <- audio.ResampleMono16(chunk[:even], from, to):
			case <-ctx.Done():
				audio.Drain(in)
				return
			}
		}
	}()
	return out
}
