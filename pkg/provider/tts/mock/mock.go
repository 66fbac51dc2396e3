// Package mock provides a canned [tts.Provider] for tests.
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{pcm}, Rate: 8000}
//
// The returned stream reads every text fragment before it emits the chunks,
// matching providers that only speak once the sentence is complete.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// Provider replays SynthesizeChunks for every stream.
type Provider struct {
	mu sync.Mutex

	SynthesizeChunks [][]byte
	SynthesizeErr    error
	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	// Rate is reported by SampleRate. Zero means 16000.
	Rate int

	voices []tts.VoiceProfile
	texts  []string
}

var _ tts.Provider = (*Provider)(nil)

func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.voices = append(p.voices, voice)
	err := p.SynthesizeErr
	chunks := slices.Clone(p.SynthesizeChunks)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for frag := range text {
			p.mu.Lock()
			p.texts = append(p.texts, frag)
			p.mu.Unlock()
		}
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	return p.ListVoicesResult, p.ListVoicesErr
}

func (p *Provider) SampleRate() int {
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// Voices returns the voice of every SynthesizeStream call, failed ones
// included.
func (p *Provider) Voices() []tts.VoiceProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.voices)
}

// Texts returns every text fragment the streams have read so far.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.texts)
}
