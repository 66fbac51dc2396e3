package speech

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/pkg/audio"
)

const (
	// prosodyFullScale is the frame RMS treated as maximum arousal.
	prosodyFullScale = 6000.0

	// prosodyAlpha is the smoothing factor of the per-frame arousal average.
	prosodyAlpha = 0.05

	// prosodyTextWeight is how far one transcript moves valence and
	// dominance toward its own estimate.
	prosodyTextWeight = 0.3
)

var (
	positiveCues = wordSet("good great thanks thank happy love perfect excellent yes sure wonderful gracias danke merci bien gut")
	negativeCues = wordSet("bad angry terrible hate no never problem wrong awful cancel complaint sorry malo schlecht nein")
)

func wordSet(words string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		m[w] = struct{}{}
	}
	return m
}

// ProsodyStats is the JSON snapshot returned by [Prosody.Stats].
type ProsodyStats struct {
	Frames  int64                  `json:"frames"`
	Texts   int64                  `json:"texts"`
	Emotion pipeline.EmotionVector `json:"emotion"`
}

// Prosody is a local [pipeline.EmotionAdapter]. Arousal follows a smoothed
// frame energy. Valence and dominance follow lexical and punctuation cues in
// committed transcripts. All axes start at 0.5.
type Prosody struct {
	mu     sync.Mutex
	vec    pipeline.EmotionVector
	frames int64
	texts  int64
}

var _ pipeline.EmotionAdapter = (*Prosody)(nil)

// NewProsody returns a Prosody with a neutral emotion vector.
func NewProsody() *Prosody {
	return &Prosody{vec: pipeline.EmotionVector{Arousal: 0.5, Valence: 0.5, Dominance: 0.5}}
}

// Connect is a no-op; Prosody needs no remote service.
func (p *Prosody) Connect(context.Context) error { return nil }

// Disconnect is a no-op.
func (p *Prosody) Disconnect() error { return nil }

// PushAudioAndText updates the estimate from one frame and, when given, the
// latest committed transcript.
func (p *Prosody) PushAudioAndText(pcm []byte, text *string) {
	level := clamp(audio.RMS(pcm)/prosodyFullScale, 0, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
	p.vec.Arousal += prosodyAlpha * (level - p.vec.Arousal)

	if text == nil || strings.TrimSpace(*text) == "" {
		return
	}
	p.texts++
	valence, dominance := textCues(*text)
	p.vec.Valence += prosodyTextWeight * (valence - p.vec.Valence)
	p.vec.Dominance += prosodyTextWeight * (dominance - p.vec.Dominance)
}

// EmotionVector returns the current estimate.
func (p *Prosody) EmotionVector() pipeline.EmotionVector {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vec
}

// Stats returns a [ProsodyStats] snapshot.
func (p *Prosody) Stats() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProsodyStats{Frames: p.frames, Texts: p.texts, Emotion: p.vec}
}

// textCues estimates valence and dominance in [0,1] from one transcript.
func textCues(text string) (valence, dominance float64) {
	valence, dominance = 0.5, 0.5
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, w := range words {
		if _, ok := positiveCues[w]; ok {
			valence += 0.15
		}
		if _, ok := negativeCues[w]; ok {
			valence -= 0.15
		}
	}
	dominance += 0.1 * float64(strings.Count(text, "!"))
	dominance -= 0.1 * float64(strings.Count(text, "?"))
	return clamp(valence, 0, 1), clamp(dominance, 0, 1)
}
