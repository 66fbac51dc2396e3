package pipeline

import (
	"context"
	"time"

	"github.com/MrWong99/babelcall/pkg/audio"
)

// FrameSource delivers inbound frames for one channel and accepts the
// translated audio going back.
type FrameSource interface {
	// Connect prepares the source. Frames must not be delivered before it
	// returns.
	Connect(ctx context.Context) error

	// Frames returns the inbound frame stream. It is closed when the source
	// goes away; the orchestrator treats that as fatal.
	Frames() <-chan audio.Frame

	// Write sends one outbound frame toward the caller.
	Write(ctx context.Context, frame []byte) error

	// Disconnect releases the source.
	Disconnect() error

	// Stats returns a JSON-encodable snapshot.
	Stats() any
}

// Segment is a span of speech cut by a [Segmenter].
type Segment struct {
	Audio    []byte
	Duration time.Duration
}

// Segmenter cuts a frame stream into speech segments.
type Segmenter interface {
	ProcessFrame(frame []byte) error
	HasSegment() bool
	Segment() Segment
	Reset()
}

// TranscriptKind tells how settled a transcript is.
type TranscriptKind int

const (
	// TranscriptInterim may still be revised by the recognizer.
	TranscriptInterim TranscriptKind = iota + 1

	// TranscriptStable will not be revised but the utterance continues.
	TranscriptStable

	// TranscriptFinal ends an utterance.
	TranscriptFinal
)

// String returns the transcript kind name.
func (k TranscriptKind) String() string {
	switch k {
	case TranscriptInterim:
		return "interim"
	case TranscriptStable:
		return "stable"
	case TranscriptFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Committed reports whether the transcript will not be revised.
func (k TranscriptKind) Committed() bool {
	return k == TranscriptStable || k == TranscriptFinal
}

// Transcript is one recognizer result.
type Transcript struct {
	Text string
	Kind TranscriptKind
}

// Recognizer is a streaming speech recognizer.
type Recognizer interface {
	Connect(ctx context.Context) error
	SendAudio(pcm []byte) error

	// Transcripts is closed when the recognizer disconnects.
	Transcripts() <-chan Transcript

	Disconnect() error
	Stats() any
}

// Translation is the result of an incremental translation.
type Translation struct {
	Text    string
	Stable  bool
	Latency time.Duration
}

// Translator translates transcript text incrementally, keeping per-channel
// context.
type Translator interface {
	TranslateIncremental(ctx context.Context, channelID, sourceLang, targetLang, text string, stable bool) (Translation, error)
	ClearSession(channelID string)
	Stats() any
}

// EmotionVector describes the speaker's affect on a 0..1 scale per axis.
type EmotionVector struct {
	Arousal   float64 `json:"arousal"`
	Valence   float64 `json:"valence"`
	Dominance float64 `json:"dominance"`
}

// Synthesis is synthesized speech. Audio is PCM16 little-endian mono.
type Synthesis struct {
	Audio      []byte
	SampleRate int
}

// Synthesizer turns translated text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Synthesis, error)
	SynthesizeWithEmotion(ctx context.Context, text, voiceID string, emotion EmotionVector) (Synthesis, error)
}

// EmotionAdapter estimates the speaker's emotion from audio and text.
type EmotionAdapter interface {
	Connect(ctx context.Context) error

	// PushAudioAndText feeds a frame, with the latest committed transcript
	// when one is available.
	PushAudioAndText(pcm []byte, text *string)

	EmotionVector() EmotionVector
	Disconnect() error
	Stats() any
}

// PacingSink releases frames at real-time cadence.
type PacingSink interface {
	Start(ctx context.Context) error
	Enqueue(frame []byte) error

	// Released yields frames in enqueue order at the pacing interval.
	Released() <-chan []byte

	Stop() error
	Stats() any
}

// Collaborators bundles the per-channel components an [Orchestrator]
// drives. Emotion is optional; every other field is required.
type Collaborators struct {
	Source      FrameSource
	Segmenter   Segmenter
	Recognizer  Recognizer
	Translator  Translator
	Synthesizer Synthesizer
	Emotion     EmotionAdapter
	Pacing      PacingSink
}

func (c Collaborators) validate() error {
	var missing []string
	if c.Source == nil {
		missing = append(missing, "source")
	}
	if c.Segmenter == nil {
		missing = append(missing, "segmenter")
	}
	if c.Recognizer == nil {
		missing = append(missing, "recognizer")
	}
	if c.Translator == nil {
		missing = append(missing, "translator")
	}
	if c.Synthesizer == nil {
		missing = append(missing, "synthesizer")
	}
	if c.Pacing == nil {
		missing = append(missing, "pacing")
	}
	if len(missing) > 0 {
		return &MissingCollaboratorError{Names: missing}
	}
	return nil
}
