// Package mock provides test doubles for the pipeline collaborator
// interfaces.
//
// Every double records its calls in exported fields guarded by an internal
// mutex; use the accessor methods to read them from a test goroutine while
// the orchestrator is running. Error fields, when non-nil, are returned by
// the corresponding method.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/pkg/audio"
)

// ─── Source ─────────────────────────────────────────────────────────────────

// Source is a mock implementation of pipeline.FrameSource. Tests push
// frames into FramesCh and may close it to simulate the source going away.
type Source struct {
	mu sync.Mutex

	FramesCh   chan audio.Frame
	ConnectErr error
	WriteErr   error
	DiscErr    error

	ConnectCalls    int
	DisconnectCalls int
	Written         [][]byte
}

// NewSource returns a Source with a buffered frame channel.
func NewSource() *Source {
	return &Source{FramesCh: make(chan audio.Frame, 64)}
}

func (s *Source) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectCalls++
	return s.ConnectErr
}

func (s *Source) Frames() <-chan audio.Frame { return s.FramesCh }

func (s *Source) Write(_ context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Written = append(s.Written, append([]byte(nil), frame...))
	return nil
}

func (s *Source) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DisconnectCalls++
	return s.DiscErr
}

func (s *Source) Stats() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{"written": len(s.Written)}
}

// Connects returns how often Connect was called.
func (s *Source) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ConnectCalls
}

// WrittenCount returns the number of frames written so far.
func (s *Source) WrittenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Written)
}

// Disconnects returns how often Disconnect was called.
func (s *Source) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DisconnectCalls
}

var _ pipeline.FrameSource = (*Source)(nil)

// ─── Segmenter ──────────────────────────────────────────────────────────────

// Segmenter is a mock implementation of pipeline.Segmenter that completes a
// segment every Every frames (default 1).
type Segmenter struct {
	mu sync.Mutex

	Every      int
	ProcessErr error

	buf        []byte
	ready      bool
	Processed  int
	ResetCalls int
}

func (s *Segmenter) ProcessFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ProcessErr != nil {
		return s.ProcessErr
	}
	s.Processed++
	s.buf = append(s.buf, frame...)
	every := max(s.Every, 1)
	if s.Processed%every == 0 {
		s.ready = true
	}
	return nil
}

func (s *Segmenter) HasSegment() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Segmenter) Segment() pipeline.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg := pipeline.Segment{Audio: s.buf, Duration: audio.FrameDuration(len(s.buf), audio.DefaultSampleRate)}
	s.buf = nil
	s.ready = false
	return seg
}

func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
	s.buf = nil
	s.ready = false
}

// ProcessedCount returns the number of frames accepted.
func (s *Segmenter) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Processed
}

// Resets returns how often Reset was called.
func (s *Segmenter) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResetCalls
}

var _ pipeline.Segmenter = (*Segmenter)(nil)

// ─── Recognizer ─────────────────────────────────────────────────────────────

// Recognizer is a mock implementation of pipeline.Recognizer. When
// OnSendAudio is set it is called for every segment, typically to push a
// transcript into TranscriptsCh.
type Recognizer struct {
	mu sync.Mutex

	TranscriptsCh chan pipeline.Transcript
	ConnectErr    error
	SendErr       error
	OnSendAudio   func(pcm []byte)

	ConnectCalls    int
	DisconnectCalls int
	SendAudioCalls  int
}

// NewRecognizer returns a Recognizer with a buffered transcript channel.
func NewRecognizer() *Recognizer {
	return &Recognizer{TranscriptsCh: make(chan pipeline.Transcript, 64)}
}

func (r *Recognizer) Connect(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ConnectCalls++
	return r.ConnectErr
}

func (r *Recognizer) SendAudio(pcm []byte) error {
	r.mu.Lock()
	r.SendAudioCalls++
	err, hook := r.SendErr, r.OnSendAudio
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(pcm)
	}
	return nil
}

func (r *Recognizer) Transcripts() <-chan pipeline.Transcript { return r.TranscriptsCh }

func (r *Recognizer) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DisconnectCalls++
	return nil
}

func (r *Recognizer) Stats() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]int{"segments": r.SendAudioCalls}
}

// Counts returns connect, send and disconnect call counts.
func (r *Recognizer) Counts() (connects, sends, disconnects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ConnectCalls, r.SendAudioCalls, r.DisconnectCalls
}

var _ pipeline.Recognizer = (*Recognizer)(nil)

// ─── Translator ─────────────────────────────────────────────────────────────

// TranslateCall records one TranslateIncremental invocation.
type TranslateCall struct {
	ChannelID  string
	SourceLang string
	TargetLang string
	Text       string
	Stable     bool
}

// Translator is a mock implementation of pipeline.Translator. It returns
// Prefix+text unless Err is set.
type Translator struct {
	mu sync.Mutex

	Prefix string
	Err    error

	Calls      []TranslateCall
	ClearedFor []string
}

func (t *Translator) TranslateIncremental(_ context.Context, channelID, src, dst, text string, stable bool) (pipeline.Translation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, TranslateCall{ChannelID: channelID, SourceLang: src, TargetLang: dst, Text: text, Stable: stable})
	if t.Err != nil {
		return pipeline.Translation{}, t.Err
	}
	return pipeline.Translation{Text: t.Prefix + text, Stable: stable}, nil
}

func (t *Translator) ClearSession(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ClearedFor = append(t.ClearedFor, channelID)
}

func (t *Translator) Stats() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]int{"requests": len(t.Calls)}
}

// CallCount returns the number of translations requested.
func (t *Translator) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// CallsSnapshot returns a copy of the recorded calls.
func (t *Translator) CallsSnapshot() []TranslateCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TranslateCall(nil), t.Calls...)
}

// Cleared returns the channel ids passed to ClearSession.
func (t *Translator) Cleared() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ClearedFor...)
}

var _ pipeline.Translator = (*Translator)(nil)

// ─── Synthesizer ────────────────────────────────────────────────────────────

// SynthesizeCall records one synthesis request. Emotion is nil for plain
// Synthesize calls.
type SynthesizeCall struct {
	Text    string
	VoiceID string
	Emotion *pipeline.EmotionVector
}

// Synthesizer is a mock implementation of pipeline.Synthesizer returning
// Audio at SampleRate. Before returning it calls Hook, if set.
type Synthesizer struct {
	mu sync.Mutex

	Audio      []byte
	SampleRate int
	Err        error
	Hook       func()

	Calls []SynthesizeCall
}

func (s *Synthesizer) Synthesize(_ context.Context, text, voiceID string) (pipeline.Synthesis, error) {
	return s.record(SynthesizeCall{Text: text, VoiceID: voiceID})
}

func (s *Synthesizer) SynthesizeWithEmotion(_ context.Context, text, voiceID string, emotion pipeline.EmotionVector) (pipeline.Synthesis, error) {
	return s.record(SynthesizeCall{Text: text, VoiceID: voiceID, Emotion: &emotion})
}

func (s *Synthesizer) record(call SynthesizeCall) (pipeline.Synthesis, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, call)
	hook, err := s.Hook, s.Err
	out := pipeline.Synthesis{Audio: s.Audio, SampleRate: s.SampleRate}
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return pipeline.Synthesis{}, err
	}
	return out, nil
}

// CallsSnapshot returns a copy of the recorded calls.
func (s *Synthesizer) CallsSnapshot() []SynthesizeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SynthesizeCall(nil), s.Calls...)
}

var _ pipeline.Synthesizer = (*Synthesizer)(nil)

// ─── Emotion ────────────────────────────────────────────────────────────────

// Emotion is a mock implementation of pipeline.EmotionAdapter.
type Emotion struct {
	mu sync.Mutex

	Vector     pipeline.EmotionVector
	ConnectErr error

	ConnectCalls    int
	DisconnectCalls int
	Pushes          int
	Texts           []string
}

func (e *Emotion) Connect(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ConnectCalls++
	return e.ConnectErr
}

func (e *Emotion) PushAudioAndText(_ []byte, text *string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Pushes++
	if text != nil {
		e.Texts = append(e.Texts, *text)
	}
}

func (e *Emotion) EmotionVector() pipeline.EmotionVector {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Vector
}

func (e *Emotion) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DisconnectCalls++
	return nil
}

func (e *Emotion) Stats() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]int{"pushes": e.Pushes}
}

// TextsSnapshot returns the transcripts pushed so far.
func (e *Emotion) TextsSnapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.Texts...)
}

// Disconnects returns how often Disconnect was called.
func (e *Emotion) Disconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.DisconnectCalls
}

var _ pipeline.EmotionAdapter = (*Emotion)(nil)

// ─── Pacing ─────────────────────────────────────────────────────────────────

// Pacing is a mock implementation of pipeline.PacingSink that releases
// frames immediately, in order.
type Pacing struct {
	mu sync.Mutex

	ReleasedCh chan []byte
	StartErr   error
	EnqueueErr error

	// Hold keeps enqueued frames instead of releasing them.
	Hold bool
	// OnEnqueue, when set, runs on every accepted frame.
	OnEnqueue func()

	StartCalls int
	StopCalls  int
	Enqueued   int
}

// NewPacing returns a Pacing with a buffered release channel.
func NewPacing() *Pacing {
	return &Pacing{ReleasedCh: make(chan []byte, 256)}
}

func (p *Pacing) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls++
	return p.StartErr
}

func (p *Pacing) Enqueue(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EnqueueErr != nil {
		return p.EnqueueErr
	}
	p.Enqueued++
	if p.OnEnqueue != nil {
		p.OnEnqueue()
	}
	if p.Hold {
		return nil
	}
	select {
	case p.ReleasedCh <- frame:
	default:
	}
	return nil
}

func (p *Pacing) Released() <-chan []byte { return p.ReleasedCh }

func (p *Pacing) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCalls++
	return nil
}

func (p *Pacing) Stats() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int{"enqueued": p.Enqueued}
}

// EnqueuedFrames returns how many frames Enqueue accepted.
func (p *Pacing) EnqueuedFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Enqueued
}

// Stops returns how often Stop was called.
func (p *Pacing) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.StopCalls
}

var _ pipeline.PacingSink = (*Pacing)(nil)
