// Package segment cuts a channel's frame stream into speech segments for the
// recognizer.
//
// A [Segmenter] feeds every frame through a VAD session and closes the
// current segment when speech is followed by silence, when the energy of the
// last frames drops sharply after speech, or when the segment reaches its
// maximum duration. Segments shorter than the minimum duration are never
// cut, and segments without any detected speech are discarded.
package segment

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/provider/vad"
	"github.com/MrWong99/babelcall/pkg/provider/vad/energy"
)

// Defaults applied by [New] to zero Config fields.
const (
	DefaultEnergyThreshold = 500
	DefaultMinDuration     = 500 * time.Millisecond
	DefaultMaxDuration     = 3 * time.Second
	DefaultFrameDuration   = 20 * time.Millisecond
)

// dropWindow is the number of frames compared on each side of an energy
// drop boundary.
const dropWindow = 5

// Config configures a Segmenter.
type Config struct {
	// SampleRate of inbound frames. Default: 8000.
	SampleRate int

	// FrameDuration of inbound frames. Default: 20ms.
	FrameDuration time.Duration

	// EnergyThreshold is the RMS amplitude above which a frame is voiced.
	// Default: 500.
	EnergyThreshold float64

	// MinVoiceFrames and MinSilenceFrames control the VAD run lengths.
	// Defaults: 3 and 5.
	MinVoiceFrames   int
	MinSilenceFrames int

	// MinDuration and MaxDuration bound a segment. Defaults: 500ms and 3s.
	MinDuration time.Duration
	MaxDuration time.Duration
}

func (c *Config) defaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = DefaultEnergyThreshold
	}
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
}

// Stats is a snapshot of segmenter activity.
type Stats struct {
	Frames      uint64        `json:"frames"`
	Segments    uint64        `json:"segments"`
	Discarded   uint64        `json:"discarded"`
	AvgDuration time.Duration `json:"avg_duration"`
	Pending     time.Duration `json:"pending"`
}

// Segmenter implements [pipeline.Segmenter]. It is safe for concurrent use.
type Segmenter struct {
	cfg  Config
	sess vad.SessionHandle

	mu        sync.Mutex
	buf       []byte
	scores    []float64
	duration  time.Duration
	hadSpeech bool
	speaking  bool
	ready     []pipeline.Segment
	stats     Stats
	total     time.Duration
}

// Option is a functional option for [New].
type Option func(*options)

type options struct {
	engine vad.Engine
}

// WithEngine replaces the default energy VAD engine.
func WithEngine(e vad.Engine) Option {
	return func(o *options) { o.engine = e }
}

// New creates a segmenter with its own VAD session.
func New(cfg Config, opts ...Option) (*Segmenter, error) {
	cfg.defaults()
	if cfg.MinDuration > cfg.MaxDuration {
		return nil, fmt.Errorf("segment: min duration %v exceeds max %v", cfg.MinDuration, cfg.MaxDuration)
	}
	o := options{engine: energy.New()}
	for _, opt := range opts {
		opt(&o)
	}
	sess, err := o.engine.NewSession(vad.Config{
		SampleRate:       cfg.SampleRate,
		FrameSizeMs:      int(cfg.FrameDuration / time.Millisecond),
		SpeechThreshold:  cfg.EnergyThreshold,
		MinSpeechFrames:  cfg.MinVoiceFrames,
		MinSilenceFrames: cfg.MinSilenceFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("segment: create vad session: %w", err)
	}
	return &Segmenter{cfg: cfg, sess: sess}, nil
}

// ProcessFrame adds one frame and cuts a segment when a boundary is reached.
func (s *Segmenter) ProcessFrame(frame []byte) error {
	ev, err := s.sess.ProcessFrame(frame)
	if err != nil {
		return fmt.Errorf("segment: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Frames++
	s.buf = append(s.buf, frame...)
	s.scores = append(s.scores, ev.Score)
	s.duration += s.cfg.FrameDuration
	s.speaking = ev.Type.Speaking()
	if s.speaking && ev.Score > s.cfg.EnergyThreshold {
		s.hadSpeech = true
	}

	if s.boundary() {
		s.cut()
	}
	return nil
}

func (s *Segmenter) boundary() bool {
	switch {
	case s.duration < s.cfg.MinDuration:
		return false
	case s.duration >= s.cfg.MaxDuration:
		return true
	case s.hadSpeech && !s.speaking:
		return true
	}
	return s.energyDrop()
}

// energyDrop reports a clause boundary: the mean energy of the last frames
// fell below half of the voiced frames before them.
func (s *Segmenter) energyDrop() bool {
	n := len(s.scores)
	if !s.hadSpeech || n < 2*dropWindow {
		return false
	}
	recent := mean(s.scores[n-dropWindow:])
	previous := mean(s.scores[n-2*dropWindow : n-dropWindow])
	return previous > s.cfg.EnergyThreshold && recent < previous/2
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// cut closes the current segment. Must be called with mu held.
func (s *Segmenter) cut() {
	if s.hadSpeech {
		s.ready = append(s.ready, pipeline.Segment{Audio: s.buf, Duration: s.duration})
		s.stats.Segments++
		s.total += s.duration
		s.stats.AvgDuration = s.total / time.Duration(s.stats.Segments)
	} else {
		s.stats.Discarded++
	}
	s.buf = nil
	s.scores = s.scores[:0]
	s.duration = 0
	s.hadSpeech = false
}

// HasSegment reports whether a completed segment is waiting.
func (s *Segmenter) HasSegment() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready) > 0
}

// Segment pops the oldest completed segment. It returns the zero Segment if
// none is waiting.
func (s *Segmenter) Segment() pipeline.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return pipeline.Segment{}
	}
	seg := s.ready[0]
	s.ready = s.ready[1:]
	return seg
}

// Flush cuts the current segment regardless of its length and reports
// whether one became available.
func (s *Segmenter) Flush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) > 0 {
		s.cut()
	}
	return len(s.ready) > 0
}

// Reset drops buffered audio and pending segments and clears VAD state.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	s.buf = nil
	s.scores = nil
	s.duration = 0
	s.hadSpeech = false
	s.speaking = false
	s.ready = nil
	s.mu.Unlock()
	s.sess.Reset()
}

// Close releases the VAD session.
func (s *Segmenter) Close() error {
	return s.sess.Close()
}

// Stats returns a snapshot.
func (s *Segmenter) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Pending = s.duration
	return st
}

var _ pipeline.Segmenter = (*Segmenter)(nil)
