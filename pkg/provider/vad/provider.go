// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own run counters so
// that concurrent calls are processed independently.
//
// ProcessFrame is synchronous and returns immediately with a detection
// result; the segmenter calls it once per inbound frame.
//
// A single SessionHandle should not be shared across goroutines unless the
// implementation documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
)

// Config holds the parameters for a VAD session. Thresholds are expressed in
// the engine's native scale; the energy engine uses RMS amplitude of PCM16
// samples.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Common values: 8000, 16000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match.
	FrameSizeMs int

	// SpeechThreshold is the score above which a frame counts as voiced.
	SpeechThreshold float64

	// SilenceThreshold is the score below which a frame counts as silent.
	// Frames in between keep the current run going. Must be ≤
	// SpeechThreshold; zero means SpeechThreshold.
	SilenceThreshold float64

	// MinSpeechFrames is the number of consecutive voiced frames that start
	// speech. Default: 3.
	MinSpeechFrames int

	// MinSilenceFrames is the number of consecutive silent frames that end
	// speech. Default: 5.
	MinSilenceFrames int
}

// FrameBytes returns the expected PCM16 mono frame length in bytes.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Validate checks the configuration and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSizeMs <= 0 {
		errs = append(errs, fmt.Errorf("vad: frame size must be positive, got %dms", c.FrameSizeMs))
	}
	if c.SpeechThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad: speech threshold must be positive, got %v", c.SpeechThreshold))
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = c.SpeechThreshold
	}
	if c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad: silence threshold %v above speech threshold %v", c.SilenceThreshold, c.SpeechThreshold))
	}
	if c.MinSpeechFrames <= 0 {
		c.MinSpeechFrames = 3
	}
	if c.MinSilenceFrames <= 0 {
		c.MinSilenceFrames = 5
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations.
// Reset clears detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be little-endian PCM16 at the configured rate
	// and frame size.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state. Use this when the stream
	// restarts so stale run counters do not leak into the next segment.
	Reset()

	// Close releases the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session. Returns an error if the
	// configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
