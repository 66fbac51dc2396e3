package stt

import "time"

// Transcript is one recognition result. Interim results arrive on
// [SessionHandle.Partials] and committed ones on [SessionHandle.Finals].
type Transcript struct {
	Text string

	// IsFinal is set once the provider has committed to Text.
	IsFinal bool

	// SpeechFinal marks the end of the speaker's utterance. It is only ever
	// set together with IsFinal.
	SpeechFinal bool

	// Confidence is in [0, 1]; zero when the provider does not report one.
	Confidence float64

	// Words is empty unless the provider returns word timings.
	Words []Word

	// Timestamp and Duration place the result on the session timeline.
	Timestamp time.Duration
	Duration  time.Duration
}

// Word is a single recognised word with its timing on the session timeline.
type Word struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost raises the recognition odds of a vocabulary term such as a
// product or company name. The Boost scale is provider specific.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
