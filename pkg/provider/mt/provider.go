// Package mt defines the Provider interface for machine translation backends.
//
// A translation provider turns one piece of source-language text into the
// target language. Callers that translate a running conversation pass the
// recent source history in Request.Context so the backend can keep pronouns
// and terminology consistent across fragments.
//
// Implementations must be safe for concurrent use.
package mt

import (
	"context"
	"errors"
)

// ErrRateLimited is returned (wrapped) when the backend rejected a request
// because of quota or rate limits. Callers may retry after a backoff.
var ErrRateLimited = errors.New("mt: rate limited")

// Formality controls the register of the translated text for languages that
// distinguish formal and informal address.
type Formality string

const (
	FormalityDefault    Formality = "default"
	FormalityMore       Formality = "more"
	FormalityLess       Formality = "less"
	FormalityPreferMore Formality = "prefer_more"
	FormalityPreferLess Formality = "prefer_less"
)

// Request is a single translation request.
type Request struct {
	// Text is the source text. Must be non-empty.
	Text string

	// SourceLang is the BCP-47 tag of the source text (e.g. "en", "en-US").
	// Empty lets the provider auto-detect.
	SourceLang string

	// TargetLang is the BCP-47 tag of the desired output. Required.
	TargetLang string

	// Context is preceding source text that is not translated but informs
	// the translation of Text.
	Context string

	// Formality selects the register. Empty means FormalityDefault.
	Formality Formality
}

// Result is the outcome of a translation.
type Result struct {
	// Text is the translated text.
	Text string

	// DetectedSourceLang is the source language the provider detected or
	// confirmed, if reported.
	DetectedSourceLang string
}

// Provider is the abstraction over any machine translation backend.
type Provider interface {
	// Translate translates req.Text from req.SourceLang into req.TargetLang.
	Translate(ctx context.Context, req Request) (Result, error)
}
