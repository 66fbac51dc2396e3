package tts

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Stability (0–1) trades expressiveness for consistency. Zero means the
	// provider default.
	Stability float64

	// SimilarityBoost (0–1) keeps the output close to the original voice.
	// Zero means the provider default.
	SimilarityBoost float64

	// Style (0–1) exaggerates the speaking style.
	Style float64

	// SpeedFactor adjusts speaking rate (0.7–1.2, 1.0 = default). Zero means
	// the provider default.
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}
