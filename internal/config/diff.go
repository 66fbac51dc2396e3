package config

import (
	"cmp"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (listeners, providers, RTP streams) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true if languages, voice, latency budget, emotion,
	// endpoint overrides or the glossary changed. Running channels keep
	// their settings.
	PipelineChanged bool

	VoicesChanged bool
	VoiceChanges  []VoiceDiff // sorted by name

	// RestartRequired lists top-level sections that changed but cannot be
	// applied without a restart.
	RestartRequired []string
}

// VoiceDiff describes what changed for a single voice entry.
type VoiceDiff struct {
	Name    string
	Changed bool
	Added   bool
	Removed bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !pipelineEqual(old.Pipeline, new.Pipeline) {
		d.PipelineChanged = true
	}

	for name, ov := range old.Voices {
		nv, exists := new.Voices[name]
		switch {
		case !exists:
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Name: name, Removed: true})
		case ov != nv:
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Name: name, Changed: true})
		}
	}
	for name := range new.Voices {
		if _, exists := old.Voices[name]; !exists {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Name: name, Added: true})
		}
	}
	slices.SortFunc(d.VoiceChanges, func(a, b VoiceDiff) int { return cmp.Compare(a.Name, b.Name) })
	d.VoicesChanged = len(d.VoiceChanges) > 0

	d.RestartRequired = restartSections(old, new)
	return d
}

func pipelineEqual(a, b PipelineConfig) bool {
	return a.SourceLang == b.SourceLang &&
		a.TargetLang == b.TargetLang &&
		a.VoiceID == b.VoiceID &&
		a.LatencyBudget == b.LatencyBudget &&
		a.Emotion == b.Emotion &&
		slices.Equal(a.Endpoints, b.Endpoints) &&
		slices.Equal(a.Glossary.Terms, b.Glossary.Terms) &&
		a.Glossary.Boost == b.Glossary.Boost &&
		a.Glossary.PhoneticThreshold == b.Glossary.PhoneticThreshold &&
		a.Glossary.FuzzyThreshold == b.Glossary.FuzzyThreshold
}

func restartSections(old, new *Config) []string {
	var out []string
	if old.Server.AdminAddr != new.Server.AdminAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		out = append(out, "server")
	}
	if old.Gateway != new.Gateway {
		out = append(out, "gateway")
	}
	if !slices.Equal(old.RTP.Streams, new.RTP.Streams) {
		out = append(out, "rtp")
	}
	if old.Segmenter != new.Segmenter {
		out = append(out, "segmenter")
	}
	if old.Pacing != new.Pacing {
		out = append(out, "pacing")
	}
	if old.Translator != new.Translator {
		out = append(out, "translator")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		out = append(out, "providers")
	}
	if old.Resilience != new.Resilience {
		out = append(out, "resilience")
	}
	if old.Archive != new.Archive {
		out = append(out, "archive")
	}
	return out
}
