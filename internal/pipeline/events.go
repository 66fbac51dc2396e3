package pipeline

import "time"

// Event is published by an [Orchestrator] and re-published by the
// [Registry]. The set of implementations is closed: [StartedEvent],
// [TranslationEvent], [ErrorEvent], [HighLatencyEvent] and [StoppedEvent].
type Event interface {
	Channel() string
	pipelineEvent()
}

// StartedEvent fires once the orchestrator reaches RUNNING.
type StartedEvent struct {
	ChannelID  string
	SourceLang string
	TargetLang string
}

// TranslationEvent carries every translation, interim ones included.
type TranslationEvent struct {
	ChannelID  string
	SourceText string
	Text       string
	Stable     bool
	Latency    time.Duration
}

// ErrorEvent reports a per-item failure; the pipeline keeps running.
type ErrorEvent struct {
	ChannelID string
	Stage     string
	Err       error
}

// HighLatencyEvent fires when an utterance exceeded the latency budget.
type HighLatencyEvent struct {
	ChannelID string
	Total     time.Duration
	Budget    time.Duration
}

// StoppedEvent fires after teardown, with the final stats.
type StoppedEvent struct {
	ChannelID string
	Reason    string
	Stats     Stats
}

func (e StartedEvent) Channel() string     { return e.ChannelID }
func (e TranslationEvent) Channel() string { return e.ChannelID }
func (e ErrorEvent) Channel() string       { return e.ChannelID }
func (e HighLatencyEvent) Channel() string { return e.ChannelID }
func (e StoppedEvent) Channel() string     { return e.ChannelID }

func (StartedEvent) pipelineEvent()     {}
func (TranslationEvent) pipelineEvent() {}
func (ErrorEvent) pipelineEvent()       {}
func (HighLatencyEvent) pipelineEvent() {}
func (StoppedEvent) pipelineEvent()     {}
