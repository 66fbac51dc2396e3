// Package speech adapts the streaming provider interfaces in pkg/provider to
// the collaborator interfaces the channel pipeline drives.
//
//   - [Recognizer] wraps an stt.Provider and folds its partial and final
//     streams into a single ordered transcript stream.
//   - [Translator] wraps an mt.Provider with per-channel rolling context, a
//     short-lived cache of stable results and retry with backoff.
//   - [Synthesizer] wraps a tts.Provider, collecting its audio stream and
//     mapping the speaker's emotion onto voice settings.
//   - [Prosody] is a lightweight EmotionAdapter that estimates affect from
//     frame energy and transcript cues.
//
// A Translator and a Synthesizer hold no per-call audio state and may be
// shared across channels. A Recognizer and a Prosody belong to one channel.
package speech
