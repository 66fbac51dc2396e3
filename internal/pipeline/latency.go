package pipeline

import (
	"slices"
	"time"
)

// DefaultLatencyBudget is the end-to-end target for one utterance.
const DefaultLatencyBudget = 900 * time.Millisecond

// maxLatencyHistory bounds the markers kept per channel; older ones are
// dropped first.
const maxLatencyHistory = 1000

// LatencyMarker holds the stage timestamps of one synthesized utterance.
type LatencyMarker struct {
	// T0 is when the segment was ready.
	T0 time.Time
	// ASR is when the committed transcript arrived.
	ASR time.Time
	// MT is when the translation returned.
	MT time.Time
	// TTS is when synthesized audio returned.
	TTS time.Time
	// T1 is when the last output frame was enqueued for playback.
	T1 time.Time
}

// Total is the end-to-end latency T1 − T0.
func (m LatencyMarker) Total() time.Duration { return m.T1.Sub(m.T0) }

// LatencySummary aggregates a channel's utterance latencies in milliseconds.
type LatencySummary struct {
	Count  int     `json:"count"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	MeanMs float64 `json:"mean_ms"`

	// Mean per-stage latencies.
	ASRMs float64 `json:"asr_ms"`
	MTMs  float64 `json:"mt_ms"`
	TTSMs float64 `json:"tts_ms"`
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// summarize computes percentiles over the sorted totals using index
// floor(n·p), and arithmetic means. An empty history yields the zero value.
func summarize(markers []LatencyMarker) LatencySummary {
	n := len(markers)
	if n == 0 {
		return LatencySummary{}
	}
	totals := make([]float64, n)
	var sum, asr, mt, tts float64
	for i, m := range markers {
		totals[i] = ms(m.Total())
		sum += totals[i]
		asr += ms(m.ASR.Sub(m.T0))
		mt += ms(m.MT.Sub(m.ASR))
		tts += ms(m.TTS.Sub(m.MT))
	}
	slices.Sort(totals)
	return LatencySummary{
		Count:  n,
		P50Ms:  percentile(totals, 0.50),
		P95Ms:  percentile(totals, 0.95),
		MeanMs: sum / float64(n),
		ASRMs:  asr / float64(n),
		MTMs:   mt / float64(n),
		TTSMs:  tts / float64(n),
	}
}

func percentile(sorted []float64, p float64) float64 {
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}
