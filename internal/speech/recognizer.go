package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
)

// ErrNotConnected is returned by SendAudio before Connect succeeds or after
// Disconnect.
var ErrNotConnected = errors.New("speech: recognizer not connected")

// RecognizerStats is the JSON snapshot returned by [Recognizer.Stats].
type RecognizerStats struct {
	Provider   string `json:"provider"`
	Connected  bool   `json:"connected"`
	AudioSent  int64  `json:"audio_chunks"`
	BytesSent  int64  `json:"audio_bytes"`
	SendErrors int64  `json:"send_errors"`
	Interim    int64  `json:"interim"`
	Stable     int64  `json:"stable"`
	Final      int64  `json:"final"`
	Corrected  int64  `json:"corrected"`
}

// Recognizer adapts an stt.Provider session to [pipeline.Recognizer].
//
// Partials become interim transcripts. Finals become stable transcripts, or
// final ones when the provider flags the end of speech. The transcript
// channel closes once the provider session has closed both of its streams or
// Disconnect is called.
type Recognizer struct {
	provider stt.Provider
	cfg      stt.StreamConfig
	opts     options

	out  chan pipeline.Transcript
	done chan struct{}

	mu        sync.Mutex
	sess      stt.SessionHandle
	connected bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	audioSent  atomic.Int64
	bytesSent  atomic.Int64
	sendErrors atomic.Int64
	interim    atomic.Int64
	stable     atomic.Int64
	final      atomic.Int64
	corrected  atomic.Int64
}

var _ pipeline.Recognizer = (*Recognizer)(nil)

// NewRecognizer returns a Recognizer that opens one session on p with cfg.
func NewRecognizer(p stt.Provider, cfg stt.StreamConfig, opts ...Option) *Recognizer {
	o := defaults("stt")
	o.apply(opts)
	return &Recognizer{
		provider: p,
		cfg:      cfg,
		opts:     o,
		out:      make(chan pipeline.Transcript, 32),
		done:     make(chan struct{}),
	}
}

// Connect opens the provider session.
func (r *Recognizer) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return errors.New("speech: recognizer already connected")
	}
	select {
	case <-r.done:
		return ErrNotConnected
	default:
	}

	sess, err := r.provider.StartStream(ctx, r.cfg)
	if err != nil {
		r.opts.metrics.RecordProviderError(ctx, r.opts.name, "stt")
		return fmt.Errorf("speech: start stream: %w", err)
	}
	r.opts.metrics.RecordProviderRequest(ctx, r.opts.name, "stt", "ok")
	r.sess = sess
	r.connected = true

	r.wg.Add(1)
	go r.merge(sess.Partials(), sess.Finals())
	return nil
}

// SendAudio forwards a PCM chunk to the provider session.
func (r *Recognizer) SendAudio(pcm []byte) error {
	r.mu.Lock()
	sess := r.sess
	r.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	if err := sess.SendAudio(pcm); err != nil {
		r.sendErrors.Add(1)
		return fmt.Errorf("speech: send audio: %w", err)
	}
	r.audioSent.Add(1)
	r.bytesSent.Add(int64(len(pcm)))
	return nil
}

// Transcripts returns the merged transcript stream.
func (r *Recognizer) Transcripts() <-chan pipeline.Transcript { return r.out }

// Disconnect closes the provider session and waits for the merge loop. It is
// safe to call more than once.
func (r *Recognizer) Disconnect() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		sess := r.sess
		r.sess = nil
		started := r.connected
		r.connected = false
		r.mu.Unlock()

		close(r.done)
		if sess != nil {
			err = sess.Close()
		}
		if started {
			r.wg.Wait()
		} else {
			close(r.out)
		}
	})
	return err
}

// Stats returns a [RecognizerStats] snapshot.
func (r *Recognizer) Stats() any {
	r.mu.Lock()
	connected := r.connected
	r.mu.Unlock()
	return RecognizerStats{
		Provider:   r.opts.name,
		Connected:  connected,
		AudioSent:  r.audioSent.Load(),
		BytesSent:  r.bytesSent.Load(),
		SendErrors: r.sendErrors.Load(),
		Interim:    r.interim.Load(),
		Stable:     r.stable.Load(),
		Final:      r.final.Load(),
		Corrected:  r.corrected.Load(),
	}
}

func (r *Recognizer) merge(partials, finals <-chan stt.Transcript) {
	defer r.wg.Done()
	defer close(r.out)

	for partials != nil || finals != nil {
		var (
			t  stt.Transcript
			ok bool
		)
		select {
		case t, ok = <-partials:
			if !ok {
				partials = nil
				continue
			}
		case t, ok = <-finals:
			if !ok {
				finals = nil
				continue
			}
		case <-r.done:
			return
		}

		pt := pipeline.Transcript{Text: r.correct(t.Text), Kind: r.classify(t)}
		select {
		case r.out <- pt:
		case <-r.done:
			return
		}
	}
}

func (r *Recognizer) correct(text string) string {
	if r.opts.corrector == nil || text == "" {
		return text
	}
	out, corrections := r.opts.corrector.Correct(text)
	if len(corrections) > 0 {
		r.corrected.Add(int64(len(corrections)))
		for _, c := range corrections {
			slog.Debug("speech: transcript corrected", "from", c.Original, "to", c.Corrected, "score", c.Score)
		}
	}
	return out
}

func (r *Recognizer) classify(t stt.Transcript) pipeline.TranscriptKind {
	switch {
	case t.IsFinal && t.SpeechFinal:
		r.final.Add(1)
		return pipeline.TranscriptFinal
	case t.IsFinal:
		r.stable.Add(1)
		return pipeline.TranscriptStable
	default:
		r.interim.Add(1)
		return pipeline.TranscriptInterim
	}
}
