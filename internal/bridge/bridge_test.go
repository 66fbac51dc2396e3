package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	pionrtp "github.com/pion/rtp"

	"github.com/MrWong99/babelcall/internal/bridge"
	"github.com/MrWong99/babelcall/internal/gateway"
	"github.com/MrWong99/babelcall/internal/rtp"
	"github.com/MrWong99/babelcall/pkg/audio"
)

// fakeGateway records Send calls.
type fakeGateway struct {
	mu    sync.Mutex
	sent  map[string][][]byte
	err   error
	calls int
}

func (g *fakeGateway) Send(_ context.Context, connID string, pcm []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return g.err
	}
	if g.sent == nil {
		g.sent = make(map[string][][]byte)
	}
	g.sent[connID] = append(g.sent[connID], pcm)
	return nil
}

func frame(seq uint64) audio.Frame {
	return audio.Frame{Data: make([]byte, 320), Sequence: seq, SampleRate: 8000}
}

// ─── GatewaySource ──────────────────────────────────────────────────────────

func TestGatewaySource_PushAndFrames(t *testing.T) {
	t.Parallel()
	s := bridge.NewGatewaySource(&fakeGateway{}, "c1", "id-1", 4)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := range uint64(3) {
		if !s.Push(frame(i + 1)) {
			t.Fatalf("Push(%d) dropped", i+1)
		}
	}
	for want := uint64(1); want <= 3; want++ {
		if got := (<-s.Frames()).Sequence; got != want {
			t.Errorf("frame sequence = %d, want %d", got, want)
		}
	}
}

func TestGatewaySource_FullQueueDrops(t *testing.T) {
	t.Parallel()
	s := bridge.NewGatewaySource(&fakeGateway{}, "c1", "id-1", 2)
	s.Push(frame(1))
	s.Push(frame(2))
	if s.Push(frame(3)) {
		t.Error("Push on a full queue should report a drop")
	}

	st := s.Stats().(bridge.SourceStats)
	if st.FramesPushed != 2 || st.FramesDropped != 1 {
		t.Errorf("stats = %+v, want pushed=2 dropped=1", st)
	}
}

func TestGatewaySource_CloseEndsStream(t *testing.T) {
	t.Parallel()
	s := bridge.NewGatewaySource(&fakeGateway{}, "c1", "id-1", 0)
	s.Push(frame(1))
	s.Close()
	s.Close()

	if _, ok := <-s.Frames(); !ok {
		t.Fatal("queued frame should still be delivered after Close")
	}
	if _, ok := <-s.Frames(); ok {
		t.Fatal("Frames should be closed after Close")
	}
	if s.Push(frame(2)) {
		t.Error("Push after Close should be rejected")
	}
	if err := s.Connect(context.Background()); !errors.Is(err, bridge.ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestGatewaySource_Write(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	s := bridge.NewGatewaySource(gw, "c1", "id-1", 0)

	if err := s.Write(context.Background(), []byte{1, 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	gw.mu.Lock()
	got := len(gw.sent["c1"])
	gw.mu.Unlock()
	if got != 1 {
		t.Errorf("sent to c1 = %d, want 1", got)
	}

	gw.mu.Lock()
	gw.err = gateway.ErrUnknownConnection
	gw.mu.Unlock()
	err := s.Write(context.Background(), []byte{3, 4})
	if !errors.Is(err, gateway.ErrUnknownConnection) {
		t.Errorf("Write error = %v, want wrapped ErrUnknownConnection", err)
	}

	st := s.Stats().(bridge.SourceStats)
	if st.FramesWritten != 1 || st.WriteErrors != 1 {
		t.Errorf("stats = %+v, want written=1 write_errors=1", st)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Write(context.Background(), []byte{5, 6}); !errors.Is(err, bridge.ErrClosed) {
		t.Errorf("Write after Disconnect = %v, want ErrClosed", err)
	}
	if gw.calls != 2 {
		t.Errorf("gateway calls = %d, want 2", gw.calls)
	}
}

// ─── RTPSource ──────────────────────────────────────────────────────────────

// captureWriter records marshalled RTP packets.
type captureWriter struct {
	mu      sync.Mutex
	packets [][]byte
}

func (w *captureWriter) WritePacket(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packets = append(w.packets, append([]byte(nil), b...))
	return nil
}

func TestRTPSource_Accumulates(t *testing.T) {
	t.Parallel()
	s := bridge.NewRTPSource(bridge.RTPSourceConfig{Stream: "ext-1", ChannelID: "ch-1"}, nil)

	s.HandleEvent(rtp.PCMEvent{PCM: make([]byte, 500), SampleRate: 8000})
	if n := len(s.Frames()); n != 1 {
		t.Fatalf("queued frames = %d, want 1", n)
	}
	s.HandleEvent(rtp.PCMEvent{PCM: make([]byte, 200), SampleRate: 8000})

	for want := uint64(1); want <= 2; want++ {
		f := <-s.Frames()
		if len(f.Data) != 320 {
			t.Errorf("frame %d: %d bytes, want 320", want, len(f.Data))
		}
		if f.Sequence != want {
			t.Errorf("frame sequence = %d, want %d", f.Sequence, want)
		}
		if f.Identity != "ch-1" || f.ConnectionID != "ext-1" || f.Protocol != "rtp" {
			t.Errorf("frame tags = %q/%q/%q", f.Identity, f.ConnectionID, f.Protocol)
		}
	}

	st := s.Stats().(bridge.RTPStats)
	if st.PendingBytes != 60 {
		t.Errorf("pending = %d, want 60", st.PendingBytes)
	}
}

func TestRTPSource_Resamples(t *testing.T) {
	t.Parallel()
	s := bridge.NewRTPSource(bridge.RTPSourceConfig{Stream: "opus", ChannelID: "ch"}, nil)

	// 20ms at 48 kHz is 1920 bytes; at 8 kHz it is exactly one frame.
	s.HandleEvent(rtp.PCMEvent{PCM: make([]byte, 1920), SampleRate: 48000})
	if n := len(s.Frames()); n != 1 {
		t.Fatalf("queued frames = %d, want 1", n)
	}
	if f := <-s.Frames(); f.SampleRate != 8000 {
		t.Errorf("frame rate = %d, want 8000", f.SampleRate)
	}
}

func TestRTPSource_CountsLoss(t *testing.T) {
	t.Parallel()
	s := bridge.NewRTPSource(bridge.RTPSourceConfig{Stream: "s"}, nil)
	s.HandleEvent(rtp.LossEvent{Lost: 3})
	s.HandleEvent(rtp.ErrorEvent{Kind: rtp.ErrorParse})
	s.HandleEvent(rtp.LossEvent{Lost: 2})

	if st := s.Stats().(bridge.RTPStats); st.PacketsLost != 5 {
		t.Errorf("packets lost = %d, want 5", st.PacketsLost)
	}
}

func TestRTPSource_WriteWithoutEgress(t *testing.T) {
	t.Parallel()
	s := bridge.NewRTPSource(bridge.RTPSourceConfig{Stream: "s"}, nil)
	if err := s.Write(context.Background(), make([]byte, 320)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	st := s.Stats().(bridge.RTPStats)
	if st.EgressEnabled || st.EgressDiscards != 1 || st.FramesWritten != 0 {
		t.Errorf("stats = %+v, want one discard and no writes", st)
	}
}

func TestRTPSource_WriteEgress(t *testing.T) {
	t.Parallel()
	w := &captureWriter{}
	sender, err := rtp.NewSender(w, rtp.SenderConfig{Codec: rtp.CodecPCMA})
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	s := bridge.NewRTPSource(bridge.RTPSourceConfig{Stream: "s"}, sender)

	if err := s.Write(context.Background(), make([]byte, 320)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.packets) != 1 {
		t.Fatalf("packets = %d, want 1", len(w.packets))
	}
	var p pionrtp.Packet
	if err := p.Unmarshal(w.packets[0]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.PayloadType != 8 {
		t.Errorf("PayloadType = %d, want 8", p.PayloadType)
	}
	if len(p.Payload) != 160 {
		t.Errorf("payload = %d bytes, want 160", len(p.Payload))
	}
}

func TestRTPSource_DisconnectClosesFrames(t *testing.T) {
	t.Parallel()
	s := bridge.NewRTPSource(bridge.RTPSourceConfig{Stream: "s"}, nil)
	s.HandleEvent(rtp.PCMEvent{PCM: make([]byte, 100), SampleRate: 8000})
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, ok := <-s.Frames(); ok {
		t.Error("Frames should be closed after Disconnect")
	}
	s.HandleEvent(rtp.PCMEvent{PCM: make([]byte, 640), SampleRate: 8000})
	st := s.Stats().(bridge.RTPStats)
	if st.PendingBytes != 0 || st.FramesPushed != 0 {
		t.Errorf("stats after disconnect = %+v, want nothing pushed", st)
	}
	if err := s.Write(context.Background(), make([]byte, 320)); !errors.Is(err, bridge.ErrClosed) {
		t.Errorf("Write after Disconnect = %v, want ErrClosed", err)
	}
}
