package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/babelcall/internal/pipeline"
)

func channelConfig(id string) pipeline.Config {
	return pipeline.Config{ChannelID: id, SourceLang: "en", TargetLang: "es"}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	t.Parallel()

	events := newEventLog()
	r := pipeline.NewRegistry(pipeline.RegistryConfig{OnEvent: events.record})
	t.Cleanup(func() { _ = r.StopAll(context.Background()) })

	o, err := r.Create(context.Background(), channelConfig("a"), newFixture().collaborators())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, ok := r.Get("a"); !ok || got != o {
		t.Errorf("Get(a) = %v, %v", got, ok)
	}
	if _, ok := r.Get("b"); ok {
		t.Error("Get(b) found an entry")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	events.waitFor(t, "started", has[pipeline.StartedEvent](1))
}

func TestRegistry_DuplicateChannel(t *testing.T) {
	t.Parallel()

	r := pipeline.NewRegistry(pipeline.RegistryConfig{})
	t.Cleanup(func() { _ = r.StopAll(context.Background()) })

	if _, err := r.Create(context.Background(), channelConfig("dup"), newFixture().collaborators()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f := newFixture()
	_, err := r.Create(context.Background(), channelConfig("dup"), f.collaborators())
	if !errors.Is(err, pipeline.ErrChannelExists) {
		t.Fatalf("err = %v, want ErrChannelExists", err)
	}
	if got := f.source.Connects(); got != 0 {
		t.Errorf("duplicate connected its source %d times", got)
	}
}

func TestRegistry_ConcurrentCreate(t *testing.T) {
	t.Parallel()

	r := pipeline.NewRegistry(pipeline.RegistryConfig{})
	t.Cleanup(func() { _ = r.StopAll(context.Background()) })

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(context.Background(), channelConfig("race"), newFixture().collaborators())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, pipeline.ErrChannelExists):
				dups++
			default:
				t.Errorf("Create: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dups != n-1 {
		t.Errorf("created=%d duplicates=%d, want 1 and %d", ok, dups, n-1)
	}
}

func TestRegistry_StartFailureNotRegistered(t *testing.T) {
	t.Parallel()

	r := pipeline.NewRegistry(pipeline.RegistryConfig{})
	f := newFixture()
	f.pacing.StartErr = errors.New("no clock")

	if _, err := r.Create(context.Background(), channelConfig("x"), f.collaborators()); err == nil {
		t.Fatal("expected start error")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	// The id is free again.
	if _, err := r.Create(context.Background(), channelConfig("x"), newFixture().collaborators()); err != nil {
		t.Fatalf("Create after failure: %v", err)
	}
	_ = r.StopAll(context.Background())
}

func TestRegistry_StopMissingIsNoop(t *testing.T) {
	t.Parallel()

	r := pipeline.NewRegistry(pipeline.RegistryConfig{})
	if err := r.Stop(context.Background(), "nope"); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestRegistry_Stop(t *testing.T) {
	t.Parallel()

	r := pipeline.NewRegistry(pipeline.RegistryConfig{})
	f := newFixture()
	o, err := r.Create(context.Background(), channelConfig("s"), f.collaborators())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Stop(context.Background(), "s"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if o.State() != pipeline.StateStopped {
		t.Errorf("state = %s, want STOPPED", o.State())
	}
	if _, ok := r.Get("s"); ok {
		t.Error("stopped channel still registered")
	}
	if err := r.Stop(context.Background(), "s"); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if got := f.source.Disconnects(); got != 1 {
		t.Errorf("source disconnects = %d, want 1", got)
	}
}

func TestRegistry_StopAll(t *testing.T) {
	t.Parallel()

	r := pipeline.NewRegistry(pipeline.RegistryConfig{})
	var fixtures []*fixture
	for i := range 4 {
		f := newFixture()
		fixtures = append(fixtures, f)
		if _, err := r.Create(context.Background(), channelConfig(fmt.Sprintf("c%d", i)), f.collaborators()); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if got := len(r.AllStats()); got != 4 {
		t.Errorf("AllStats = %d entries, want 4", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	for i, f := range fixtures {
		if got := f.source.Disconnects(); got != 1 {
			t.Errorf("c%d source disconnects = %d, want 1", i, got)
		}
	}
}

func TestRegistry_FatalStopRemovesEntry(t *testing.T) {
	t.Parallel()

	events := newEventLog()
	r := pipeline.NewRegistry(pipeline.RegistryConfig{OnEvent: events.record})
	f := newFixture()
	if _, err := r.Create(context.Background(), channelConfig("f"), f.collaborators()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	close(f.source.FramesCh)
	evs := events.waitFor(t, "stopped", has[pipeline.StoppedEvent](1))
	if evs[len(evs)-1].Channel() != "f" {
		t.Errorf("event channel = %q, want f", evs[len(evs)-1].Channel())
	}
	if _, ok := r.Get("f"); ok {
		t.Error("channel still registered after fatal stop")
	}
}

func TestRegistry_AppliesOptions(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := pipeline.NewRegistry(pipeline.RegistryConfig{Options: []pipeline.Option{pipeline.WithClock(clock.Now)}})
	t.Cleanup(func() { _ = r.StopAll(context.Background()) })

	if _, err := r.Create(context.Background(), channelConfig("o"), newFixture().collaborators()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(3 * time.Second)
	if got := r.AllStats()["o"].Uptime; got != 3*time.Second {
		t.Errorf("uptime = %v, want 3s", got)
	}
}
