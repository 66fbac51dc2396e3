package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newGroup(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		failing  map[string]bool
		wantUsed string
		wantErr  error
	}{
		{"primary serves", nil, "deepl", nil},
		{"first fallback serves", map[string]bool{"deepl": true}, "google", nil},
		{"second fallback serves", map[string]bool{"deepl": true, "google": true}, "echo", nil},
		{"all fail", map[string]bool{"deepl": true, "google": true, "echo": true}, "", ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup("deepl", "google", "echo")
			var used string
			err := fg.Execute(func(v string) error {
				if tt.failing[v] {
					return fmt.Errorf("%s: %w", v, errTest)
				}
				used = v
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, errTest) {
				t.Errorf("err = %v does not wrap the last provider error", err)
			}
			if used != tt.wantUsed {
				t.Errorf("used = %q, want %q", used, tt.wantUsed)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	t.Parallel()
	fg := newGroup("primary", "secondary")

	primaryCalls := 0
	call := func(v string) error {
		if v == "primary" {
			primaryCalls++
			return errTest
		}
		return nil
	}
	for range 4 {
		if err := fg.Execute(call); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if primaryCalls != 2 {
		t.Errorf("primary calls = %d, want 2 (breaker opens after MaxFailures)", primaryCalls)
	}

	snaps := fg.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0].Name != "primary" || snaps[0].State != StateOpen {
		t.Errorf("primary snapshot = %+v", snaps[0])
	}
	if snaps[1].State != StateClosed {
		t.Errorf("secondary snapshot = %+v", snaps[1])
	}
}

func TestFallbackGroup_StopsOnCancellation(t *testing.T) {
	t.Parallel()
	fg := newGroup("primary", "secondary")
	var tried []string
	_, err := ExecuteWithResult(fg, func(v string) (int, error) {
		tried = append(tried, v)
		return 0, fmt.Errorf("dial: %w", context.Canceled)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation reported as ErrAllFailed")
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(8000, "narrowband", FallbackConfig{})
	fg.AddFallback("wideband", 16000)

	got, err := ExecuteWithResult(fg, func(rate int) (string, error) {
		if rate == 8000 {
			return "", errTest
		}
		return fmt.Sprintf("%d Hz", rate), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "16000 Hz" {
		t.Errorf("result = %q, want 16000 Hz", got)
	}
	if fg.Primary() != 8000 {
		t.Errorf("Primary() = %d, want 8000", fg.Primary())
	}
}
