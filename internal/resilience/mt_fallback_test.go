package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/babelcall/pkg/provider/mt"
	mtmock "github.com/MrWong99/babelcall/pkg/provider/mt/mock"
)

func TestMTFallback_Translate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		primaryErr error
		backupErr  error
		wantText   string
		wantErr    error
	}{
		{"primary", nil, nil, "p:hello", nil},
		{"failover", errors.New("quota"), nil, "b:hello", nil},
		{"all fail", errors.New("quota"), errors.New("down"), "", ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &mtmock.Provider{Prefix: "p:", Err: tt.primaryErr}
			backup := &mtmock.Provider{Prefix: "b:", Err: tt.backupErr}
			fb := NewMTFallback(primary, "deepl", FallbackConfig{})
			fb.AddFallback("backup", backup)

			res, err := fb.Translate(context.Background(), mt.Request{Text: "hello", TargetLang: "de"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if res.Text != tt.wantText {
				t.Errorf("text = %q, want %q", res.Text, tt.wantText)
			}
		})
	}
}

func TestMTFallback_BreakerOpens(t *testing.T) {
	t.Parallel()
	primary := &mtmock.Provider{Err: errors.New("503")}
	backup := &mtmock.Provider{Prefix: "b:"}
	fb := NewMTFallback(primary, "deepl", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.AddFallback("backup", backup)

	for range 3 {
		if _, err := fb.Translate(context.Background(), mt.Request{Text: "x", TargetLang: "de"}); err != nil {
			t.Fatalf("Translate: %v", err)
		}
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary calls = %d, want 1", primary.CallCount())
	}
	if snaps := fb.Snapshots(); snaps[0].State != StateOpen {
		t.Errorf("primary breaker = %v, want open", snaps[0].State)
	}
}
