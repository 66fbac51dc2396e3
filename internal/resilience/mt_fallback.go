package resilience

import (
	"context"

	"github.com/MrWong99/babelcall/pkg/provider/mt"
)

// MTFallback implements [mt.Provider] with automatic failover across multiple
// translation backends. Each backend has its own circuit breaker.
type MTFallback struct {
	group *FallbackGroup[mt.Provider]
}

// Compile-time interface assertion.
var _ mt.Provider = (*MTFallback)(nil)

// NewMTFallback creates an [MTFallback] with primary as the preferred backend.
func NewMTFallback(primary mt.Provider, primaryName string, cfg FallbackConfig) *MTFallback {
	return &MTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translation provider as a fallback.
func (f *MTFallback) AddFallback(name string, provider mt.Provider) {
	f.group.AddFallback(name, provider)
}

// Translate sends req to the first healthy provider.
func (f *MTFallback) Translate(ctx context.Context, req mt.Request) (mt.Result, error) {
	return ExecuteWithResult(f.group, func(p mt.Provider) (mt.Result, error) {
		return p.Translate(ctx, req)
	})
}

// Snapshots returns the breaker state of every registered provider.
func (f *MTFallback) Snapshots() []Snapshot {
	return f.group.Snapshots()
}
