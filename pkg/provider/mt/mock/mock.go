// Package mock provides a test double for the mt.Provider interface.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/babelcall/pkg/provider/mt"
)

// Provider is a mock implementation of mt.Provider. By default it returns
// the request text with Prefix prepended.
type Provider struct {
	mu sync.Mutex

	// Prefix is prepended to the source text to form the translation.
	Prefix string

	// Translations maps source text to a fixed translation. Takes precedence
	// over Prefix.
	Translations map[string]string

	// Err, if non-nil, is returned by Translate.
	Err error

	// FailTimes makes the first N calls fail with Err before succeeding.
	// Zero means Err (if set) is returned on every call.
	FailTimes int

	// Requests records every call in order.
	Requests []mt.Request
}

// Translate records req and returns the configured translation or error.
func (p *Provider) Translate(_ context.Context, req mt.Request) (mt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if p.Err != nil && (p.FailTimes == 0 || len(p.Requests) <= p.FailTimes) {
		return mt.Result{}, p.Err
	}
	if t, ok := p.Translations[req.Text]; ok {
		return mt.Result{Text: t, DetectedSourceLang: strings.ToUpper(req.SourceLang)}, nil
	}
	return mt.Result{Text: p.Prefix + req.Text, DetectedSourceLang: strings.ToUpper(req.SourceLang)}, nil
}

// CallCount returns the number of Translate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// RequestsSnapshot returns a copy of the recorded requests. Thread-safe.
func (p *Provider) RequestsSnapshot() []mt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mt.Request(nil), p.Requests...)
}

var _ mt.Provider = (*Provider)(nil)
