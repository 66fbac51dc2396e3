// Package deepl provides a DeepL-backed machine translation provider using
// the DeepL v2 REST API. It implements the mt.Provider interface.
package deepl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/babelcall/pkg/provider/mt"
)

const (
	proEndpoint    = "https://api.deepl.com/v2"
	freeEndpoint   = "https://api-free.deepl.com/v2"
	defaultTimeout = 5 * time.Second
)

// Option is a functional option for configuring the DeepL Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL ("https://api.deepl.com/v2").
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimSuffix(base, "/")
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithTimeout sets the per-request timeout. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithFormality sets the default formality used when a request leaves it
// empty.
func WithFormality(f mt.Formality) Option {
	return func(p *Provider) {
		p.formality = f
	}
}

// Provider implements mt.Provider backed by DeepL.
type Provider struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	formality  mt.Formality
	httpClient *http.Client
}

// New creates a new DeepL Provider. apiKey must be non-empty. Keys with the
// ":fx" suffix are routed to the free API endpoint.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepl: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    proEndpoint,
		timeout:    defaultTimeout,
		formality:  mt.FormalityDefault,
		httpClient: &http.Client{},
	}
	if strings.HasSuffix(apiKey, ":fx") {
		p.baseURL = freeEndpoint
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// translateRequest is the JSON body of POST /v2/translate.
type translateRequest struct {
	Text               []string `json:"text"`
	SourceLang         string   `json:"source_lang,omitempty"`
	TargetLang         string   `json:"target_lang"`
	Context            string   `json:"context,omitempty"`
	SplitSentences     string   `json:"split_sentences"`
	PreserveFormatting bool     `json:"preserve_formatting"`
	Formality          string   `json:"formality,omitempty"`
}

type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// Translate sends a single translation request to DeepL.
func (p *Provider) Translate(ctx context.Context, req mt.Request) (mt.Result, error) {
	if req.Text == "" {
		return mt.Result{}, errors.New("deepl: text must not be empty")
	}
	if req.TargetLang == "" {
		return mt.Result{}, errors.New("deepl: target language must not be empty")
	}

	body := buildRequest(req, p.formality)
	payload, err := json.Marshal(body)
	if err != nil {
		return mt.Result{}, fmt.Errorf("deepl: encode request: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/translate", bytes.NewReader(payload))
	if err != nil {
		return mt.Result{}, fmt.Errorf("deepl: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return mt.Result{}, fmt.Errorf("deepl: translate HTTP: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 456:
		// 456 is DeepL's "quota exceeded".
		return mt.Result{}, fmt.Errorf("deepl: status %d: %w", resp.StatusCode, mt.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return mt.Result{}, fmt.Errorf("deepl: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var tr translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return mt.Result{}, fmt.Errorf("deepl: decode response: %w", err)
	}
	if len(tr.Translations) == 0 {
		return mt.Result{}, errors.New("deepl: empty translations in response")
	}
	return mt.Result{
		Text:               tr.Translations[0].Text,
		DetectedSourceLang: tr.Translations[0].DetectedSourceLanguage,
	}, nil
}

func buildRequest(req mt.Request, defaultFormality mt.Formality) translateRequest {
	formality := req.Formality
	if formality == "" {
		formality = defaultFormality
	}
	return translateRequest{
		Text:               []string{req.Text},
		SourceLang:         sourceCode(req.SourceLang),
		TargetLang:         targetCode(req.TargetLang),
		Context:            req.Context,
		SplitSentences:     "nonewlines",
		PreserveFormatting: true,
		Formality:          string(formality),
	}
}

// sourceCode maps a BCP-47 tag to a DeepL source language. DeepL source
// languages carry no region.
func sourceCode(tag string) string {
	if tag == "" {
		return ""
	}
	base, _, _ := strings.Cut(tag, "-")
	return strings.ToUpper(base)
}

// targetCode maps a BCP-47 tag to a DeepL target language. English and
// Portuguese require a regional variant; a bare tag picks the common one.
func targetCode(tag string) string {
	up := strings.ToUpper(tag)
	switch up {
	case "EN":
		return "EN-US"
	case "PT":
		return "PT-BR"
	case "ZH-CN", "ZH-SG":
		return "ZH-HANS"
	case "ZH-TW", "ZH-HK":
		return "ZH-HANT"
	}
	base, region, ok := strings.Cut(up, "-")
	if ok && (base == "EN" || base == "PT" || base == "ZH") {
		return base + "-" + region
	}
	return base
}

var _ mt.Provider = (*Provider)(nil)
