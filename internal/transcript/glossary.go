// Package transcript corrects speech-to-text output for deployment-specific
// vocabulary before it is translated.
//
// Recognizers routinely mishear product names, company names and jargon
// ("zen tricks" for "Zentrix"), and a misheard name is then translated as if
// it were ordinary words. A [Glossary] scans each transcript for word windows
// that sound like a configured term and substitutes the term. Matching runs
// in-process and is applied to interim transcripts too.
package transcript

import (
	"strings"
	"unicode"

	"github.com/MrWong99/babelcall/internal/transcript/phonetic"
	"github.com/MrWong99/babelcall/pkg/provider/stt"
)

// Correction captures one substitution made by a [Glossary].
type Correction struct {
	// Original is the span as recognized, without surrounding punctuation.
	Original string

	// Corrected is the glossary term that replaced it.
	Corrected string

	// Score is the similarity of Original to Corrected in [0, 1].
	Score float64
}

// Matcher finds the glossary term most similar to a phrase.
//
// Implementations must be safe for concurrent use.
type Matcher interface {
	// Match returns the best term for phrase. ok is false when no term is
	// similar enough.
	Match(phrase string) (term string, score float64, ok bool)

	// MaxWords returns the word count of the longest term.
	MaxWords() int

	// Terms returns every term the matcher knows.
	Terms() []string
}

var _ Matcher = (*phonetic.Matcher)(nil)

// Glossary applies a [Matcher] to whole transcripts. It is safe for
// concurrent use.
type Glossary struct {
	m Matcher
}

// New returns a Glossary backed by a phonetic matcher over terms. It returns
// nil when terms holds no usable entry, so callers can skip correction.
func New(terms []string, opts ...phonetic.Option) *Glossary {
	m := phonetic.New(terms, opts...)
	if m.Len() == 0 {
		return nil
	}
	return NewWithMatcher(m)
}

// NewWithMatcher returns a Glossary backed by m.
func NewWithMatcher(m Matcher) *Glossary {
	return &Glossary{m: m}
}

// Terms returns the glossary terms.
func (g *Glossary) Terms() []string { return g.m.Terms() }

// Keywords returns the terms as recognition hints with the given boost, for
// providers that bias their language model toward known vocabulary.
func (g *Glossary) Keywords(boost float64) []stt.KeywordBoost {
	terms := g.m.Terms()
	out := make([]stt.KeywordBoost, len(terms))
	for i, t := range terms {
		out[i] = stt.KeywordBoost{Keyword: t, Boost: boost}
	}
	return out
}

// Correct returns text with every span that sounds like a glossary term
// replaced by the term, and the substitutions made.
//
// At each word the windows of one up to MaxWords+1 words are scored and the
// best match wins; the extra word lets a term split by the recognizer
// ("zen tricks") be joined again. Windows never cross punctuation between
// words, and punctuation around a replaced span is kept.
func (g *Glossary) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}
	maxWindow := g.m.MaxWords() + 1

	var (
		out         = make([]string, 0, len(tokens))
		corrections []Correction
		changed     bool
	)
	for i := 0; i < len(tokens); {
		var (
			best      string
			bestScore float64
			bestN     int
		)
		for n := 1; n <= maxWindow && i+n <= len(tokens); n++ {
			if n > 1 && (hasTrailingPunct(tokens[i+n-2]) || hasLeadingPunct(tokens[i+n-1])) {
				break
			}
			term, score, ok := g.m.Match(core(tokens[i : i+n]))
			if ok && score > bestScore {
				best, bestScore, bestN = term, score, n
			}
		}
		if bestN == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}

		window := tokens[i : i+bestN]
		original := core(window)
		i += bestN
		if original == best {
			out = append(out, window...)
			continue
		}
		first, last := window[0], window[len(window)-1]
		out = append(out, leadingPunct(first)+best+trailingPunct(last))
		corrections = append(corrections, Correction{Original: original, Corrected: best, Score: bestScore})
		changed = true
	}
	if !changed {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// core joins tokens with their outer punctuation removed.
func core(tokens []string) string {
	words := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if w := strings.TrimFunc(t, unicode.IsPunct); w != "" {
			words = append(words, w)
		}
	}
	return strings.Join(words, " ")
}

func leadingPunct(t string) string {
	return t[:len(t)-len(strings.TrimLeftFunc(t, unicode.IsPunct))]
}

func trailingPunct(t string) string {
	return t[len(strings.TrimRightFunc(t, unicode.IsPunct)):]
}

func hasLeadingPunct(t string) bool  { return leadingPunct(t) != "" }
func hasTrailingPunct(t string) bool { return trailingPunct(t) != "" }
