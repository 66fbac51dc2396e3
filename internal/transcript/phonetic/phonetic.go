// Package phonetic matches spoken phrases against a fixed list of glossary
// terms using Double Metaphone codes and Jaro-Winkler similarity.
//
// A phrase is compared to each term twice: as written and with the spaces
// removed, so "zen tricks" can match "Zentrix". A term that sounds like the
// phrase (same Double Metaphone code) is accepted at the phonetic threshold;
// any other term needs the higher fuzzy threshold. Terms whose length
// differs too much from the phrase are never considered.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minRunes is the shortest phrase, spaces removed, that is matched.
	minRunes = 3

	// minLengthRatio is the smallest accepted ratio between the shorter and
	// the longer of phrase and term, spaces removed.
	minLengthRatio = 0.6
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term whose
// phonetic codes overlap with the phrase. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.phoneticThreshold = threshold
		}
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.fuzzyThreshold = threshold
		}
	}
}

type term struct {
	text   string // as configured
	lower  string
	concat string
	runes  int
	codes  map[string]struct{}
}

// Matcher holds a precomputed term list. It is read-only after [New] and
// safe for concurrent use.
type Matcher struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher for terms. Blank and duplicate terms are skipped.
func New(terms []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}

	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		lower := strings.ToLower(t)
		if lower == "" {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		words := strings.Fields(lower)
		concat := strings.Join(words, "")
		m.terms = append(m.terms, term{
			text:   t,
			lower:  strings.Join(words, " "),
			concat: concat,
			runes:  utf8.RuneCountInString(concat),
			codes:  codes(concat),
		})
		m.maxWords = max(m.maxWords, len(words))
	}
	return m
}

// Len returns the number of distinct terms.
func (m *Matcher) Len() int { return len(m.terms) }

// MaxWords returns the word count of the longest term.
func (m *Matcher) MaxWords() int { return m.maxWords }

// Terms returns the distinct terms as configured.
func (m *Matcher) Terms() []string {
	out := make([]string, len(m.terms))
	for i, t := range m.terms {
		out[i] = t.text
	}
	return out
}

// Match returns the term most similar to phrase and its score in [0, 1].
// When no term is similar enough, ok is false and match is empty.
func (m *Matcher) Match(phrase string) (match string, score float64, ok bool) {
	words := strings.Fields(strings.ToLower(phrase))
	if len(words) == 0 || len(m.terms) == 0 {
		return "", 0, false
	}
	lower := strings.Join(words, " ")
	concat := strings.Join(words, "")
	n := utf8.RuneCountInString(concat)
	if n < minRunes {
		return "", 0, false
	}
	inputCodes := codes(concat)

	var (
		best         *term
		bestScore    float64
		bestPhonetic bool
	)
	for i := range m.terms {
		t := &m.terms[i]
		if float64(min(n, t.runes))/float64(max(n, t.runes)) < minLengthRatio {
			continue
		}
		s := matchr.JaroWinkler(lower, t.lower, false)
		if concat != lower || t.concat != t.lower {
			s = max(s, matchr.JaroWinkler(concat, t.concat, false))
		}

		if overlap(inputCodes, t.codes) {
			if s < m.phoneticThreshold {
				continue
			}
			if !bestPhonetic || s > bestScore {
				best, bestScore, bestPhonetic = t, s, true
			}
		} else if !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore {
			best, bestScore = t, s
		}
	}
	if best == nil {
		return "", 0, false
	}
	return best.text, bestScore, true
}

// codes returns the Double Metaphone codes of a phrase with its spaces
// removed. Only the whole phrase is encoded, never its words one by one.
func codes(concat string) map[string]struct{} {
	p, alt := matchr.DoubleMetaphone(concat)
	out := make(map[string]struct{}, 2)
	if p != "" {
		out[p] = struct{}{}
	}
	if alt != "" {
		out[alt] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
