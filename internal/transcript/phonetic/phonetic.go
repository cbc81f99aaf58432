// Package phonetic spots trigger phrases in speech-to-text output. Speech
// recognisers misspell words in predictable ways ("chek" for "check",
// "appointmint" for "appointment"), so exact substring search misses them.
//
// Each phrase is compared against every window of the same number of words
// in the utterance:
//
//  1. Windows whose words share a Double Metaphone code with the phrase are
//     phonetic candidates and are accepted above the phonetic threshold.
//  2. Other windows are accepted only above the stricter fuzzy threshold.
//
// Both thresholds apply to the Jaro-Winkler similarity of the whole window
// against the whole phrase.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.93
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for a phonetic
// candidate. Default: 0.85.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum similarity for a window with no
// phonetic overlap. Default: 0.93.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher finds trigger phrases in utterances. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Find returns the best-matching phrase found in utterance. An exact match
// scores 1. When nothing matches, ok is false.
func (m *Matcher) Find(utterance string, phrases []string) (phrase string, score float64, ok bool) {
	words := normalize(utterance)
	if len(words) == 0 {
		return "", 0, false
	}
	joined := " " + strings.Join(words, " ") + " "

	for _, p := range phrases {
		target := normalize(p)
		if len(target) == 0 {
			continue
		}
		full := strings.Join(target, " ")
		if strings.Contains(joined, " "+full+" ") {
			return p, 1, true
		}
		if len(target) > len(words) {
			continue
		}
		targetCodes := codesForTokens(target)
		for i := 0; i+len(target) <= len(words); i++ {
			window := words[i : i+len(target)]
			s := matchr.JaroWinkler(strings.Join(window, " "), full, false)
			threshold := m.fuzzyThreshold
			if codesOverlap(codesForTokens(window), targetCodes) {
				threshold = m.phoneticThreshold
			}
			if s >= threshold && s > score {
				phrase, score, ok = p, s, true
			}
		}
	}
	return phrase, score, ok
}

// normalize lowercases s and splits it into words, dropping punctuation
// other than apostrophes.
func normalize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
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
