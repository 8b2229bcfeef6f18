// Package fuzzy scores how closely a normalised utterance matches a phrase
// entry, tolerating the insertions, deletions, substitutions and adjacent
// transpositions typical of speech-to-text output.
//
// A score is a float in [0, 1]: 0 means the folded strings are identical and
// values approaching 1 mean no meaningful similarity. Strings whose folded
// forms differ never score below 0.01, so an exact phrase always outranks a
// near one. The score is the better (lower) of two views of the same pair of
// strings:
//
//  1. String score: the Damerau–Levenshtein distance divided by the longer
//     string's length, plus a small penalty (at most 0.1) for mismatched
//     lengths, minus a small bonus (at most 0.05) for a shared prefix so that
//     coherent matches anchored at the start beat scattered ones. The bonus
//     never removes more than half of the edit cost.
//
//  2. Token score: both strings are split into words and stop words are
//     dropped. Every reference word is paired with its closest utterance word
//     (normalised per-word edit distance); the length-weighted mean of those
//     costs is the recall cost. The same from the utterance side is the
//     precision cost. The token score weights recall at 0.9 and precision at
//     0.1, so extra filler in the utterance costs little while a reference
//     word with no counterpart costs a lot.
//
// Both inputs are passed through [Fold] first, which makes the comparison
// case and accent insensitive and collapses whitespace.
//
// A [Matcher] is read-only after [New] and safe for concurrent use.
package fuzzy

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxintent/internal/corpus"
)

const (
	// maxLengthPenalty is added in full when one string is empty and
	// proportionally to the relative length difference otherwise.
	maxLengthPenalty = 0.1

	// prefixBonusPerRune is subtracted per shared leading rune, up to
	// maxPrefixRunes runes (0.05 in total).
	prefixBonusPerRune = 0.0125
	maxPrefixRunes     = 4

	// recallWeight is the share of the token score taken by reference-side
	// coverage; the remainder goes to utterance-side coverage.
	recallWeight = 0.9

	// phoneticCap is the highest per-word cost for two words whose Double
	// Metaphone codes overlap, when phonetic matching is enabled.
	phoneticCap = 0.2

	// minDistinctScore is the lowest score for two strings whose folded
	// forms differ.
	minDistinctScore = 0.01
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithStopWords replaces [DefaultStopWords]. The words are folded with [Fold]
// before use. Passing no words disables stop-word removal.
func WithStopWords(words ...string) Option {
	return func(m *Matcher) {
		m.stopWords = make(map[string]struct{}, len(words))
		for _, w := range words {
			if f := Fold(w); f != "" {
				m.stopWords[f] = struct{}{}
			}
		}
	}
}

// WithPhonetic enables phonetic tolerance in the token score: two words whose
// Double Metaphone encodings share a code ("nite" and "night") cost at most
// 0.2 regardless of their spelling distance. Default: disabled.
func WithPhonetic(enabled bool) Option {
	return func(m *Matcher) {
		m.phonetic = enabled
	}
}

// Matcher computes approximate-match scores between an utterance and phrase
// entries.
type Matcher struct {
	stopWords map[string]struct{}
	phonetic  bool
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{}
	WithStopWords(DefaultStopWords...)(m)
	for _, o := range opts {
		o(m)
	}
	return m
}

// Score returns the match score of normalized against e.Text in [0, 1]. It is
// 0 only when both fold to the same string.
func (m *Matcher) Score(normalized string, e *corpus.Entry) float64 {
	return m.Bind(normalized)(e)
}

// Bind folds normalized once and returns a scoring function for it. Use it
// when one utterance is scored against many entries. The returned function
// is safe for concurrent use.
func (m *Matcher) Bind(normalized string) func(e *corpus.Entry) float64 {
	q := m.prepare(normalized)
	return func(e *corpus.Entry) float64 {
		return m.score(q, m.prepare(e.Text))
	}
}

// prepared is a folded string split into the forms used by the two scores.
type prepared struct {
	folded  string
	runes   []rune
	content []string
}

func (m *Matcher) prepare(s string) prepared {
	folded := Fold(s)
	return prepared{
		folded:  folded,
		runes:   []rune(folded),
		content: m.contentWords(strings.Fields(folded)),
	}
}

func (m *Matcher) score(q, ref prepared) float64 {
	if q.folded == ref.folded {
		return 0
	}
	if q.folded == "" || ref.folded == "" {
		return 1
	}
	s := min(stringScore(q.runes, ref.runes), m.tokenScore(q.content, ref.content))
	return max(s, minDistinctScore)
}

// stringScore is the whole-string view. a and b are both non-empty.
func stringScore(a, b []rune) float64 {
	longest := float64(max(len(a), len(b)))

	d := float64(distance(a, b)) / longest
	penalty := maxLengthPenalty * float64(abs(len(a)-len(b))) / longest
	bonus := prefixBonusPerRune * float64(min(commonPrefix(a, b), maxPrefixRunes))

	raw := d + penalty
	return clamp01(raw - min(bonus, raw/2))
}

// tokenScore is the word-alignment view over content words.
func (m *Matcher) tokenScore(query, ref []string) float64 {
	recall := m.coverage(ref, query)
	precision := m.coverage(query, ref)
	return clamp01(recallWeight*recall + (1-recallWeight)*precision)
}

// coverage returns the rune-length-weighted mean cost of pairing every word
// in src with its cheapest counterpart in dst.
func (m *Matcher) coverage(src, dst []string) float64 {
	var total, cost float64
	for _, s := range src {
		best := 1.0
		for _, d := range dst {
			if c := m.wordCost(s, d); c < best {
				best = c
				if best == 0 {
					break
				}
			}
		}
		w := float64(utf8.RuneCountInString(s))
		total += w
		cost += w * best
	}
	if total == 0 {
		return 1
	}
	return cost / total
}

// wordCost is the edit distance between two words normalised by the longer
// word, optionally capped for words that sound alike.
func (m *Matcher) wordCost(a, b string) float64 {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	c := float64(distance(ra, rb)) / float64(max(len(ra), len(rb)))
	if m.phonetic && c > phoneticCap && soundsAlike(a, b) {
		c = phoneticCap
	}
	return c
}

// contentWords drops stop words. When every word is a stop word the input is
// returned unchanged so that phrases like "what is it" still compare.
func (m *Matcher) contentWords(words []string) []string {
	if len(m.stopWords) == 0 {
		return words
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := m.stopWords[w]; !stop {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return words
	}
	return out
}

// soundsAlike reports whether a and b share a non-empty Double Metaphone code.
func soundsAlike(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
