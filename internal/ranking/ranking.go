// Package ranking picks the best phrase entry for a normalised utterance.
//
// Every entry of the corpus is scored (a full scan), the lowest score wins and
// exact ties go to the entry that comes first in corpus order. The winner is
// accepted only when its score is at or below the threshold; the threshold is
// inclusive. Selection has no side effects, so identical inputs always give
// identical results.
package ranking

import (
	"cmp"
	"context"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxintent/internal/corpus"
)

// DefaultThreshold is the highest accepted score when none is configured.
const DefaultThreshold = 0.4

// parallelCutover is the corpus size from which [SelectContext] and
// [BestContext] score chunks of the corpus concurrently.
const parallelCutover = 512

// Scorer rates how well a normalised utterance matches an entry. Scores are in
// [0, 1] with 0 a perfect match. Implementations must be safe for concurrent
// use.
type Scorer interface {
	Score(normalized string, e *corpus.Entry) float64
}

// Binder is implemented by scorers that can pre-process the utterance once
// before a scan. fuzzy.Matcher implements it.
type Binder interface {
	Bind(normalized string) func(e *corpus.Entry) float64
}

// ScorerFunc adapts a plain function to [Scorer].
type ScorerFunc func(normalized string, e *corpus.Entry) float64

// Score implements [Scorer].
func (f ScorerFunc) Score(normalized string, e *corpus.Entry) float64 {
	return f(normalized, e)
}

// Candidate is an entry paired with its score for one utterance.
type Candidate struct {
	Entry *corpus.Entry
	Score float64
}

// Intent converts the candidate into a [ResolvedIntent].
func (c Candidate) Intent() ResolvedIntent {
	return ResolvedIntent{
		Key:        c.Entry.Key,
		IntentType: c.Entry.IntentType,
		Item:       c.Entry.Item,
		Confidence: Confidence(c.Score),
	}
}

// ResolvedIntent is the machine-actionable result of a successful match.
type ResolvedIntent struct {
	Key        string `json:"payload"`
	IntentType string `json:"subject"`
	Item       string `json:"item"`
	Confidence int    `json:"confidence"`
}

// Confidence maps a score in [0, 1] to an integer percentage, rounding half
// away from zero and clamping to [0, 100]. NaN maps to 0.
func Confidence(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	c := math.Round((1 - score) * 100)
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return int(c)
}

// Select scores every entry of c and returns the resolved intent of the best
// one, or false when c is empty or the best score exceeds threshold.
func Select(normalized string, c *corpus.Corpus, s Scorer, threshold float64) (ResolvedIntent, bool) {
	best, ok := Best(normalized, c, s)
	if !ok || best.Score > threshold {
		return ResolvedIntent{}, false
	}
	return best.Intent(), true
}

// Best returns the lowest-scoring entry of c regardless of any threshold. The
// earliest entry wins exact ties. It returns false only for an empty corpus.
func Best(normalized string, c *corpus.Corpus, s Scorer) (Candidate, bool) {
	score := bind(normalized, s)
	best := Candidate{Score: math.Inf(1)}
	for i := range c.Len() {
		e := c.At(i)
		if v := score(e); v < best.Score {
			best = Candidate{Entry: e, Score: v}
		}
	}
	return best, best.Entry != nil
}

// SelectContext is [Select] with cancellation. See [BestContext].
func SelectContext(ctx context.Context, normalized string, c *corpus.Corpus, s Scorer, threshold float64) (ResolvedIntent, bool, error) {
	best, ok, err := BestContext(ctx, normalized, c, s)
	if err != nil || !ok || best.Score > threshold {
		return ResolvedIntent{}, false, err
	}
	return best.Intent(), true, nil
}

// BestContext is [Best] with cancellation checked between entries. Large
// corpora are split into chunks scored concurrently; the tie-break is the
// same as Best. It returns ctx.Err() when ctx is done before the scan
// completes.
func BestContext(ctx context.Context, normalized string, c *corpus.Corpus, s Scorer) (Candidate, bool, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, false, err
	}
	score := bind(normalized, s)
	n := c.Len()

	workers := min(runtime.GOMAXPROCS(0), n/(parallelCutover/2))
	if n < parallelCutover || workers < 2 {
		best, err := scan(ctx, c, score, 0, n)
		return best, best.Entry != nil, err
	}

	size := (n + workers - 1) / workers
	chunks := make([]Candidate, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		lo, hi := w*size, min((w+1)*size, n)
		g.Go(func() error {
			best, err := scan(gctx, c, score, lo, hi)
			chunks[w] = best
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Candidate{}, false, err
	}

	// Chunks are in corpus order, so a strict comparison keeps the earliest
	// of tied chunk winners.
	best := Candidate{Score: math.Inf(1)}
	for _, cand := range chunks {
		if cand.Entry != nil && cand.Score < best.Score {
			best = cand
		}
	}
	return best, best.Entry != nil, nil
}

func scan(ctx context.Context, c *corpus.Corpus, score func(*corpus.Entry) float64, lo, hi int) (Candidate, error) {
	best := Candidate{Score: math.Inf(1)}
	for i := lo; i < hi; i++ {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}
		e := c.At(i)
		if v := score(e); v < best.Score {
			best = Candidate{Entry: e, Score: v}
		}
	}
	return best, nil
}

// Rank returns the n best candidates for normalized, best first. Ties keep
// corpus order. n <= 0 returns every entry.
func Rank(normalized string, c *corpus.Corpus, s Scorer, n int) []Candidate {
	score := bind(normalized, s)
	out := make([]Candidate, c.Len())
	for i := range out {
		e := c.At(i)
		out[i] = Candidate{Entry: e, Score: score(e)}
	}
	slices.SortStableFunc(out, func(a, b Candidate) int {
		return cmp.Compare(a.Score, b.Score)
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// bind returns the per-entry scoring function for normalized. Scores outside
// [0, 1] are clamped and NaN counts as the worst score.
func bind(normalized string, s Scorer) func(*corpus.Entry) float64 {
	var f func(*corpus.Entry) float64
	if b, ok := s.(Binder); ok {
		f = b.Bind(normalized)
	} else {
		f = func(e *corpus.Entry) float64 { return s.Score(normalized, e) }
	}
	return func(e *corpus.Entry) float64 {
		v := f(e)
		switch {
		case math.IsNaN(v), v > 1:
			return 1
		case v < 0:
			return 0
		}
		return v
	}
}
