// Package resolver runs the full text-resolution pipeline: correction, fuzzy
// scoring over the phrase corpus, and selection of the best intent.
//
// A [Pipeline] is built once from an immutable correction table and phrase
// corpus and is safe for concurrent use. [Pipeline.Resolve] never fails for
// well-formed input: "nothing matched" and "nothing to match" are reported as
// outcomes of the returned [Result], and the only error is cancellation of
// the context.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxintent/internal/corpus"
	"github.com/MrWong99/voxintent/internal/correction"
	"github.com/MrWong99/voxintent/internal/fuzzy"
	"github.com/MrWong99/voxintent/internal/observe"
	"github.com/MrWong99/voxintent/internal/ranking"
)

// ErrNoCorpus is returned by [New] when no phrase corpus is supplied.
var ErrNoCorpus = errors.New("resolver: phrase corpus is required")

// Outcome classifies a resolution.
type Outcome string

const (
	// OutcomeMatched means an entry scored at or below the threshold.
	OutcomeMatched Outcome = "matched"

	// OutcomeNoMatch means the best entry scored above the threshold, or the
	// corpus is empty.
	OutcomeNoMatch Outcome = "no_match"

	// OutcomeEmptyInput means the input was empty or held nothing to match
	// after correction.
	OutcomeEmptyInput Outcome = "empty_input"
)

// Result is the outcome of resolving one utterance.
type Result struct {
	Outcome Outcome

	// Intent is set only when Outcome is OutcomeMatched.
	Intent ranking.ResolvedIntent

	// Input is the raw utterance as given to Resolve.
	Input string

	// Normalized is Input after the correction table was applied.
	Normalized string

	// Best is the lowest-scoring candidate, even when it was rejected by the
	// threshold. Nil for OutcomeEmptyInput and for an empty corpus.
	Best *ranking.Candidate
}

// Matched reports whether r resolved to an intent.
func (r Result) Matched() bool {
	return r.Outcome == OutcomeMatched
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithThreshold sets the highest accepted score. Default:
// [ranking.DefaultThreshold].
func WithThreshold(threshold float64) Option {
	return func(p *Pipeline) {
		p.threshold = threshold
	}
}

// WithMatcher replaces the default [fuzzy.Matcher].
func WithMatcher(s ranking.Scorer) Option {
	return func(p *Pipeline) {
		p.scorer = s
	}
}

// WithCache enables an LRU cache of up to size results keyed by the
// corrected text. size <= 0 disables caching.
func WithCache(size int) Option {
	return func(p *Pipeline) {
		p.cacheSize = size
	}
}

// WithMetrics records resolution metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline resolves raw utterances to intents.
type Pipeline struct {
	table     *correction.Table
	corpus    *corpus.Corpus
	scorer    ranking.Scorer
	threshold float64
	cacheSize int
	cache     *lru.Cache[string, Result]
	metrics   *observe.Metrics
}

// New builds a [Pipeline]. c is required; table may be nil for a pipeline
// without corrections.
func New(table *correction.Table, c *corpus.Corpus, opts ...Option) (*Pipeline, error) {
	if c == nil {
		return nil, ErrNoCorpus
	}
	p := &Pipeline{
		table:     table,
		corpus:    c,
		threshold: ranking.DefaultThreshold,
	}
	for _, o := range opts {
		o(p)
	}

	if p.threshold < 0 || p.threshold > 1 {
		return nil, fmt.Errorf("resolver: threshold %v is outside [0, 1]", p.threshold)
	}
	if p.scorer == nil {
		p.scorer = fuzzy.New()
	}
	if p.cacheSize > 0 {
		cache, err := lru.New[string, Result](p.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("resolver: create cache: %w", err)
		}
		p.cache = cache
	}
	return p, nil
}

// Table returns the correction table. It may be nil.
func (p *Pipeline) Table() *correction.Table { return p.table }

// Corpus returns the phrase corpus.
func (p *Pipeline) Corpus() *corpus.Corpus { return p.corpus }

// Threshold returns the highest accepted score.
func (p *Pipeline) Threshold() float64 { return p.threshold }

// Resolve corrects text, scores it against every corpus entry and selects the
// best intent. The returned error is non-nil only when ctx is done before the
// scan completes.
func (p *Pipeline) Resolve(ctx context.Context, text string) (Result, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "resolver.Resolve")
	defer span.End()

	normalized := p.table.Apply(text)
	res := Result{Input: text, Normalized: normalized}

	if fuzzy.Fold(normalized) == "" {
		res.Outcome = OutcomeEmptyInput
		p.finish(ctx, span, res, start)
		return res, nil
	}

	if p.cache != nil {
		cached, hit := p.cache.Get(normalized)
		if p.metrics != nil {
			p.metrics.RecordCacheLookup(ctx, hit)
		}
		if hit {
			cached.Input = text
			span.SetAttributes(attribute.Bool("voxintent.cache_hit", true))
			p.finish(ctx, span, cached, start)
			return cached, nil
		}
	}

	best, ok, err := ranking.BestContext(ctx, normalized, p.corpus, p.scorer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("resolver: resolve %q: %w", text, err)
	}

	res.Outcome = OutcomeNoMatch
	if ok {
		res.Best = &best
		if best.Score <= p.threshold {
			res.Outcome = OutcomeMatched
			res.Intent = best.Intent()
		}
	}

	if p.cache != nil {
		p.cache.Add(normalized, res)
	}
	p.finish(ctx, span, res, start)
	return res, nil
}

// Explain returns the corrected form of text and its n best candidates,
// best first, regardless of the threshold.
func (p *Pipeline) Explain(text string, n int) (string, []ranking.Candidate) {
	normalized := p.table.Apply(text)
	if fuzzy.Fold(normalized) == "" {
		return normalized, nil
	}
	return normalized, ranking.Rank(normalized, p.corpus, p.scorer, n)
}

// finish records the span attributes, debug log line and metrics for res.
func (p *Pipeline) finish(ctx context.Context, span trace.Span, res Result, start time.Time) {
	confidence := -1
	attrs := []attribute.KeyValue{attribute.String("voxintent.outcome", string(res.Outcome))}
	if res.Best != nil {
		confidence = ranking.Confidence(res.Best.Score)
		attrs = append(attrs,
			attribute.String("voxintent.best_key", res.Best.Entry.Key),
			attribute.Int("voxintent.confidence", confidence),
		)
	}
	span.SetAttributes(attrs...)

	observe.Logger(ctx).Debug("resolver: resolved",
		"input", res.Input,
		"normalized", res.Normalized,
		"outcome", res.Outcome,
		"key", res.Intent.Key,
		"confidence", confidence,
	)

	if p.metrics != nil {
		p.metrics.RecordResolve(ctx, string(res.Outcome), confidence, time.Since(start))
	}
}
