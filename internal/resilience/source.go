package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxintent/internal/tables"
)

// ErrStale is wrapped by [FallbackSource.Load] when it returns the last good
// snapshot instead of fresh tables.
var ErrStale = errors.New("resilience: serving last good tables")

// Source is a loadable table backend such as the PostgreSQL source.
type Source interface {
	Load(ctx context.Context) (*tables.File, error)
	Ping(ctx context.Context) error
}

// FallbackSource guards a [Source] with a [Breaker] and remembers the last
// tables it loaded successfully.
type FallbackSource struct {
	src     Source
	breaker *Breaker

	mu       sync.Mutex
	last     *tables.File
	loadedAt time.Time
}

// NewFallbackSource wraps src.
func NewFallbackSource(src Source, cfg BreakerConfig) *FallbackSource {
	return &FallbackSource{src: src, breaker: NewBreaker(cfg)}
}

// Load loads fresh tables from the wrapped source. When that fails, or the
// breaker is open, and an earlier load succeeded, Load returns the earlier
// tables together with an error wrapping both [ErrStale] and the cause.
// Without a snapshot only the cause is returned.
func (s *FallbackSource) Load(ctx context.Context) (*tables.File, error) {
	var f *tables.File
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.src.Load(ctx)
		return err
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.last, s.loadedAt = f, time.Now()
		return f, nil
	}
	if s.last == nil || ctx.Err() != nil {
		return nil, err
	}
	slog.Warn("resilience: table source failed, using last good tables",
		"err", err,
		"loaded_at", s.loadedAt,
		"breaker", s.breaker.State(),
	)
	return s.last, fmt.Errorf("%w: %w", ErrStale, err)
}

// Ping checks the wrapped source directly, bypassing the breaker.
func (s *FallbackSource) Ping(ctx context.Context) error {
	return s.src.Ping(ctx)
}

// State returns the breaker state.
func (s *FallbackSource) State() State {
	return s.breaker.State()
}
