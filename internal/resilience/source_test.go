package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxintent/internal/tables"
)

type stubSource struct {
	file    *tables.File
	err     error
	calls   int
	pingErr error
}

func (s *stubSource) Load(context.Context) (*tables.File, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.file, nil
}

func (s *stubSource) Ping(context.Context) error { return s.pingErr }

func TestFallbackSource_NoSnapshotReturnsCause(t *testing.T) {
	src := &stubSource{err: errTest}
	fs := NewFallbackSource(src, BreakerConfig{Name: "test"})

	f, err := fs.Load(context.Background())
	if f != nil {
		t.Errorf("file = %+v, want nil", f)
	}
	if !errors.Is(err, errTest) || errors.Is(err, ErrStale) {
		t.Errorf("err = %v, want the cause only", err)
	}
}

func TestFallbackSource_ServesLastGood(t *testing.T) {
	good := &tables.File{Phrases: []tables.Phrase{{Key: "NOW", Text: "what time is it", Subject: "TIME", Item: "NOW"}}}
	src := &stubSource{file: good}
	fs := NewFallbackSource(src, BreakerConfig{Name: "test", MaxFailures: 2})
	ctx := context.Background()

	if f, err := fs.Load(ctx); err != nil || f != good {
		t.Fatalf("first Load = %v, %v", f, err)
	}

	src.err = errTest
	for i := range 3 {
		f, err := fs.Load(ctx)
		if f != good {
			t.Errorf("load %d: file = %+v, want last good", i, f)
		}
		if !errors.Is(err, ErrStale) {
			t.Errorf("load %d: err = %v, want ErrStale", i, err)
		}
	}

	// Two failures opened the breaker; the third load never reached src.
	if src.calls != 3 {
		t.Errorf("source calls = %d, want 3", src.calls)
	}
	if fs.State() != StateOpen {
		t.Errorf("state = %v, want open", fs.State())
	}
	_, err := fs.Load(ctx)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen while open", err)
	}
}

func TestFallbackSource_PingBypassesBreaker(t *testing.T) {
	src := &stubSource{err: errTest, pingErr: errors.New("down")}
	fs := NewFallbackSource(src, BreakerConfig{Name: "test", MaxFailures: 1})
	_, _ = fs.Load(context.Background())

	if err := fs.Ping(context.Background()); err == nil || err.Error() != "down" {
		t.Errorf("Ping = %v, want the source's error", err)
	}
	src.pingErr = nil
	if err := fs.Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v, want nil", err)
	}
}
