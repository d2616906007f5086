package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsAfterSuccess(t *testing.T) {
	p := Policy{Attempts: 3, Backoff: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), nil, func() error {
		calls++
		if calls < 2 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{Attempts: 3, Backoff: time.Millisecond}
	boom := errors.New("boom")
	calls := 0
	err := p.Do(context.Background(), nil, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoRespectsClassifier(t *testing.T) {
	p := Policy{Attempts: 5, Backoff: time.Millisecond}
	fatal := errors.New("fatal")
	calls := 0
	err := p.Do(context.Background(), func(err error) bool { return !errors.Is(err, fatal) }, func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d calls", calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	p := Policy{Attempts: 10, Backoff: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, nil, func() error {
		calls++
		return errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls == 0 {
		t.Fatalf("expected at least one call")
	}
}
