package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntilReturnsOnFirstSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Until(context.Background(), time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("Until returned error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 probe, got %d", calls)
	}
}

func TestUntilRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Until(context.Background(), time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("Until returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 probes, got %d", calls)
	}
}

func TestUntilExpiredDeadlineProbesNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Until(ctx, time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected 0 probes on expired context, got %d", calls)
	}
}

func TestUntilDeadlineDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Until(ctx, time.Hour, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestUntilProbeErrorAborts(t *testing.T) {
	t.Parallel()

	probeErr := errors.New("probe exploded")
	calls := 0
	err := Until(context.Background(), time.Millisecond, func(ctx context.Context) (bool, error) {
		calls++
		return false, probeErr
	})
	if !errors.Is(err, probeErr) {
		t.Fatalf("expected probe error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 probe, got %d", calls)
	}
}
