package imapsource

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAwaitDeadlineTearsDownStalledCall(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	aborted := make(chan struct{})

	start := time.Now()
	err := await(context.Background(), 25*time.Millisecond, func() { close(aborted) }, func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("await() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("await() blocked %v past its deadline", elapsed)
	}
	select {
	case <-aborted:
	default:
		t.Error("stalled call left the connection up")
	}
}

func TestAwaitHonorsCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// No per-call timeout configured; the caller's context still applies.
	err := await(ctx, 0, func() {}, func() error {
		<-release
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("await() error = %v, want canceled", err)
	}
}

func TestAwaitPassesThroughCompletedCall(t *testing.T) {
	wantErr := errors.New("no such mailbox")
	err := await(context.Background(), time.Second, func() { t.Error("abort called on clean completion") }, func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("await() error = %v, want %v", err, wantErr)
	}

	if err := await(context.Background(), time.Second, func() { t.Error("abort called on clean completion") }, func() error {
		return nil
	}); err != nil {
		t.Errorf("await() error = %v on success", err)
	}
}
