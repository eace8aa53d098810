package race

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func sleepAndReturn(d time.Duration, v int, err error) Op[int] {
	return func(ctx context.Context) (int, error) {
		select {
		case <-time.After(d):
			return v, err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func TestFirstOK_OrderedWinner(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	start := time.Now()
	got, err := FirstOK(context.Background(),
		sleepAndReturn(300*time.Millisecond, 1, errors.New("failed")),
		sleepAndReturn(400*time.Millisecond, 2, nil),
		sleepAndReturn(100*time.Millisecond, 3, nil),
	)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("FirstOK() error = %v", err)
	}
	if got != 2 {
		t.Errorf("FirstOK() = %d, want 2", got)
	}
	if elapsed < 400*time.Millisecond {
		t.Errorf("FirstOK() took %v, want >= 400ms", elapsed)
	}
	if elapsed >= 500*time.Millisecond {
		t.Errorf("FirstOK() took %v, want < 500ms (operations must run concurrently)", elapsed)
	}
}

func TestFirstOK_AllFailReturnsLastError(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	last := errors.New("last")

	_, err := FirstOK(context.Background(),
		sleepAndReturn(30*time.Millisecond, 0, first),
		sleepAndReturn(0, 0, second),
		sleepAndReturn(10*time.Millisecond, 0, last),
	)
	if !errors.Is(err, last) {
		t.Errorf("FirstOK() error = %v, want %v", err, last)
	}
}

func TestFirstOK_Empty(t *testing.T) {
	_, err := FirstOK[int](context.Background())
	if !errors.Is(err, ErrNoOperations) {
		t.Errorf("FirstOK() error = %v, want %v", err, ErrNoOperations)
	}
}

func TestRacer_LimitBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	op := func(ctx context.Context) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return 0, errors.New("nope")
	}

	ops := make([]Op[int], 8)
	for i := range ops {
		ops[i] = op
	}

	_, err := Racer[int]{Limit: 3}.Run(context.Background(), ops...)
	if err == nil {
		t.Fatal("Run() error = nil, want error")
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
}

func TestRacer_DiscardsLateSuccesses(t *testing.T) {
	discarded := make(chan int, 2)
	r := Racer[int]{Discard: func(v int) { discarded <- v }}

	got, err := r.Run(context.Background(),
		sleepAndReturn(0, 1, nil),
		func(ctx context.Context) (int, error) {
			// ignores cancellation and still succeeds
			time.Sleep(20 * time.Millisecond)
			return 2, nil
		},
	)
	if err != nil || got != 1 {
		t.Fatalf("Run() = (%d, %v), want (1, nil)", got, err)
	}

	select {
	case v := <-discarded:
		if v != 2 {
			t.Errorf("discarded %d, want 2", v)
		}
	case <-time.After(time.Second):
		t.Error("late success was not discarded")
	}
}

func TestRacer_CancelsLosers(t *testing.T) {
	cancelled := make(chan struct{})
	_, err := FirstOK(context.Background(),
		sleepAndReturn(0, 1, nil),
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			close(cancelled)
			return 0, ctx.Err()
		},
	)
	if err != nil {
		t.Fatalf("FirstOK() error = %v", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("losing operation was not cancelled")
	}
}
