// Package race runs fallible operations concurrently and picks the first
// success in input order.
package race

import (
	"context"
	"errors"
)

// DefaultLimit is the number of operations allowed to run at once.
const DefaultLimit = 10

// ErrNoOperations is returned when there is nothing to race.
var ErrNoOperations = errors.New("race: no operations")

// Op is one attempt. It must return promptly once ctx is cancelled.
type Op[T any] func(ctx context.Context) (T, error)

// Racer runs a fixed list of operations with bounded concurrency.
//
// Operations start in input order, at most Limit at a time, and a slot is
// freed when an operation finishes. Outcomes are consumed in input order: the
// result is the first operation in the list that succeeds, even when a later
// one finished sooner. When all fail, the last operation's error is returned.
//
// Once Run returns, the context handed to the remaining operations is
// cancelled. Successful values that arrive after the winner was chosen are
// passed to Discard so they can release resources.
type Racer[T any] struct {
	// Limit bounds the number of concurrently running operations.
	// Values <= 0 mean DefaultLimit.
	Limit int

	// Discard receives successful values that lost. Optional.
	Discard func(T)
}

type outcome[T any] struct {
	val T
	err error
}

// FirstOK races ops with the default settings.
func FirstOK[T any](ctx context.Context, ops ...Op[T]) (T, error) {
	return Racer[T]{}.Run(ctx, ops...)
}

// Run executes ops and returns the first success in input order.
func (r Racer[T]) Run(ctx context.Context, ops ...Op[T]) (T, error) {
	var zero T
	if len(ops) == 0 {
		return zero, ErrNoOperations
	}

	limit := r.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	ctx, cancel := context.WithCancel(ctx)

	results := make([]chan outcome[T], len(ops))
	for i := range results {
		results[i] = make(chan outcome[T], 1)
	}

	slots := make(chan struct{}, limit)
	go func() {
		for i, op := range ops {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				results[i] <- outcome[T]{err: ctx.Err()}
				continue
			}
			go func(i int, op Op[T]) {
				defer func() { <-slots }()
				v, err := op(ctx)
				results[i] <- outcome[T]{val: v, err: err}
			}(i, op)
		}
	}()

	var lastErr error
	for i := range results {
		res := <-results[i]
		if res.err != nil {
			lastErr = res.err
			continue
		}
		cancel()
		go r.drain(results[i+1:])
		return res.val, nil
	}

	cancel()
	return zero, lastErr
}

// drain waits for the losers and hands their successes to Discard.
func (r Racer[T]) drain(rest []chan outcome[T]) {
	for _, ch := range rest {
		res := <-ch
		if res.err == nil && r.Discard != nil {
			r.Discard(res.val)
		}
	}
}
