package syncutil

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Box is a synchronized value container.
//
// Every mutation stamps the last-changed time and wakes all waiters, even when the new
// value equals the old one: a mutation models "an update happened", not "the value differs".
// A Box is safe for any number of concurrent callers.
type Box[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond
	now  func() time.Time

	value       T
	version     uint64 // Number of successful mutations.
	created     time.Time
	lastChanged time.Time
}

// NewBox creates a new box holding the initial value.
func NewBox[T any](initial T) *Box[T] {
	return NewBoxWithClock(initial, time.Now)
}

// NewBoxWithClock creates a new box that reads timestamps from now.
func NewBoxWithClock[T any](initial T, now func() time.Time) *Box[T] {
	if now == nil {
		now = time.Now
	}
	b := &Box[T]{
		now:   now,
		value: initial,
	}
	b.cond = sync.NewCond(&b.mu)
	b.created = now()
	b.lastChanged = b.created
	return b
}

// Get returns the current value.
func (b *Box[T]) Get() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Set replaces the value.
func (b *Box[T]) Set(v T) {
	b.SetAndGet(v)
}

// SetAndGet replaces the value and returns the previous one.
func (b *Box[T]) SetAndGet(v T) (previous T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	previous = b.value
	b.setLocked(v)
	return previous
}

// SetIfMatches replaces the value only if pred holds for the current value.
// It reports whether the value was replaced. It panics with ErrNilArgument if pred is nil.
func (b *Box[T]) SetIfMatches(pred func(T) bool, v T) bool {
	panicIfNil("box: set if matches", pred == nil)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !pred(b.value) {
		return false
	}
	b.setLocked(v)
	return true
}

// Recompute replaces the value with fn(current) and returns the new value.
// It panics with ErrNilArgument if fn is nil.
func (b *Box[T]) Recompute(fn func(T) T) T {
	panicIfNil("box: recompute", fn == nil)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(fn(b.value))
	return b.value
}

// RecomputeIfMatches replaces the value with fn(current) if pred holds for the current value.
// It returns the value held afterwards, which is unchanged if pred did not hold.
// It panics with ErrNilArgument if pred or fn is nil.
func (b *Box[T]) RecomputeIfMatches(pred func(T) bool, fn func(T) T) T {
	panicIfNil("box: recompute if matches", pred == nil || fn == nil)
	b.mu.Lock()
	defer b.mu.Unlock()
	if pred(b.value) {
		b.setLocked(fn(b.value))
	}
	return b.value
}

// WaitUntilChanged blocks until a mutation happens after the call begins and returns the
// value at wake-up. It fails with ErrInterrupted if ctx is cancelled and with ErrTimeout
// if its deadline expires first.
func (b *Box[T]) WaitUntilChanged(ctx context.Context) (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := b.version
	err := b.waitLocked(ctx, "box: wait until changed", func() bool {
		return b.version != start
	})
	return b.value, err
}

// WaitUntilChangedTimeout is WaitUntilChanged bounded by the timeout d.
func (b *Box[T]) WaitUntilChangedTimeout(d time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return b.WaitUntilChanged(ctx)
}

// WaitUntilMatches blocks until pred holds for the current value and returns that value.
// The value is checked on entry, so a value that already matches returns without blocking.
func (b *Box[T]) WaitUntilMatches(ctx context.Context, pred func(T) bool) (T, error) {
	if pred == nil {
		var zero T
		return zero, fmt.Errorf("box: wait until matches: %w: predicate", ErrNilArgument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.waitLocked(ctx, "box: wait until matches", func() bool {
		return pred(b.value)
	})
	return b.value, err
}

// WaitUntilMatchesTimeout is WaitUntilMatches bounded by the timeout d.
func (b *Box[T]) WaitUntilMatchesTimeout(d time.Duration, pred func(T) bool) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return b.WaitUntilMatches(ctx, pred)
}

// IsChangedSinceCreation reports whether at least one mutation has happened.
func (b *Box[T]) IsChangedSinceCreation() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version > 0
}

// Created returns the creation time of the box.
func (b *Box[T]) Created() time.Time {
	return b.created
}

// LastChanged returns the time of the latest mutation, or the creation time if none happened.
func (b *Box[T]) LastChanged() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastChanged
}

// setLocked assumes the caller holds the mutex.
func (b *Box[T]) setLocked(v T) {
	b.value = v
	b.version++
	// Never move backwards, even if the clock does.
	if t := b.now(); t.After(b.lastChanged) {
		b.lastChanged = t
	}
	b.cond.Broadcast()
}

func (b *Box[T]) wake() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

// waitLocked waits on the condition until done returns true or ctx is done.
// The deadline of ctx bounds the total wait across wake-ups.
// It assumes the caller holds the mutex.
func (b *Box[T]) waitLocked(ctx context.Context, op string, done func() bool) error {
	if done() {
		return nil
	}
	stop := context.AfterFunc(ctx, b.wake)
	defer stop()
	for !done() {
		if err := ctx.Err(); err != nil {
			return waitError(op, err)
		}
		b.cond.Wait()
	}
	return nil
}

// panicIfNil panics with an error wrapping ErrNilArgument if isNil is set.
// Callers check before taking the lock.
func panicIfNil(op string, isNil bool) {
	if isNil {
		panic(fmt.Errorf("%s: %w: function", op, ErrNilArgument))
	}
}
