package syncutil

import (
	"context"

	"golang.org/x/exp/constraints"
)

// Number is a constraint for types a Counter can hold.
type Number interface {
	constraints.Integer | constraints.Float
}

// Counter is a Box specialized for numbers.
type Counter[N Number] struct {
	*Box[N]
}

// NewCounter creates a new counter starting at initial.
func NewCounter[N Number](initial N) *Counter[N] {
	return &Counter[N]{Box: NewBox(initial)}
}

// Add adds delta to the counter and returns the new value.
func (c *Counter[N]) Add(delta N) N {
	return c.Recompute(func(v N) N { return v + delta })
}

func (c *Counter[N]) Increment() N {
	return c.Add(1)
}

func (c *Counter[N]) Decrement() N {
	return c.Recompute(func(v N) N { return v - 1 })
}

// WaitUntilAtLeast blocks until the counter is >= n.
func (c *Counter[N]) WaitUntilAtLeast(ctx context.Context, n N) (N, error) {
	return c.WaitUntilMatches(ctx, func(v N) bool { return v >= n })
}

// WaitUntilLessThan blocks until the counter is < n.
func (c *Counter[N]) WaitUntilLessThan(ctx context.Context, n N) (N, error) {
	return c.WaitUntilMatches(ctx, func(v N) bool { return v < n })
}
