// Package refcount provides shared ownership of a resource with an atomic
// strong count.
//
// Every owner holds its own *Ref. Clone hands out a new owner token and
// increments the count; Release gives the token back. The destroy function
// passed to New runs exactly once, when the last token is released.
package refcount

import (
	"errors"
	"sync/atomic"
)

// ErrReleased is returned when a token is used after it was released, or when
// cloning a value whose count already reached zero.
var ErrReleased = errors.New("refcount: reference already released")

type shared[T any] struct {
	value   T
	count   atomic.Int64
	destroy func(T) error
}

// Ref is one owner's reference onto a shared value.
type Ref[T any] struct {
	s        *shared[T]
	released atomic.Bool
}

// New wraps v with a strong count of exactly 1. destroy may be nil.
func New[T any](v T, destroy func(T) error) *Ref[T] {
	s := &shared[T]{value: v, destroy: destroy}
	s.count.Store(1)
	return &Ref[T]{s: s}
}

// Clone registers an additional owner and returns its token.
func (r *Ref[T]) Clone() (*Ref[T], error) {
	if r == nil || r.s == nil {
		return nil, errors.New("refcount: nil reference")
	}
	if r.released.Load() {
		return nil, ErrReleased
	}
	for {
		n := r.s.count.Load()
		if n <= 0 {
			return nil, ErrReleased
		}
		if r.s.count.CompareAndSwap(n, n+1) {
			return &Ref[T]{s: r.s}, nil
		}
	}
}

// Release drops this owner's reference. When the count reaches zero the
// destroy function runs and its error is returned. Releasing a nil Ref is a
// no-op; releasing the same token twice returns ErrReleased and leaves the
// count untouched.
func (r *Ref[T]) Release() error {
	if r == nil || r.s == nil {
		return nil
	}
	if r.released.Swap(true) {
		return ErrReleased
	}
	for {
		n := r.s.count.Load()
		if n <= 0 {
			// Unreachable through the token API; report instead of going negative.
			return ErrReleased
		}
		if !r.s.count.CompareAndSwap(n, n-1) {
			continue
		}
		if n-1 > 0 {
			return nil
		}
		if r.s.destroy == nil {
			return nil
		}
		return r.s.destroy(r.s.value)
	}
}

// Value returns the shared value. It stays valid only while the caller holds
// an unreleased token.
func (r *Ref[T]) Value() T {
	var zero T
	if r == nil || r.s == nil {
		return zero
	}
	return r.s.value
}

// Count reports the current strong count.
func (r *Ref[T]) Count() int64 {
	if r == nil || r.s == nil {
		return 0
	}
	return r.s.count.Load()
}

// Released reports whether this token has been released.
func (r *Ref[T]) Released() bool {
	if r == nil {
		return true
	}
	return r.released.Load()
}
