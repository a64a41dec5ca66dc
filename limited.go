package filestore

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limited guards a cloneable resource template behind a counting permit
// pool of fixed capacity, bounding how many clones are outstanding at
// once. It is used to cap concurrent outbound connections and open file
// handles.
type Limited[T any] struct {
	sem   *semaphore.Weighted
	mu    sync.Mutex
	base  T
	clone func(T) T
}

// NewLimited creates a pool of capacity count over base. clone produces
// the per-guard instance from the template; if nil the template is
// copied by value. A non-positive count is treated as one.
func NewLimited[T any](base T, count int64, clone func(T) T) *Limited[T] {
	if count <= 0 {
		count = 1
	}

	return &Limited[T]{
		sem:   semaphore.NewWeighted(count),
		base:  base,
		clone: clone,
	}
}

// Take suspends the caller until a permit is free, then returns a guard
// holding the permit and a clone of the resource template. At most
// count guards are outstanding at any time.
func (l *Limited[T]) Take(ctx context.Context) (*InUse[T], error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, NewError(KindCancelled, "interrupted while waiting for a free permit", err)
	}

	l.mu.Lock()
	value := l.base
	if l.clone != nil {
		value = l.clone(l.base)
	}
	l.mu.Unlock()

	return &InUse[T]{pool: l, value: value}, nil
}

// InUse is a guard holding one permit and the guard's own clone of the
// pooled resource. The permit returns to the pool when Release is
// called; callers should defer it.
type InUse[T any] struct {
	pool  *Limited[T]
	value T
	once  sync.Once
}

// Value returns read/write access to the guard's clone.
func (u *InUse[T]) Value() *T {
	return &u.value
}

// Release returns the permit to the pool. It is safe to call more than
// once; only the first call has an effect.
func (u *InUse[T]) Release() {
	u.once.Do(func() {
		u.pool.sem.Release(1)
	})
}
