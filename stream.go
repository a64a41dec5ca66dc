package filestore

import (
	"context"
	"errors"
	"io"
)

// Stream is a pull-based stream of items. Next blocks until the next
// item is available, the context is done or the stream ends. After the
// final item Next returns io.EOF; any other error is terminal unless
// documented otherwise by the producer.
//
// Streams perform no work until pulled, so abandoning one before
// exhaustion is always safe for read-only operations.
type Stream[T any] interface {
	Next(ctx context.Context) (T, error)
}

// ObjectStream streams Objects from a listing operation.
type ObjectStream = Stream[Object]

// DataStream streams owned chunks of bytes. Close releases any
// resources held by the stream (open file handles, network bodies,
// concurrency permits) when the consumer abandons it before
// exhaustion; it is a no-op after the stream terminated on its own.
type DataStream interface {
	Stream[[]byte]
	Close() error
}

// StreamFunc adapts a function to a Stream.
type StreamFunc[T any] func(ctx context.Context) (T, error)

// Next implements Stream.
func (f StreamFunc[T]) Next(ctx context.Context) (T, error) {
	return f(ctx)
}

// StreamOf returns a fixed stream over items.
func StreamOf[T any](items ...T) Stream[T] {
	i := 0

	return StreamFunc[T](func(_ context.Context) (T, error) {
		var zero T
		if i >= len(items) {
			return zero, io.EOF
		}

		item := items[i]
		i++

		return item, nil
	})
}

// ErrorStream returns a stream that fails immediately with err.
func ErrorStream[T any](err error) Stream[T] {
	return StreamFunc[T](func(_ context.Context) (T, error) {
		var zero T
		return zero, err
	})
}

// MapStream transforms each item of s through fn. A transform error
// terminates the mapped stream.
func MapStream[A, B any](s Stream[A], fn func(A) (B, error)) Stream[B] {
	return StreamFunc[B](func(ctx context.Context) (B, error) {
		var zero B

		item, err := s.Next(ctx)
		if err != nil {
			return zero, err
		}

		return fn(item)
	})
}

// CollectStream drains s into a slice.
func CollectStream[T any](ctx context.Context, s Stream[T]) ([]T, error) {
	var items []T

	for {
		item, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return items, nil
		}

		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}
}

// MergedStreams merges a dynamically growing and shrinking set of
// independently progressing streams of one item type into a single
// stream.
//
// Held streams are visited in a stable round-robin order and the first
// one to yield supplies the next item; finished streams are removed
// from the set and the merger itself ends only once the set is empty.
// New streams may be pushed at any time during consumption, including
// from the consumer's own processing of a yielded item. This is what
// lets a recursive directory listing stream level N results while
// adding sub-streams for level N+1 as directories are discovered,
// bounding memory to the active frontier rather than the whole tree.
//
// Ordering across streams is unspecified beyond round-robin fairness;
// ordering within one stream is preserved. A MergedStreams is owned by
// a single consumer and must not be shared across goroutines.
type MergedStreams[T any] struct {
	streams []Stream[T]
	cursor  int
}

// NewMergedStreams creates an empty merger.
func NewMergedStreams[T any]() *MergedStreams[T] {
	return &MergedStreams[T]{}
}

// Push adds a stream to the set.
func (m *MergedStreams[T]) Push(s Stream[T]) {
	m.streams = append(m.streams, s)
}

// Len returns the number of streams currently held.
func (m *MergedStreams[T]) Len() int {
	return len(m.streams)
}

// Next implements Stream. Errors from a held stream are passed through
// without removing it; the stream is only dropped once it reports
// io.EOF.
func (m *MergedStreams[T]) Next(ctx context.Context) (T, error) {
	var zero T

	for len(m.streams) > 0 {
		if m.cursor >= len(m.streams) {
			m.cursor = 0
		}

		item, err := m.streams[m.cursor].Next(ctx)

		switch {
		case errors.Is(err, io.EOF):
			m.streams = append(m.streams[:m.cursor], m.streams[m.cursor+1:]...)
		case err != nil:
			m.cursor++
			return zero, err
		default:
			m.cursor++
			return item, nil
		}
	}

	return zero, io.EOF
}
