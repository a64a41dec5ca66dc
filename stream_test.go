package filestore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamOf(t *testing.T) {
	items, err := CollectStream(context.Background(), StreamOf(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, items)
}

func TestErrorStream(t *testing.T) {
	boom := errors.New("boom")

	_, err := CollectStream(context.Background(), ErrorStream[int](boom))
	assert.ErrorIs(t, err, boom)
}

func TestMapStream(t *testing.T) {
	doubled := MapStream(StreamOf(1, 2, 3), func(n int) (int, error) {
		return n * 2, nil
	})

	items, err := CollectStream(context.Background(), doubled)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, items)
}

func TestMergedStreams(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundRobin", func(t *testing.T) {
		m := NewMergedStreams[int]()
		m.Push(StreamOf(1, 3))
		m.Push(StreamOf(2, 4))

		items, err := CollectStream[int](ctx, m)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4}, items)
	})

	t.Run("EmptyEndsImmediately", func(t *testing.T) {
		m := NewMergedStreams[int]()

		_, err := m.Next(ctx)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("PushDuringConsumption", func(t *testing.T) {
		m := NewMergedStreams[int]()
		m.Push(StreamOf(1))

		first, err := m.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, first)

		m.Push(StreamOf(2))

		second, err := m.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, second)

		_, err = m.Next(ctx)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("ErrorPassesThroughWithoutRemoval", func(t *testing.T) {
		boom := errors.New("boom")

		m := NewMergedStreams[int]()
		m.Push(ErrorStream[int](boom))
		m.Push(StreamOf(7))

		_, err := m.Next(ctx)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 2, m.Len())

		item, err := m.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, item)
	})

	t.Run("FinishedStreamsRemoved", func(t *testing.T) {
		m := NewMergedStreams[int]()
		m.Push(StreamOf[int]())
		m.Push(StreamOf(5))

		item, err := m.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, item)
		assert.Equal(t, 1, m.Len())
	})
}
