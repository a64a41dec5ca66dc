package filestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimited(t *testing.T) {
	ctx := context.Background()

	t.Run("BoundsOutstandingGuards", func(t *testing.T) {
		pool := NewLimited("conn", 2, nil)

		first, err := pool.Take(ctx)
		require.NoError(t, err)

		second, err := pool.Take(ctx)
		require.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err = pool.Take(waitCtx)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindCancelled))

		first.Release()

		third, err := pool.Take(ctx)
		require.NoError(t, err)

		second.Release()
		third.Release()
	})

	t.Run("CloneProducesGuardOwnedValue", func(t *testing.T) {
		pool := NewLimited([]int{1}, 1, func(base []int) []int {
			out := make([]int, len(base))
			copy(out, base)

			return out
		})

		guard, err := pool.Take(ctx)
		require.NoError(t, err)
		defer guard.Release()

		(*guard.Value())[0] = 99

		guard.Release()

		next, err := pool.Take(ctx)
		require.NoError(t, err)
		defer next.Release()

		assert.Equal(t, 1, (*next.Value())[0])
	})

	t.Run("ReleaseIsIdempotent", func(t *testing.T) {
		pool := NewLimited(0, 1, nil)

		guard, err := pool.Take(ctx)
		require.NoError(t, err)

		guard.Release()
		guard.Release()

		again, err := pool.Take(ctx)
		require.NoError(t, err)
		again.Release()
	})

	t.Run("NonPositiveCountBecomesOne", func(t *testing.T) {
		pool := NewLimited(0, 0, nil)

		guard, err := pool.Take(ctx)
		require.NoError(t, err)
		guard.Release()
	})
}
