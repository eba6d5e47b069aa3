package rtkernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGlobalKernel_Lifecycle(t *testing.T) {
	require.Panics(t, func() { GlobalKernel() })

	require.NoError(t, InitGlobalKernel(nil, TickerOptions{Period: time.Millisecond}))
	k := GlobalKernel()
	require.NoError(t, InitGlobalKernel(nil, TickerOptions{Period: time.Millisecond}))
	require.Same(t, k, GlobalKernel(), "second init is a no-op")

	ShutdownGlobalKernel()
	ShutdownGlobalKernel()
	require.Panics(t, func() { GlobalKernel() })
}

func TestGlobalKernel_GoAndJoin(t *testing.T) {
	require.NoError(t, InitGlobalKernel(nil, TickerOptions{Period: time.Millisecond}))
	defer ShutdownGlobalKernel()

	pid, err := Go(SpawnOptions{Name: "sleeper", Priority: 10}, func(th *Thread) any {
		if err := th.Sleep(5); err != nil {
			return err
		}
		return th.Ticks()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := Join(ctx, pid)
	require.NoError(t, err)
	require.GreaterOrEqual(t, value.(uint64), uint64(5))

	_, err = Join(ctx, pid)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGlobalKernel_JoinContextCanceled(t *testing.T) {
	require.NoError(t, InitGlobalKernel(nil, TickerOptions{Period: time.Millisecond}))
	defer ShutdownGlobalKernel()

	pid, err := Go(SpawnOptions{Name: "forever", Priority: 10}, func(th *Thread) any {
		return th.Sleep(1 << 30)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = Join(ctx, pid)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The canceled helper left the join record intact.
	state, ok := GlobalKernel().Thread(pid)
	require.True(t, ok)
	require.Equal(t, "forever", state.Name)
}

// TestGlobalKernel_JoinCanceledKeepsExitValue verifies that a join racing
// its context either returns the exit value or leaves it for a later join.
func TestGlobalKernel_JoinCanceledKeepsExitValue(t *testing.T) {
	require.NoError(t, InitGlobalKernel(nil, TickerOptions{Period: time.Millisecond}))
	defer ShutdownGlobalKernel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	background, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()

	for i := range 20 {
		pid, err := Go(SpawnOptions{Name: "worker", Priority: 10}, func(*Thread) any { return i })
		require.NoError(t, err)
		require.NoError(t, GlobalKernel().WaitIdle(background))

		value, err := Join(canceled, pid)
		if err != nil {
			require.ErrorIs(t, err, context.Canceled)
			value, err = Join(background, pid)
		}
		require.NoError(t, err)
		require.Equal(t, i, value)
	}
}
