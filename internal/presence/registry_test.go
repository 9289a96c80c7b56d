package presence_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Courier/internal/presence"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) (*presence.Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return presence.NewRegistry(rdb, 3*time.Second), mr
}

func TestRegisterResolve(t *testing.T) {
	t.Parallel()
	reg, mr := newRegistry(t)
	ctx := t.Context()

	require.NoError(t, reg.Register(ctx, "svc", "addr"))
	address, err := reg.Resolve(ctx, "svc")
	require.NoError(t, err)
	require.Equal(t, "addr", address)
	require.Equal(t, 3*time.Second, mr.TTL("names/svc"))
	require.Equal(t, []string{"svc"}, reg.Owned())

	exists, err := reg.Exists(ctx, "svc")
	require.NoError(t, err)
	require.True(t, exists)

	t.Run("expires without refresh", func(t *testing.T) {
		mr.FastForward(4 * time.Second)
		exists, err := reg.Exists(ctx, "svc")
		require.NoError(t, err)
		require.False(t, exists)
		address, err := reg.Resolve(ctx, "svc")
		require.NoError(t, err)
		require.Empty(t, address)
	})
}

func TestResolveAbsent(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	address, err := reg.Resolve(t.Context(), "nobody")
	require.NoError(t, err)
	require.Empty(t, address)
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	reg, mr := newRegistry(t)
	ctx := t.Context()
	require.NoError(t, reg.Register(ctx, "svc", "addr"))

	t.Run("extends", func(t *testing.T) {
		mr.FastForward(2 * time.Second)
		require.Equal(t, 1*time.Second, mr.TTL("names/svc"))
		require.NoError(t, reg.Refresh(ctx))
		require.Equal(t, 3*time.Second, mr.TTL("names/svc"))
	})

	t.Run("idempotent", func(t *testing.T) {
		for range 5 {
			require.NoError(t, reg.Refresh(ctx))
			require.Equal(t, 3*time.Second, mr.TTL("names/svc"))
		}
		names, err := reg.Enumerate(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"svc"}, names)
	})

	t.Run("recreates lapsed", func(t *testing.T) {
		mr.FastForward(5 * time.Second)
		require.False(t, mr.Exists("names/svc"))
		require.NoError(t, reg.Refresh(ctx))
		address, err := reg.Resolve(ctx, "svc")
		require.NoError(t, err)
		require.Equal(t, "addr", address)
		require.Equal(t, 3*time.Second, mr.TTL("names/svc"))
	})
}

func TestUnregister(t *testing.T) {
	t.Parallel()
	reg, mr := newRegistry(t)
	ctx := t.Context()

	require.NoError(t, reg.Register(ctx, "svc", "addr"))
	require.NoError(t, reg.Unregister(ctx, "svc"))
	require.False(t, mr.Exists("names/svc"))
	require.Empty(t, reg.Owned())

	// released names are not brought back by a refresh
	require.NoError(t, reg.Refresh(ctx))
	require.False(t, mr.Exists("names/svc"))

	require.NoError(t, reg.Unregister(ctx, "never-registered"))
}

func TestEnumerate(t *testing.T) {
	t.Parallel()
	reg, mr := newRegistry(t)
	ctx := t.Context()

	var expected []string
	for i := range 250 {
		name := fmt.Sprintf("svc-%03d", i)
		expected = append(expected, name)
		require.NoError(t, reg.Register(ctx, name, ""))
	}
	require.NoError(t, mr.Set("configurations/svc-000/port", "6379"))

	names, err := reg.Enumerate(ctx)
	require.NoError(t, err)
	require.Equal(t, expected, names)
}

func TestConcurrentRegisterAndRefresh(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	ctx := t.Context()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Go(func() {
			for j := range 25 {
				name := fmt.Sprintf("svc-%d-%d", i, j)
				require.NoError(t, reg.Register(ctx, name, "addr"))
				if j%2 == 0 {
					require.NoError(t, reg.Unregister(ctx, name))
				}
			}
		})
	}
	wg.Go(func() {
		for range 50 {
			require.NoError(t, reg.Refresh(ctx))
		}
	})
	wg.Wait()

	require.Len(t, reg.Owned(), 4*12)
	names, err := reg.Enumerate(ctx)
	require.NoError(t, err)
	require.Equal(t, reg.Owned(), names)
}
