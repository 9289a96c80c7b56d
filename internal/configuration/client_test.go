package configuration_test

import (
	"testing"
	"time"

	"github.com/CZERTAINLY/Courier/internal/configuration"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*configuration.Client, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return configuration.NewClient("echo", rdb), rdb, mr
}

func TestGetSet(t *testing.T) {
	t.Parallel()
	cfg, _, mr := newClient(t)
	ctx := t.Context()

	_, ok, err := cfg.Get(ctx, "port")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cfg.Set(ctx, "port", 8080))
	mr.CheckGet(t, "configurations/echo/port", "8080")

	value, ok, err := cfg.Get(ctx, "port")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "8080", value)

	var port int
	ok, err = cfg.Scan(ctx, "port", &port)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 8080, port)

	var missing float64
	ok, err = cfg.Scan(ctx, "ratio", &missing)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cfg.Set(ctx, "name", "echo"))
	var bad int
	_, err = cfg.Scan(ctx, "name", &bad)
	require.Error(t, err)
}

func TestSignals(t *testing.T) {
	t.Parallel()
	cfg, rdb, _ := newClient(t)
	ctx := t.Context()

	sub := rdb.Subscribe(ctx, "configurations/load", "configurations/save")
	t.Cleanup(func() {
		_ = sub.Close()
	})
	_, err := sub.Receive(ctx) // load subscription
	require.NoError(t, err)
	_, err = sub.Receive(ctx) // save subscription
	require.NoError(t, err)

	require.NoError(t, cfg.Reload(ctx))
	require.NoError(t, cfg.Apply(ctx))

	for _, expected := range []string{"configurations/load", "configurations/save"} {
		msg, err := sub.ReceiveTimeout(ctx, time.Second)
		require.NoError(t, err)
		m, ok := msg.(*redis.Message)
		require.True(t, ok)
		require.Equal(t, expected, m.Channel)
		require.Equal(t, "echo", m.Payload)
	}
}
