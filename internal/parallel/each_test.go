package parallel_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/CZERTAINLY/Courier/internal/parallel"
	"github.com/stretchr/testify/require"
)

func TestEach(t *testing.T) {
	t.Parallel()

	input := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

	var testCases = []struct {
		scenario string
		limit    int
		then     time.Duration
	}{
		{"limit 1", 1, 18 * time.Second},
		{"limit 2", 2, 12 * time.Second},
		{"limit 10", 10, 10 * time.Second},
		{"unlimited", 0, 10 * time.Second},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				var calls atomic.Int32
				start := time.Now()
				err := parallel.Each(t.Context(), tt.limit, input, func(_ context.Context, d time.Duration) error {
					calls.Add(1)
					time.Sleep(d)
					return nil
				})
				require.NoError(t, err)
				require.Equal(t, int32(len(input)), calls.Load())
				require.Equal(t, tt.then, time.Since(start))
			})
		})
	}
}

func TestEach_Errors(t *testing.T) {
	t.Parallel()

	errOdd := errors.New("odd")
	var calls atomic.Int32
	err := parallel.Each(t.Context(), 2, []int{1, 2, 3, 4}, func(_ context.Context, i int) error {
		calls.Add(1)
		if i%2 == 1 {
			return errOdd
		}
		return nil
	})
	require.ErrorIs(t, err, errOdd)
	require.Equal(t, int32(4), calls.Load())
}

func TestEach_Empty(t *testing.T) {
	t.Parallel()
	err := parallel.Each(t.Context(), 1, []int(nil), func(context.Context, int) error {
		t.Fatal("must not be called")
		return nil
	})
	require.NoError(t, err)
}
