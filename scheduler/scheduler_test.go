package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsTaskRepeatedly(t *testing.T) {
	var count int32
	s := New()
	s.Start(context.Background(), Task{
		Name:     "counter",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		},
	})
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	require.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(2))
}

func TestSchedulerStopHaltsTicks(t *testing.T) {
	var count int32
	s := New()
	s.Start(context.Background(), Task{
		Name:     "counter",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		},
	})
	time.Sleep(15 * time.Millisecond)
	s.Stop()
	after := atomic.LoadInt32(&count)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt32(&count))
}

func TestFanOutPropagatesFirstError(t *testing.T) {
	items := []int{1, 2, 3, 4}
	err := FanOut(context.Background(), 0, items, func(ctx context.Context, item int) error {
		if item == 3 {
			return errBoom
		}
		return nil
	})
	require.ErrorIs(t, err, errBoom)
}

func TestFanOutSucceedsWhenAllOK(t *testing.T) {
	items := []int{1, 2, 3}
	var sum int32
	err := FanOut(context.Background(), 2, items, func(ctx context.Context, item int) error {
		atomic.AddInt32(&sum, int32(item))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int32(6), sum)
}

func TestCollapserSharesResult(t *testing.T) {
	c := NewCollapser()
	var calls int32
	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	done := make(chan struct{})
	go func() {
		v, err, _ := c.Do("key1", fn)
		require.NoError(t, err)
		require.Equal(t, "value", v)
		close(done)
	}()
	v, err, _ := c.Do("key1", fn)
	require.NoError(t, err)
	require.Equal(t, "value", v)
	<-done
}

var errBoom = &testErr{"boom"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
