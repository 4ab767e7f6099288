package timerwheel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/reactorhttp/pkg/timerwheel"
)

func TestOneShotFires(t *testing.T) {
	w := timerwheel.New()
	fired := false
	_, err := w.Schedule(10*time.Millisecond, func(h timerwheel.Handle, now time.Time) {
		fired = true
	})
	require.NoError(t, err)

	w.Tick(time.Now())
	require.False(t, fired, "should not fire before deadline")

	w.Tick(time.Now().Add(20 * time.Millisecond))
	require.True(t, fired)
	require.Equal(t, 0, w.Len())
}

func TestPeriodicReArms(t *testing.T) {
	w := timerwheel.New()
	count := 0
	_, err := w.SchedulePeriodic(5*time.Millisecond, func(h timerwheel.Handle, now time.Time) {
		count++
	})
	require.NoError(t, err)

	base := time.Now()
	w.Tick(base.Add(10 * time.Millisecond))
	require.Equal(t, 1, count)
	require.Equal(t, 1, w.Len())

	w.Tick(base.Add(20 * time.Millisecond))
	require.Equal(t, 2, count)
}

func TestCancelBeforeFire(t *testing.T) {
	w := timerwheel.New()
	fired := false
	h, err := w.Schedule(5*time.Millisecond, func(h timerwheel.Handle, now time.Time) {
		fired = true
	})
	require.NoError(t, err)

	w.Cancel(h)
	w.Tick(time.Now().Add(10 * time.Millisecond))
	require.False(t, fired)
	require.Equal(t, 0, w.Len())
}

func TestCancelFromWithinCallback(t *testing.T) {
	w := timerwheel.New()
	var self timerwheel.Handle
	calls := 0
	h, err := w.SchedulePeriodic(1*time.Millisecond, func(h timerwheel.Handle, now time.Time) {
		calls++
		w.Cancel(self) // cancel self while locked — must defer, not corrupt the list
	})
	require.NoError(t, err)
	self = h

	w.Tick(time.Now().Add(5 * time.Millisecond))
	require.Equal(t, 1, calls)
	require.Equal(t, 0, w.Len(), "self-cancel during callback should be reaped by Tick")
}

func TestRescheduleExtendsDeadline(t *testing.T) {
	w := timerwheel.New()
	fired := false
	h, err := w.Schedule(5*time.Millisecond, func(h timerwheel.Handle, now time.Time) {
		fired = true
	})
	require.NoError(t, err)

	w.Reschedule(h, 50*time.Millisecond)
	w.Tick(time.Now().Add(10 * time.Millisecond))
	require.False(t, fired, "rescheduled timer should not fire at the old deadline")
}

func TestCapacityExceeded(t *testing.T) {
	w := timerwheel.NewWithCapacity(2)
	_, err := w.Schedule(time.Second, func(timerwheel.Handle, time.Time) {})
	require.NoError(t, err)
	_, err = w.Schedule(time.Second, func(timerwheel.Handle, time.Time) {})
	require.NoError(t, err)
	_, err = w.Schedule(time.Second, func(timerwheel.Handle, time.Time) {})
	require.Error(t, err)
}

func TestNextDeadline(t *testing.T) {
	w := timerwheel.New()
	_, ok := w.NextDeadline()
	require.False(t, ok)

	_, err := w.Schedule(100*time.Millisecond, func(timerwheel.Handle, time.Time) {})
	require.NoError(t, err)
	_, err = w.Schedule(10*time.Millisecond, func(timerwheel.Handle, time.Time) {})
	require.NoError(t, err)

	d, ok := w.NextDeadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), d, 5*time.Millisecond)
}
