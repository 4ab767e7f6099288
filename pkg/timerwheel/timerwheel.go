// Package timerwheel schedules per-connection and reactor-global deadlines,
// replacing original_source/core/network_internal.h's tmr_s intrusive list
// and the fixed MAX_TIMERS array. A Wheel owns one list of timers kept in
// scheduling order (not sorted by expiry); Schedule/Reschedule/Cancel are
// O(1) against a pkg/list.Handle, and Tick walks the whole list firing
// every timer that is due.
//
// Timers may re-arm or cancel themselves (or siblings) from inside their own
// callback. To make that safe the wheel marks a timer "locked" while its
// callback runs and defers any Cancel on a locked timer to a to_delete flag,
// reaped once the callback returns — mirroring the original's in-callback
// mutation guard.
package timerwheel

import (
	"time"

	"github.com/WhileEndless/reactorhttp/pkg/constants"
	"github.com/WhileEndless/reactorhttp/pkg/errors"
	"github.com/WhileEndless/reactorhttp/pkg/list"
)

// Callback is invoked when a timer fires. now is the Tick time that fired it.
type Callback func(h Handle, now time.Time)

type timer struct {
	deadline time.Time
	period   time.Duration // 0 for one-shot
	cb       Callback
	locked   bool
	toDelete bool
}

// Handle identifies a scheduled timer for Reschedule/Cancel.
type Handle struct {
	h list.Handle[*timer]
}

// Valid reports whether the handle still refers to a live timer.
func (h Handle) Valid() bool { return h.h.Valid() }

// Wheel is a single reactor's timer list, capped at a fixed capacity.
type Wheel struct {
	timers   *list.List[*timer]
	capacity int
}

// New creates a Wheel with the default capacity (original's MAX_TIMERS).
func New() *Wheel {
	return NewWithCapacity(constants.MaxTimers)
}

// NewWithCapacity creates a Wheel with a caller-chosen capacity.
func NewWithCapacity(capacity int) *Wheel {
	if capacity <= 0 {
		capacity = constants.MaxTimers
	}
	return &Wheel{timers: list.New[*timer](), capacity: capacity}
}

// Len returns the number of timers in the wheel, including any marked
// to_delete during a callback that Tick has not reaped yet.
func (w *Wheel) Len() int { return w.timers.Len() }

// Schedule arms a one-shot timer to fire after d.
func (w *Wheel) Schedule(d time.Duration, cb Callback) (Handle, error) {
	return w.schedule(d, 0, cb)
}

// SchedulePeriodic arms a timer that re-arms itself for `period` after every
// fire, until Cancel is called.
func (w *Wheel) SchedulePeriodic(period time.Duration, cb Callback) (Handle, error) {
	return w.schedule(period, period, cb)
}

func (w *Wheel) schedule(d, period time.Duration, cb Callback) (Handle, error) {
	if w.timers.Len() >= w.capacity {
		return Handle{}, errors.NewKindError(errors.KindTimerCapacity, "timerwheel.Schedule",
			"timer capacity exceeded")
	}
	t := &timer{deadline: time.Now().Add(d), period: period, cb: cb}
	lh := w.timers.PushBack(t)
	return Handle{h: lh}, nil
}

// Reschedule moves an existing timer's deadline forward by d from now.
// A no-op on a stale handle.
func (w *Wheel) Reschedule(h Handle, d time.Duration) {
	if !h.h.Valid() {
		return
	}
	t := h.h.Value()
	if t == nil || t.toDelete {
		return
	}
	t.deadline = time.Now().Add(d)
}

// Cancel disarms a timer. If called from inside that timer's own callback
// (or another callback running during the same Tick), the delete is
// deferred until the callback returns and Tick reaps it.
func (w *Wheel) Cancel(h Handle) {
	if !h.h.Valid() {
		return
	}
	t := h.h.Value()
	if t == nil {
		return
	}
	if t.locked {
		t.toDelete = true
		return
	}
	w.timers.Remove(h.h)
}

// Tick fires every timer whose deadline is <= now, re-arming periodic
// timers, and reaps any timer marked to_delete by a callback that ran
// during this Tick.
func (w *Wheel) Tick(now time.Time) {
	type due struct {
		h list.Handle[*timer]
		t *timer
	}
	var fired []due
	var toRemove []list.Handle[*timer]

	w.timers.EachHandle(func(h list.Handle[*timer], t *timer) {
		if t.toDelete {
			toRemove = append(toRemove, h)
			return
		}
		if !t.deadline.After(now) {
			fired = append(fired, due{h: h, t: t})
		}
	})

	for _, f := range fired {
		t := f.t
		if t.toDelete {
			continue
		}
		t.locked = true
		t.cb(Handle{h: f.h}, now)
		t.locked = false
		if t.toDelete {
			toRemove = append(toRemove, f.h)
			continue
		}
		if t.period > 0 {
			t.deadline = now.Add(t.period)
		} else {
			toRemove = append(toRemove, f.h)
		}
	}

	for _, rh := range toRemove {
		w.timers.Remove(rh)
	}
}

// NextDeadline returns the earliest deadline among all live timers, for the
// reactor to size its epoll_wait timeout against. ok is false if no timers
// are armed.
func (w *Wheel) NextDeadline() (deadline time.Time, ok bool) {
	w.timers.Each(func(t *timer) {
		if t.toDelete {
			return
		}
		if !ok || t.deadline.Before(deadline) {
			deadline, ok = t.deadline, true
		}
	})
	return deadline, ok
}
