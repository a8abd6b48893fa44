package reconcile

import "time"

// task is the single pending run of the loop. It is owned by the loop
// goroutine and is not safe for concurrent use. Arming replaces any
// pending run, so at most one timer is ever live.
type task struct {
	timer *time.Timer
	due   time.Time
}

// arm cancels any pending run and schedules a new one after d.
func (t *task) arm(d time.Duration) {
	t.cancel()
	t.timer = time.NewTimer(d)
	t.due = time.Now().Add(d)
}

// cancel drops the pending run, if any.
func (t *task) cancel() {
	if t.timer == nil {
		return
	}
	t.timer.Stop()
	t.timer = nil
	t.due = time.Time{}
}

// fired returns the channel the pending run fires on. With nothing
// pending it returns nil, which blocks forever in a select.
func (t *task) fired() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}

// armed reports whether a run is pending.
func (t *task) armed() bool {
	return t.timer != nil
}
