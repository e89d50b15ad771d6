package fiber

import "time"

// Yield suspends the calling task, returning it to the back of its
// scheduler's ready queue, and resumes once every other currently-ready
// task has had its turn. It is the fundamental suspension point named
// throughout spec.md §4.1.
//
// Yield observes a pending cancellation before suspending: if the task is
// Cancelled and Cancellable, it returns a FiberIsCancelled error
// immediately instead of actually yielding.
func (t *Task) Yield() error {
	if t.observeCancel() {
		return t.diag
	}
	t.sched.enqueueReady(t)
	t.sched.park(t)
	if t.observeCancel() {
		return t.diag
	}
	return nil
}

// Sleep suspends the calling task for at least d, waking it via the
// scheduler's timer heap. A cancellation delivered during the sleep wakes
// it early.
func (t *Task) Sleep(d time.Duration) error {
	if t.observeCancel() {
		return t.diag
	}
	cancelTimer := t.sched.loop.addTimer(t, sleepDeadline(d))
	t.sched.park(t)
	cancelTimer()
	if t.observeCancel() {
		return t.diag
	}
	return nil
}

// WaitTimeout parks the calling task until either it is explicitly woken
// (via Wakeup/cross-cord post) or d elapses, whichever comes first,
// returning true if the deadline fired before any wakeup.
func (t *Task) WaitTimeout(d time.Duration) (timedOut bool, err error) {
	if t.observeCancel() {
		return false, t.diag
	}
	t.timedOut = false
	cancelTimer := t.sched.loop.addTimer(t, sleepDeadline(d))
	t.sched.park(t)
	cancelTimer()
	if t.observeCancel() {
		return false, t.diag
	}
	return t.timedOut, nil
}

// Reschedule wakes the calling task (re-enqueueing it at the back of the
// ready queue) and immediately yields, letting every other currently-ready
// task run first before it resumes. Equivalent to fiber_reschedule in the
// original scheduler: a self-wakeup followed by a yield.
func (t *Task) Reschedule() error {
	t.sched.Wakeup(t)
	return t.Yield()
}

// Join blocks the calling task until target dies, returning target's
// result and diagnostic. target must be Joinable.
func (t *Task) Join(target *Task) (interface{}, error) {
	return t.sched.Join(t, target)
}

// Cancel requests cancellation of t, to be observed at its next
// suspension point (or immediately, if t is currently parked waiting on
// something cancellable).
func (t *Task) Cancel() {
	t.sched.Cancel(t)
}

// PostWakeup asks t's scheduler to wake it on its own loop goroutine, the
// safe way to resume a task from outside its owning cord (another cord,
// or a WorkerPool helper goroutine). See eventloop.go.
func (t *Task) PostWakeup() {
	t.sched.loop.postWake(t.id)
}
