package fiber

import (
	"container/heap"
	"time"
)

// timerEntry is one pending deadline in the event loop's min-heap,
// associated with the task to wake when it fires.
type timerEntry struct {
	deadline time.Time
	task     *Task
	index    int // maintained by container/heap
	cancelled bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// eventLoop is the non-blocking core that spec.md §4.1 calls "a single
// event-loop iteration: run every ready task once, then block (with a
// timeout bounded by the nearest pending timer) for external wakeups."
//
// Timers live in a min-heap; cross-cord wakeups arrive on a buffered
// channel and are drained once per iteration, matching the spec's
// "wakeup-event source (posted cross-fiber, drained once per loop
// iteration)".
type eventLoop struct {
	timers timerHeap
	wake   chan wakeRequest
}

// wakeRequest is posted from outside the owning cord's goroutine (by
// another cord, or by a WorkerPool helper goroutine) asking the loop to
// wake a specific task on its next iteration.
type wakeRequest struct {
	taskID uint64
}

const wakeChannelCapacity = 1024

func newEventLoop() *eventLoop {
	return &eventLoop{
		wake: make(chan wakeRequest, wakeChannelCapacity),
	}
}

// addTimer schedules t to be woken at deadline, returning a cancel func.
func (l *eventLoop) addTimer(t *Task, deadline time.Time) func() {
	e := &timerEntry{deadline: deadline, task: t}
	heap.Push(&l.timers, e)
	return func() { e.cancelled = true }
}

// nextDeadline reports the nearest live timer's deadline, and whether one
// exists at all.
func (l *eventLoop) nextDeadline() (time.Time, bool) {
	for l.timers.Len() > 0 {
		top := l.timers[0]
		if top.cancelled {
			heap.Pop(&l.timers)
			continue
		}
		return top.deadline, true
	}
	return time.Time{}, false
}

// expireTimers pops and returns every timer whose deadline is <= now.
func (l *eventLoop) expireTimers(now time.Time) []*timerEntry {
	var fired []*timerEntry
	for l.timers.Len() > 0 {
		top := l.timers[0]
		if top.cancelled {
			heap.Pop(&l.timers)
			continue
		}
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&l.timers)
		fired = append(fired, top)
	}
	return fired
}

// postWake enqueues a cross-cord wake request. Safe to call from any
// goroutine. It returns at once while the wake channel has buffer space;
// once the buffer is full it blocks until the loop drains the channel.
func (l *eventLoop) postWake(taskID uint64) {
	select {
	case l.wake <- wakeRequest{taskID: taskID}:
	default:
		// Buffer saturated: this can only happen under a sustained
		// flood of cross-cord wakeups that the loop isn't draining fast
		// enough. Block rather than drop a wakeup silently.
		l.wake <- wakeRequest{taskID: taskID}
	}
}

// drainWake drains every wake request queued since the last drain and
// returns the task IDs found, deduplicated, so the scheduler can Wakeup
// each one exactly once per iteration even if it was posted to multiple
// times (spec.md §8: "no double enqueue").
func (l *eventLoop) drainWake() []uint64 {
	if len(l.wake) == 0 {
		return nil
	}
	seen := make(map[uint64]bool)
	var ids []uint64
	for {
		select {
		case req := <-l.wake:
			if !seen[req.taskID] {
				seen[req.taskID] = true
				ids = append(ids, req.taskID)
			}
		default:
			return ids
		}
	}
}
