package fiber

import (
	"runtime"
	"sync/atomic"

	"github.com/dbcore/fiberdb/logger"
)

// onExitHandler is invoked exactly once when a Cord's root task dies,
// carrying the root task's result and diagnostic.
type onExitHandler func(result interface{}, diag error)

// wontRunSentinel is installed in Cord.onExit once the cord has already
// finished, so a late CordCojoin registration can tell "nobody will ever
// call this" apart from "nobody has called this yet" and run synchronously
// instead of registering and waiting forever.
var wontRunSentinel = new(onExitHandler)

// Cord is one OS thread dedicated to a single Scheduler, grounded on
// spec.md §5's "one native thread hosts exactly one scheduler" and
// realized with runtime.LockOSThread, per spec.md §9's note that a host
// language's own thread-pinning primitive is the natural fit.
type Cord struct {
	name string
	sched *Scheduler
	root  *Task

	done chan struct{}

	// onExit is a one-shot slot: nil (nobody registered yet), a real
	// handler, or wontRunSentinel (the cord already finished and no
	// handler was registered in time). Accessed with CAS since the
	// registering task may live on a different cord than the one whose
	// goroutine clears it at exit.
	onExit atomic.Pointer[onExitHandler]
}

// CordStart spawns a new OS-thread-pinned cord running a scheduler whose
// root task is entry(args...). It returns immediately; use CordJoin or
// CordCojoin to wait for it to finish.
func CordStart(name string, log logger.Logger, entry EntryFunc, args ...interface{}) *Cord {
	c := &Cord{
		name: name,
		done: make(chan struct{}),
	}
	go c.run(name, log, entry, args)
	return c
}

func (c *Cord) run(name string, log logger.Logger, entry EntryFunc, args []interface{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	sched := NewScheduler(name, log)
	root := sched.CreateAndStart(name, entry, args...)
	c.sched = sched
	c.root = root

	sched.Run(root)

	result, diag := root.result, root.diag
	close(c.done)

	prev := c.onExit.Swap(wontRunSentinel)
	if prev != nil && prev != wontRunSentinel {
		(*prev)(result, diag)
	}
}

// Scheduler returns the cord's scheduler. Valid once CordStart's goroutine
// has begun running; nil briefly beforehand.
func (c *Cord) Scheduler() *Scheduler { return c.sched }

// CordJoin blocks the calling OS thread (not a fiber — a genuine goroutine
// block is fine here, since the caller is outside any scheduler) until the
// cord's root task has died, then returns its result and diagnostic.
func (c *Cord) CordJoin() (interface{}, error) {
	<-c.done
	return c.root.result, c.root.diag
}

// CordCojoin is CordJoin for a caller that is itself a fiber: rather than
// blocking its OS thread, the calling task suspends (non-cancellably, for
// the duration) and is woken via its own scheduler's cross-cord wake
// channel once the target cord's on-exit handler fires. This is spec.md
// §4.1's "cord-cojoin: a fiber-aware join that doesn't tie up a whole OS
// thread waiting on another cord."
func (c *Cord) CordCojoin(caller *Task) (interface{}, error) {
	type outcome struct {
		result interface{}
		diag   error
	}
	resultCh := make(chan outcome, 1)

	handler := onExitHandler(func(result interface{}, diag error) {
		resultCh <- outcome{result: result, diag: diag}
		caller.PostWakeup()
	})

	if !c.onExit.CompareAndSwap(nil, &handler) {
		// Someone already registered, or the cord already finished.
		// Either way the cord is done or about to be; just fall back to
		// CordJoin's behavior from here.
		return c.CordJoin()
	}

	prevCancellable := caller.SetCancellable(false)
	defer caller.SetCancellable(prevCancellable)

	for {
		select {
		case o := <-resultCh:
			return o.result, o.diag
		default:
		}
		caller.sched.park(caller)
	}
}
