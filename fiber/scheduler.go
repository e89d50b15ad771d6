package fiber

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dbcore/fiberdb/errors"
	"github.com/dbcore/fiberdb/logger"
)

// reservedIDCeiling is the lowest ID a user task can ever receive. IDs
// below it are never handed out (the first task a scheduler creates, such
// as a cord's root task, gets ID 100), mirroring the original system's own low-ID reservation
// for its scheduler/idle fibers.
const reservedIDCeiling = 100

// Scheduler owns one cord's worth of tasks: a ready queue, a registry of
// every live task by ID, a dead-task pool available for reuse, and the
// event loop that blocks the cord when there is nothing ready to run.
//
// Because the scheduler only ever resumes one task's goroutine at a time
// (see package doc), every field below is read and written exclusively
// from the cord's own loop goroutine and is not itself synchronized; the
// sole exception is the event loop's wake channel, which is built to be
// safe for concurrent senders.
type Scheduler struct {
	name   string
	logger logger.Logger

	nextID   uint64
	tasks    map[uint64]*Task
	ready    []*Task
	dead     *deadPool
	loop     *eventLoop

	root *Task

	closing bool

	idlePoll time.Duration
}

// DefaultIdlePollTimeout is how long loopIteration blocks waiting for
// cross-cord wakeups when nothing is ready and no timer is pending, unless
// overridden by SetIdlePollTimeout (internal/config's poll-idle-timeout).
const DefaultIdlePollTimeout = 50 * time.Millisecond

// NewScheduler creates a scheduler for one cord, named for diagnostics.
func NewScheduler(name string, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NopLogger
	}
	return &Scheduler{
		name:     name,
		logger:   log,
		nextID:   reservedIDCeiling,
		tasks:    make(map[uint64]*Task),
		dead:     newDeadPool(),
		loop:     newEventLoop(),
		idlePoll: DefaultIdlePollTimeout,
	}
}

// Name returns the scheduler's diagnostic name.
func (s *Scheduler) Name() string { return s.name }

// SetIdlePollTimeout overrides how long the event loop blocks when idle.
// d <= 0 resets it to DefaultIdlePollTimeout.
func (s *Scheduler) SetIdlePollTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultIdlePollTimeout
	}
	s.idlePoll = d
}

// FindByID looks up a live task by ID, as spec.md §4.1 names
// ("FindByID: locate a live task by its identifier").
func (s *Scheduler) FindByID(id uint64) (*Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// CreateTask allocates a task (recycling a dead one if available) without
// starting it. stackSize <= 0 means DefaultStackSize.
func (s *Scheduler) CreateTask(name string, stackSize int, entry EntryFunc) *Task {
	custom := stackSize > 0 && stackSize != DefaultStackSize
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}

	var t *Task
	if !custom {
		t = s.dead.acquire()
	}
	if t == nil {
		t = &Task{
			arena:  NewArena(),
			resume: make(chan struct{}),
			parked: make(chan struct{}),
		}
	} else {
		t.arena.Reset()
	}

	id := atomic.AddUint64(&s.nextID, 1) - 1
	t.id = id
	t.name = truncateName(name)
	t.sched = s
	t.flags = Cancellable
	if custom {
		t.flags |= CustomStack
	}
	t.entry = entry
	t.args = nil
	t.result = nil
	t.diag = nil
	t.onYield = nil
	t.onStop = nil
	t.waiters = nil
	t.csw = 0
	t.stackSize = stackSize
	t.stackTouched = false
	t.started = false
	t.timedOut = false

	s.tasks[id] = t
	return t
}

// Start makes t ready to run and spawns its goroutine. args are passed
// through to its EntryFunc. Matches spec.md §4.1's "create-then-start
// split, so callers may register triggers before the task can possibly
// run".
func (s *Scheduler) Start(t *Task, args ...interface{}) {
	if t.started {
		return
	}
	t.started = true
	t.args = args
	go s.runTask(t)
	s.enqueueReady(t)
}

// CreateAndStart is the common case of CreateTask followed immediately by
// Start.
func (s *Scheduler) CreateAndStart(name string, entry EntryFunc, args ...interface{}) *Task {
	t := s.CreateTask(name, DefaultStackSize, entry)
	s.Start(t, args...)
	return t
}

func (s *Scheduler) enqueueReady(t *Task) {
	if t.flags.has(Ready) || t.flags.has(Dead) {
		return
	}
	t.flags |= Ready
	s.ready = append(s.ready, t)
}

// Wakeup moves a suspended task back onto the ready queue. Waking an
// already-ready or dead task is a silent no-op (spec.md §8: "waking a task
// twice before it resumes enqueues it once").
func (s *Scheduler) Wakeup(t *Task) {
	s.enqueueReady(t)
}

// WakeupByID is Wakeup looked up by ID; used by the event loop's wake
// channel, which only carries IDs across goroutine boundaries.
func (s *Scheduler) WakeupByID(id uint64) {
	if t, ok := s.tasks[id]; ok {
		s.Wakeup(t)
	}
}

// Cancel requests cancellation of t. If t is Cancellable, it is woken (if
// parked) so it can observe the cancellation promptly; otherwise the flag
// is set and will be observed at t's next suspension point.
func (s *Scheduler) Cancel(t *Task) {
	if t.flags.has(Dead) {
		return
	}
	t.flags |= Cancelled
	if t.flags.has(Cancellable) {
		s.Wakeup(t)
	}
}

// Join blocks caller until target dies, then returns target's result and
// diagnostic, recycling target in the process (spec.md §4.1: "join recycles
// target"; §3: a JOINABLE task "is held until some other task consumes its
// result"). caller must itself be the currently running task. Returns an
// error immediately if target is not Joinable.
func (s *Scheduler) Join(caller, target *Task) (interface{}, error) {
	if !target.IsJoinable() {
		return nil, errors.New(errors.IllegalParams, "fiber "+target.name+" is not joinable")
	}
	for !target.flags.has(Dead) {
		target.waiters = append(target.waiters, caller)
		s.park(caller)
	}
	result, diag := target.result, target.diag
	s.reclaimJoined(target)
	return result, diag
}

// reclaimJoined recycles target after a Join has consumed its result (a
// custom-stack target is only removed from s.tasks, never pooled). A
// Joinable target may have more than one waiter (several tasks joined on
// the same target); only the first Join call to observe it still present in
// s.tasks actually recycles it, so a second joiner never double-releases the
// same Task into the dead pool.
func (s *Scheduler) reclaimJoined(target *Task) {
	if _, live := s.tasks[target.id]; !live {
		return
	}
	if target.flags.has(CustomStack) {
		delete(s.tasks, target.id)
		return
	}
	s.recycle(target)
}

// runTask is the body of the dedicated goroutine backing one task. It
// blocks on resume, runs the entry function exactly once to completion (or
// panic), marks the task Dead, signals the scheduler on parked one last
// time and returns.
func (s *Scheduler) runTask(t *Task) {
	<-t.resume
	result, err := s.invokeEntry(t)
	t.result = result
	t.diag = err
	t.flags |= Dead
	t.flags &^= Ready
	t.onStop.fire(t)
	waiters := t.waiters
	t.waiters = nil
	for _, w := range waiters {
		s.enqueueReady(w)
	}
	t.parked <- struct{}{}
}

func (s *Scheduler) invokeEntry(t *Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.SystemError, "fiber %q panicked: %v", t.name, r)
		}
	}()
	return t.entry(t, t.args...)
}

// park is called from the currently-running task's own goroutine (via
// Task.Yield/Sleep/Join) to hand control back to the scheduler loop. It
// must only ever be invoked with exactly one task in flight, which is
// guaranteed because the loop blocks on <-t.parked before doing anything
// else.
func (s *Scheduler) park(t *Task) {
	t.csw++
	t.onYield.fire(t)
	t.parked <- struct{}{}
	<-t.resume
}

// resumeOne hands control to t and blocks until it parks again (by
// yielding, sleeping, joining, or dying).
func (s *Scheduler) resumeOne(t *Task) {
	t.flags &^= Ready
	t.resume <- struct{}{}
	<-t.parked
	if t.flags.has(Dead) && !t.flags.has(Joinable) {
		if t.flags.has(CustomStack) {
			delete(s.tasks, t.id)
		} else {
			s.recycle(t)
		}
	}
}

func (s *Scheduler) recycle(t *Task) {
	delete(s.tasks, t.id)
	s.dead.release(t)
}

// loopIteration runs one pass of the event loop: every currently-ready
// task is resumed exactly once (a snapshot taken at the start of the
// iteration, per spec.md §4.1's FIFO "schedule list" semantics — a task
// that re-readies itself mid-iteration runs again only on the next
// iteration), then any expired timers and drained cross-cord wakeups are
// applied, and finally the loop blocks for new external work if nothing
// is ready.
func (s *Scheduler) loopIteration() {
	scheduleList := s.ready
	s.ready = nil
	for _, t := range scheduleList {
		if t.flags.has(Dead) {
			continue
		}
		s.resumeOne(t)
	}

	for _, id := range s.loop.drainWake() {
		s.WakeupByID(id)
	}

	now := time.Now()
	for _, e := range s.loop.expireTimers(now) {
		if e.cancelled {
			continue
		}
		e.task.timedOut = true
		s.Wakeup(e.task)
	}

	if len(s.ready) > 0 {
		return
	}

	timeout := s.idlePoll
	if d, ok := s.loop.nextDeadline(); ok {
		if until := time.Until(d); until > 0 {
			timeout = until
		} else {
			timeout = 0
		}
	}
	s.pollExternal(timeout)
}

// pollExternal blocks up to timeout waiting for a cross-cord wakeup,
// giving the OS thread back while there is genuinely nothing to do.
func (s *Scheduler) pollExternal(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	select {
	case req := <-s.loop.wake:
		s.WakeupByID(req.taskID)
	case <-time.After(timeout):
	}
}

// Run drives the scheduler until root dies, the way a cord's goroutine
// does for its root task (see cord.go).
func (s *Scheduler) Run(root *Task) {
	s.root = root
	for !root.flags.has(Dead) {
		s.loopIteration()
	}
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("Scheduler(%s, %d live, %d ready)", s.name, len(s.tasks), len(s.ready))
}
