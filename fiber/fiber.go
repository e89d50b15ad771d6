// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package fiber implements a cooperative task runtime: a per-OS-thread
// scheduler ("cord") drives a non-blocking event loop that multiplexes many
// user-level tasks ("fibers"). Tasks suspend only at explicit points (yield,
// sleep, timed wait, join, a blocking-I/O wrapper); there is no preemption.
//
// Each task maps onto one dedicated goroutine, parked on a single-slot
// channel between suspension points, and the scheduler resumes at most one
// task's goroutine at a time per cord. That serialization is what gives the
// package's otherwise-unsynchronized scheduler state (ready queue, flags,
// registry) its safety: it is never touched by two goroutines at once.
package fiber

import (
	"time"

	"github.com/dbcore/fiberdb/errors"
)

// Flags are the boolean attributes carried by a Task.
type Flags uint8

const (
	// Ready means the task is enqueued on its scheduler's ready list,
	// awaiting resume. Cleared the moment the scheduler hands it control.
	Ready Flags = 1 << iota
	// Dead means the task's entry function has returned or panicked.
	Dead
	// Cancelled means Cancel was called; observed at the next suspension
	// point (or TestCancel) if the task is Cancellable.
	Cancelled
	// Cancellable means cancellation is observed at suspension points.
	// A task may clear this to make a section of code uninterruptible.
	Cancellable
	// Joinable means some other task may Join on this one to collect its
	// result and diagnostic; a joinable task is retained (not recycled)
	// until joined.
	Joinable
	// CustomStack marks a task created with a non-default stack size; such
	// a task is destroyed rather than pooled when it dies (see Scheduler's
	// dead pool in pool.go).
	CustomStack
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// MaxNameLength bounds Task names, mirroring the original system's
// FIBER_NAME_INLINE-style cap (spec.md §3: "human-readable name (bounded)").
// Names longer than this are truncated, not rejected.
const MaxNameLength = 64

// Default stack sizing, named after the original system's own constants
// (confirmed against original_source/src/lib/core/fiber.c:
// FIBER_STACK_SIZE_DEFAULT = 524288, FIBER_STACK_SIZE_MINIMAL = 16384).
// Go manages goroutine stacks itself, so these are bookkeeping values used
// for pool-retention decisions and diagnostics rather than real mmap sizes.
const (
	DefaultStackSize   = 524288
	MinimalStackSize   = 16384
	DefaultWatermarkAt = DefaultStackSize - DefaultStackSize/8
)

// EntryFunc is a task's body. It receives the Task handle it runs as (used
// to call Yield, Sleep, TestCancel, etc.) and the arguments passed to
// Scheduler.Start. It returns a result value (delivered to a joiner) and an
// error (delivered via the task's diagnostic slot).
type EntryFunc func(t *Task, args ...interface{}) (interface{}, error)

// Task is a stackful-coroutine stand-in: one cooperative unit of execution,
// privately owning an arena, a diagnostic slot, and (conceptually) a stack.
// See package doc for how "stack" maps onto a dedicated goroutine.
type Task struct {
	id   uint64
	name string
	sched *Scheduler

	flags Flags

	entry EntryFunc
	args  []interface{}
	result interface{}
	diag  error

	arena *Arena

	onYield *triggerList
	onStop  *triggerList

	waiters []*Task // tasks parked in Join, waiting for this task to die

	csw int // context-switch counter

	stackSize    int
	stackTouched bool // watermark: did this task's goroutine ever run past a shallow point

	resume chan struct{}   // scheduler -> task: proceed
	parked chan struct{}   // task -> scheduler: I've suspended or finished
	started bool

	timedOut bool // set by the event loop when a timed wait expires first
}

// ID returns the task's scheduler-unique, monotonically increasing
// identifier.
func (t *Task) ID() uint64 { return t.id }

// Name returns the task's bounded human-readable name.
func (t *Task) Name() string { return t.name }

// Scheduler returns the scheduler that owns this task.
func (t *Task) Scheduler() *Scheduler { return t.sched }

// Arena returns the task's private bump allocator, reset when the task is
// recycled.
func (t *Task) Arena() *Arena { return t.arena }

// Result returns the value the entry function returned, valid once the task
// is Dead.
func (t *Task) Result() interface{} { return t.result }

// Diag returns the task's current diagnostic error, or nil.
func (t *Task) Diag() error { return t.diag }

// SetDiag installs a diagnostic error on the task, as user code or an
// internal failure does on error.
func (t *Task) SetDiag(err error) { t.diag = err }

// ClearDiag clears the diagnostic slot explicitly, per spec.md §7
// ("Slots are cleared on ... explicit clear").
func (t *Task) ClearDiag() { t.diag = nil }

// IsDead reports whether the task's entry function has returned.
func (t *Task) IsDead() bool { return t.flags.has(Dead) }

// IsCancelled reports whether Cancel has been called on this task, whether
// or not it has been observed yet.
func (t *Task) IsCancelled() bool { return t.flags.has(Cancelled) }

// IsJoinable reports whether some other task may Join on this one.
func (t *Task) IsJoinable() bool { return t.flags.has(Joinable) }

// ContextSwitches returns how many times this task has yielded control.
func (t *Task) ContextSwitches() int { return t.csw }

// SetJoinable toggles whether this task may be joined. Must be called by
// the task on itself (or before it is started) and restored on every exit
// path if toggled temporarily, mirroring spec.md §4.1.
func (t *Task) SetJoinable(joinable bool) {
	if joinable {
		t.flags |= Joinable
	} else {
		t.flags &^= Joinable
	}
}

// SetCancellable toggles whether cancellation is observed at this task's
// suspension points, returning the prior value so a critical section can
// restore it:
//
//	prev := t.SetCancellable(false)
//	defer t.SetCancellable(prev)
func (t *Task) SetCancellable(cancellable bool) bool {
	prev := t.flags.has(Cancellable)
	if cancellable {
		t.flags |= Cancellable
	} else {
		t.flags &^= Cancellable
	}
	return prev
}

// TestCancel converts a pending cancellation into a FiberIsCancelled error
// without otherwise suspending. It is the explicit "voluntary test-cancel
// call" named in spec.md §4.1.
func (t *Task) TestCancel() error {
	if t.flags.has(Cancelled) {
		return errors.New(errors.FiberIsCancelled, "fiber "+t.name+" is cancelled")
	}
	return nil
}

// observeCancel is called at every suspension point; if the task is both
// Cancelled and Cancellable, it converts that into a diagnostic and returns
// true so the caller can decide how to unwind.
func (t *Task) observeCancel() bool {
	if t.flags.has(Cancelled) && t.flags.has(Cancellable) {
		t.diag = errors.New(errors.FiberIsCancelled, "fiber "+t.name+" is cancelled")
		return true
	}
	return false
}

func truncateName(name string) string {
	if len(name) <= MaxNameLength {
		return name
	}
	return name[:MaxNameLength]
}

// sleepDeadline is a convenience used by Sleep/WaitTimeout to compute an
// absolute wake time, kept here since both the scheduler and the event
// loop need it.
func sleepDeadline(d time.Duration) time.Time {
	return time.Now().Add(d)
}
