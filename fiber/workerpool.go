package fiber

import "sync"

// WorkerPool runs blocking work (anything that would stall a whole OS
// thread — file I/O, cgo, a slow syscall) on a bounded set of helper
// goroutines, outside of any cord, and reports completion back through the
// calling task's scheduler rather than touching scheduler state from a
// foreign goroutine directly.
//
// This generalizes the block/unblock worker-pool pattern used elsewhere in
// this codebase for offloading blocking calls off of a size-limited pool
// of goroutines: here the "unblock" signal is delivered by posting to the
// event loop's wake channel (eventloop.go), which is the same mechanism
// the scheduler already uses for every other cross-cord wakeup, so a
// WorkerPool never needs to know anything about Task or Scheduler
// internals beyond PostWakeup.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewWorkerPool creates a pool that runs at most size blocking calls
// concurrently.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{sem: make(chan struct{}, size)}
}

// BlockingCall suspends the calling task, runs fn on a pool goroutine, and
// resumes the task (back on its own cord) once fn returns, delivering fn's
// result and error as the return values of BlockingCall itself.
//
// fn must not touch t or its scheduler; it runs concurrently with
// whatever else t's cord is doing while fn is in flight.
func (p *WorkerPool) BlockingCall(t *Task, fn func() (interface{}, error)) (interface{}, error) {
	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		result, err := fn()
		done <- outcome{result: result, err: err}
		t.PostWakeup()
	}()

	prevCancellable := t.SetCancellable(false)
	for {
		select {
		case o := <-done:
			t.SetCancellable(prevCancellable)
			return o.result, o.err
		default:
		}
		t.sched.park(t)
	}
}

// Close waits for every in-flight BlockingCall to finish. Intended for
// orderly shutdown, not for cancelling work in progress.
func (p *WorkerPool) Close() {
	p.wg.Wait()
}
