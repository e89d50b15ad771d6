package fiber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler() *Scheduler {
	return NewScheduler("test", nil)
}

func TestYieldFIFOOrdering(t *testing.T) {
	s := newTestScheduler()
	var order []string
	var mu = make(chan struct{}, 1)
	mu <- struct{}{}

	record := func(name string) {
		<-mu
		order = append(order, name)
		mu <- struct{}{}
	}

	root := s.CreateAndStart("root", func(task *Task, args ...interface{}) (interface{}, error) {
		a := task.Scheduler().CreateAndStart("a", func(ta *Task, _ ...interface{}) (interface{}, error) {
			record("a1")
			ta.Yield()
			record("a2")
			return nil, nil
		})
		a.SetJoinable(true)
		b := task.Scheduler().CreateAndStart("b", func(tb *Task, _ ...interface{}) (interface{}, error) {
			record("b1")
			tb.Yield()
			record("b2")
			return nil, nil
		})
		b.SetJoinable(true)
		task.Join(a)
		task.Join(b)
		return nil, nil
	})
	_ = root

	s.Run(root)

	require.Equal(t, []string{"a1", "b1", "a2", "b2"}, order)
}

func TestWakeupDoesNotDoubleEnqueue(t *testing.T) {
	s := newTestScheduler()
	var resumeCount int

	worker := s.CreateAndStart("worker", func(task *Task, _ ...interface{}) (interface{}, error) {
		resumeCount++
		task.Yield()
		resumeCount++
		return nil, nil
	})

	// First iteration: worker runs up to its Yield and parks.
	s.loopIteration()
	require.Equal(t, 1, resumeCount)

	// Wake the now-parked worker twice in a row; it must still only be
	// enqueued once, and thus only resume once more, not twice.
	s.Wakeup(worker)
	s.Wakeup(worker)
	require.Len(t, s.ready, 1)

	for !worker.IsDead() {
		s.loopIteration()
	}

	assert.Equal(t, 2, resumeCount)
}

func TestDeadPoolReusesDefaultStackTasks(t *testing.T) {
	s := newTestScheduler()

	var seenIDs []uint64
	for i := 0; i < 5; i++ {
		task := s.CreateAndStart("recyclable", func(ta *Task, _ ...interface{}) (interface{}, error) {
			return nil, nil
		})
		seenIDs = append(seenIDs, task.id)
		for !task.IsDead() {
			s.loopIteration()
		}
		// No extra iteration is needed: resumeOne hands the task to the
		// dead pool in the same iteration in which it dies.
	}

	assert.Greater(t, s.dead.Size(), 0, "expected at least one task recycled into the dead pool")
}

func TestTimedWaitWakesOnDeadline(t *testing.T) {
	s := newTestScheduler()
	var timedOut bool

	root := s.CreateAndStart("root", func(task *Task, _ ...interface{}) (interface{}, error) {
		var err error
		timedOut, err = task.WaitTimeout(10 * time.Millisecond)
		return nil, err
	})

	s.Run(root)

	assert.True(t, timedOut)
	assert.NoError(t, root.Diag())
}

func TestCancelObservedAtYield(t *testing.T) {
	s := newTestScheduler()

	root := s.CreateAndStart("root", func(task *Task, _ ...interface{}) (interface{}, error) {
		victim := task.Scheduler().CreateAndStart("victim", func(tv *Task, _ ...interface{}) (interface{}, error) {
			for i := 0; i < 100; i++ {
				if err := tv.Yield(); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		victim.SetJoinable(true)
		task.Yield()
		victim.Cancel()
		return task.Join(victim)
	})

	s.Run(root)

	assert.Error(t, root.Diag())
}
