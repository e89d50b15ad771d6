package fiber

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnYieldFiresEveryYield(t *testing.T) {
	s := newTestScheduler()
	var fired int

	root := s.CreateAndStart("root", func(task *Task, _ ...interface{}) (interface{}, error) {
		task.OnYield(func(*Task) { fired++ })
		task.Yield()
		task.Yield()
		return nil, nil
	})

	s.Run(root)

	assert.Equal(t, 2, fired)
}

func TestOnYieldSelfRemoval(t *testing.T) {
	s := newTestScheduler()
	var fired int

	root := s.CreateAndStart("root", func(task *Task, _ ...interface{}) (interface{}, error) {
		var handle TriggerHandle
		handle = task.OnYield(func(*Task) {
			fired++
			handle.Remove()
		})
		task.Yield()
		task.Yield()
		task.Yield()
		return nil, nil
	})

	s.Run(root)

	assert.Equal(t, 1, fired)
}

func TestOnStopFiresOnceBeforeWaitersWake(t *testing.T) {
	s := newTestScheduler()
	var stopFired bool
	var diagAtStop error

	worker := s.CreateAndStart("worker", func(task *Task, _ ...interface{}) (interface{}, error) {
		task.OnStop(func(tt *Task) {
			stopFired = true
			diagAtStop = tt.Diag()
		})
		return nil, nil
	})
	worker.SetJoinable(true)

	root := s.CreateAndStart("root", func(task *Task, _ ...interface{}) (interface{}, error) {
		return task.Join(worker)
	})

	s.Run(root)

	assert.True(t, stopFired)
	assert.NoError(t, diagAtStop)
}

func TestPanickingTriggerDoesNotCrashTask(t *testing.T) {
	s := newTestScheduler()

	root := s.CreateAndStart("root", func(task *Task, _ ...interface{}) (interface{}, error) {
		task.OnYield(func(*Task) { panic("boom") })
		task.Yield()
		return "survived", nil
	})

	s.Run(root)

	assert.NoError(t, root.Diag())
	assert.Equal(t, "survived", root.Result())
}
