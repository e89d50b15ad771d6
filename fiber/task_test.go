package fiber

import (
	"testing"

	"github.com/dbcore/fiberdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinOnNonJoinableTaskErrors(t *testing.T) {
	s := newTestScheduler()

	notJoinable := s.CreateAndStart("not-joinable", func(task *Task, _ ...interface{}) (interface{}, error) {
		return nil, nil
	})

	root := s.CreateAndStart("root", func(task *Task, _ ...interface{}) (interface{}, error) {
		return task.Join(notJoinable)
	})

	s.Run(root)

	require.Error(t, root.Diag())
	assert.True(t, errors.Is(root.Diag(), errors.IllegalParams))
}

func TestRescheduleLetsOtherReadyTaskRunFirst(t *testing.T) {
	s := newTestScheduler()
	var order []string

	a := s.CreateAndStart("a", func(ta *Task, _ ...interface{}) (interface{}, error) {
		order = append(order, "a1")
		require.NoError(t, ta.Reschedule())
		order = append(order, "a2")
		return nil, nil
	})
	b := s.CreateAndStart("b", func(tb *Task, _ ...interface{}) (interface{}, error) {
		order = append(order, "b1")
		return nil, nil
	})

	for !a.IsDead() || !b.IsDead() {
		s.loopIteration()
	}

	require.Equal(t, []string{"a1", "b1", "a2"}, order)
}

func TestNameTruncation(t *testing.T) {
	s := newTestScheduler()
	long := make([]byte, MaxNameLength*2)
	for i := range long {
		long[i] = 'x'
	}
	task := s.CreateTask(string(long), 0, func(*Task, ...interface{}) (interface{}, error) { return nil, nil })
	assert.Len(t, task.Name(), MaxNameLength)
}

func TestArenaAllocAndReset(t *testing.T) {
	a := NewArena()
	b1 := a.Alloc(100)
	b2 := a.Alloc(200)
	assert.Equal(t, 100, len(b1))
	assert.Equal(t, 200, len(b2))
	assert.Equal(t, 300, a.Used())

	a.Reset()
	assert.Equal(t, 0, a.Used())
}

func TestArenaGrowsPastInitialCapacity(t *testing.T) {
	a := NewArena()
	big := a.Alloc(defaultArenaSize * 3)
	assert.Len(t, big, defaultArenaSize*3)
}

func TestCustomStackTaskIsNeverRecycled(t *testing.T) {
	s := newTestScheduler()
	before := s.dead.Size()

	task := s.CreateTask("custom", MinimalStackSize, func(*Task, ...interface{}) (interface{}, error) {
		return nil, nil
	})
	s.Start(task)
	for !task.IsDead() {
		s.loopIteration()
	}

	assert.Equal(t, before, s.dead.Size())
}
