package fiber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockingCallReturnsResultWithoutBlockingOtherTasks(t *testing.T) {
	s := newTestScheduler()
	pool := NewWorkerPool(2)
	defer pool.Close()

	var otherRanWhileBlocked bool

	blocker := s.CreateAndStart("blocker", func(task *Task, _ ...interface{}) (interface{}, error) {
		return pool.BlockingCall(task, func() (interface{}, error) {
			time.Sleep(15 * time.Millisecond)
			return "ok", nil
		})
	})
	blocker.SetJoinable(true)

	other := s.CreateAndStart("other", func(task *Task, _ ...interface{}) (interface{}, error) {
		otherRanWhileBlocked = true
		return nil, nil
	})
	_ = other

	root := s.CreateAndStart("root", func(task *Task, _ ...interface{}) (interface{}, error) {
		return task.Join(blocker)
	})

	s.Run(root)

	require.NoError(t, root.Diag())
	assert.Equal(t, "ok", root.Result())
	assert.True(t, otherRanWhileBlocked)
}
