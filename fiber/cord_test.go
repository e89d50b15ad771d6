package fiber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCordJoinReturnsRootResult(t *testing.T) {
	c := CordStart("worker-cord", nil, func(task *Task, args ...interface{}) (interface{}, error) {
		return 42, nil
	})

	result, err := c.CordJoin()
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestCordCojoinWakesCallerWithoutBlockingItsThread(t *testing.T) {
	target := CordStart("target-cord", nil, func(task *Task, args ...interface{}) (interface{}, error) {
		time.Sleep(20 * time.Millisecond)
		return "done", nil
	})

	callerSched := NewScheduler("caller-cord", nil)
	var gotResult interface{}
	var gotErr error

	root := callerSched.CreateAndStart("caller-root", func(task *Task, args ...interface{}) (interface{}, error) {
		gotResult, gotErr = target.CordCojoin(task)
		return nil, nil
	})

	callerSched.Run(root)

	require.NoError(t, gotErr)
	assert.Equal(t, "done", gotResult)
}
