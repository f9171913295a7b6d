package tasks

import (
	"testing"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCancelNonExistentReturnsFalse(t *testing.T) {
	m := New()
	assert.False(t, m.Cancel("missing"))
}

func TestCancelTwiceIsIdempotent(t *testing.T) {
	m := New()
	m.Register("t1", "app", "")
	called := 0
	m.Start("t1", func() { called++ }, 5)

	assert.True(t, m.Cancel("t1"))
	assert.False(t, m.Cancel("t1")) // already CANCELLING: second call is a no-op
	assert.Equal(t, 1, called)
}

func TestGetActiveFiltersByState(t *testing.T) {
	m := New()
	m.Register("t1", "app1", "")
	m.Start("t1", func() {}, 1)
	m.Register("t2", "app1", "")
	m.Complete("t2", domain.TaskResponse{})

	active := m.GetActive("app1", "")
	assert.Len(t, active, 1)
	assert.Equal(t, "t1", active[0].ID)
}

func TestLifecycleTransitions(t *testing.T) {
	m := New()
	m.Register("t1", "app", "user")
	task, _ := m.Get("t1")
	assert.Equal(t, StateQueued, task.State)

	m.Start("t1", func() {}, 3)
	task, _ = m.Get("t1")
	assert.Equal(t, StateRunning, task.State)

	m.Complete("t1", domain.TaskResponse{RequestID: "t1"})
	task, _ = m.Get("t1")
	assert.Equal(t, StateCompleted, task.State)
	assert.True(t, task.State.IsTerminal())
}
