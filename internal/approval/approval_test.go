package approval

import (
	"testing"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_UnknownIDReturnsNotFound(t *testing.T) {
	r := New()
	_, err := r.Resolve("does-not-exist", true, "alice")
	assert.ErrorIs(t, err, core.ErrApprovalNotFound)
}

func TestResolve_TwiceReturnsNotFoundOnSecondCall(t *testing.T) {
	r := New()
	req := r.Submit("conductor-1", "financial_data", "transfer funds", nil, 0, 0)

	_, err := r.Resolve(req.ID, true, "alice")
	require.NoError(t, err)

	_, err = r.Resolve(req.ID, true, "bob")
	assert.ErrorIs(t, err, core.ErrApprovalNotFound)
}

func TestExpireStale_MarksLapsedRequestsExpired(t *testing.T) {
	current := time.Unix(1000, 0)
	r := New(WithClock(func() time.Time { return current }))
	req := r.Submit("conductor-1", "research", "broad search", nil, 0, 1)

	current = current.Add(5 * time.Second)
	count := r.ExpireStale()
	assert.Equal(t, 1, count)

	got, err := r.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, "EXPIRED", string(got.Status))
}

func TestGetPending_FiltersByConductorID(t *testing.T) {
	r := New()
	r.Submit("conductor-1", "research", "a", nil, 0, 0)
	r.Submit("conductor-2", "research", "b", nil, 0, 0)

	pending := r.GetPending("conductor-1")
	require.Len(t, pending, 1)
	assert.Equal(t, "conductor-1", pending[0].ConductorID)
}
