package knowledge

import (
	"testing"

	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateLearnings_ThreeRoomsProduceAggregatedEntry(t *testing.T) {
	m := New()
	m.AcceptLearnings([]RawLearning{
		{RoomID: "room-a", Title: "use synthesis after research", Content: "merge with synthesis", Confidence: 0.6},
		{RoomID: "room-b", Title: "use synthesis after research", Content: "merge with synthesis", Confidence: 0.7},
		{RoomID: "room-c", Title: "use synthesis after research", Content: "merge with synthesis", Confidence: 0.8},
	})

	before := m.Version()
	produced := m.AggregateLearnings()
	after := m.Version()

	require.Len(t, produced, 1)
	assert.Equal(t, domain.KnowledgeSourceAggregated, produced[0].Source)
	assert.InDelta(t, 0.9, produced[0].Confidence, 0.001) // mean=0.7, +0.2
	assert.Equal(t, int64(1), after-before)
}

func TestAggregateLearnings_BelowThresholdProducesRoomLearning(t *testing.T) {
	m := New()
	m.AcceptLearnings([]RawLearning{
		{RoomID: "room-a", Title: "rare observation", Content: "one-off", Confidence: 0.9},
	})

	produced := m.AggregateLearnings()
	require.Len(t, produced, 1)
	assert.Equal(t, domain.KnowledgeSourceRoomLearning, produced[0].Source)
	assert.InDelta(t, 0.8, produced[0].Confidence, 0.001) // min(0.8, 0.9)
}

func TestAggregateLearnings_MarksProcessedOnce(t *testing.T) {
	m := New()
	m.AcceptLearnings([]RawLearning{
		{RoomID: "room-a", Title: "t", Content: "c", Confidence: 0.5},
	})
	first := m.AggregateLearnings()
	second := m.AggregateLearnings()
	assert.Len(t, first, 1)
	assert.Empty(t, second)
}

func TestGetSyncPush_EmptyWhenUpToDate(t *testing.T) {
	m := New()
	m.Put(domain.KnowledgeEntry{Title: "fact one"})
	push := m.GetSyncPush("room-a")
	assert.Len(t, push.Updated, 1)

	second := m.GetSyncPush("room-a")
	assert.Empty(t, second.Updated)
	assert.Empty(t, second.DeactivatedIDs)
}

func TestGetSyncPush_IncludesDeactivatedIDs(t *testing.T) {
	m := New()
	entry := m.Put(domain.KnowledgeEntry{Title: "fact one"})
	m.GetSyncPush("room-a") // catch room-a up

	m.Deactivate(entry.ID)
	push := m.GetSyncPush("room-a")
	assert.Contains(t, push.DeactivatedIDs, entry.ID)
}
