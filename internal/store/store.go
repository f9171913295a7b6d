// Package store defines the persistence contract (spec §6's semantic
// table layout) and provides an in-memory implementation for tests and
// single-process deployments, plus a Redis-backed implementation for
// everything else.
package store

import (
	"context"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

// Store is the single persistence seam every stateful component reads
// and writes through. The core never assumes transactions beyond
// single-row upserts; callers are responsible for their own retry logic
// around transport-class failures.
type Store interface {
	GetAppByAPIKey(ctx context.Context, apiKey string) (*domain.App, error)
	GetUserProfile(ctx context.Context, appID, userID string) (*domain.UserProfile, error)
	PutUserProfile(ctx context.Context, profile domain.UserProfile) error

	PutHeartbeat(ctx context.Context, hb domain.Heartbeat) error
	GetHeartbeat(ctx context.Context, id string) (*domain.Heartbeat, error)
	ListHeartbeats(ctx context.Context) ([]domain.Heartbeat, error)
	ListActiveHeartbeats(ctx context.Context) ([]domain.Heartbeat, error)

	SaveHeartbeatRun(ctx context.Context, run domain.HeartbeatRun) error
	LastSuccessfulHeartbeatRun(ctx context.Context, heartbeatID string) (*time.Time, error)

	PutKnowledgeEntry(ctx context.Context, entry domain.KnowledgeEntry) error
	ListKnowledgeEntries(ctx context.Context) ([]domain.KnowledgeEntry, error)

	GetRoomSyncState(ctx context.Context, roomID string) (int64, error)
	PutRoomSyncState(ctx context.Context, roomID string, version int64) error

	PutRoomLearning(ctx context.Context, learning domain.RoomLearningRecord) error
	ListUnprocessedRoomLearnings(ctx context.Context) ([]domain.RoomLearningRecord, error)
	MarkRoomLearningsProcessed(ctx context.Context, ids []string) error

	PutApprovalRequest(ctx context.Context, req domain.ApprovalRequest) error
	GetApprovalRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error)

	SaveErrorRecord(ctx context.Context, rec domain.ErrorRecord) error
	ListErrorRecords(ctx context.Context, since time.Time) ([]domain.ErrorRecord, error)
}

// wrapNotFound mirrors core.ErrNotFound through the Store boundary so
// callers can use core.IsNotFound regardless of which backend answered.
func wrapNotFound(op string) error {
	return core.NewFrameworkError(op, "store", core.ErrNotFound)
}
