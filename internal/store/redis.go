// This file implements Store using Redis, in the same style as
// gomind's orchestration.RedisTaskStore: each record is a JSON blob
// under a prefixed key, with SCAN used for the handful of listing
// operations that need it.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

// Redis implements Store on top of a go-redis/v8 client.
type Redis struct {
	client *redis.Client
	prefix string
	logger core.Logger
}

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	// KeyPrefix namespaces every key this store touches.
	// Default: "loop-symphony"
	KeyPrefix string
	Logger    core.Logger
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{KeyPrefix: "loop-symphony"}
}

// NewRedis connects to redisURL and returns a ready Store. The store owns
// the client it creates; callers release it with Redis.Close.
func NewRedis(redisURL string, config *RedisConfig) (*Redis, error) {
	if config == nil {
		defaultConfig := DefaultRedisConfig()
		config = &defaultConfig
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "loop-symphony"
	}
	if config.Logger == nil {
		config.Logger = core.NoOpLogger{}
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client, prefix: config.KeyPrefix, logger: config.Logger}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(parts ...string) string {
	key := r.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func (r *Redis) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", key, err)
	}
	return r.client.Set(ctx, key, data, 0).Err()
}

func (r *Redis) getJSON(ctx context.Context, op, key string, v interface{}) error {
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return wrapNotFound(op)
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	return json.Unmarshal([]byte(data), v)
}

func (r *Redis) scanJSON(ctx context.Context, pattern string, each func(data []byte)) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		for _, k := range keys {
			data, err := r.client.Get(ctx, k).Result()
			if err != nil {
				continue
			}
			each([]byte(data))
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (r *Redis) GetAppByAPIKey(ctx context.Context, apiKey string) (*domain.App, error) {
	var app domain.App
	if err := r.getJSON(ctx, "GetAppByAPIKey", r.key("app", apiKey), &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *Redis) GetUserProfile(ctx context.Context, appID, userID string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := r.getJSON(ctx, "GetUserProfile", r.key("user", appID, userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Redis) PutUserProfile(ctx context.Context, profile domain.UserProfile) error {
	return r.setJSON(ctx, r.key("user", profile.AppID, profile.ID), profile)
}

func (r *Redis) PutHeartbeat(ctx context.Context, hb domain.Heartbeat) error {
	return r.setJSON(ctx, r.key("heartbeat", hb.ID), hb)
}

func (r *Redis) GetHeartbeat(ctx context.Context, id string) (*domain.Heartbeat, error) {
	var hb domain.Heartbeat
	if err := r.getJSON(ctx, "GetHeartbeat", r.key("heartbeat", id), &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}

func (r *Redis) ListHeartbeats(ctx context.Context) ([]domain.Heartbeat, error) {
	var out []domain.Heartbeat
	err := r.scanJSON(ctx, r.key("heartbeat", "*"), func(data []byte) {
		var hb domain.Heartbeat
		if json.Unmarshal(data, &hb) == nil {
			out = append(out, hb)
		}
	})
	return out, err
}

func (r *Redis) ListActiveHeartbeats(ctx context.Context) ([]domain.Heartbeat, error) {
	var out []domain.Heartbeat
	err := r.scanJSON(ctx, r.key("heartbeat", "*"), func(data []byte) {
		var hb domain.Heartbeat
		if json.Unmarshal(data, &hb) == nil && hb.IsActive {
			out = append(out, hb)
		}
	})
	return out, err
}

func (r *Redis) SaveHeartbeatRun(ctx context.Context, run domain.HeartbeatRun) error {
	return r.setJSON(ctx, r.key("heartbeat-run", run.HeartbeatID, run.ID), run)
}

func (r *Redis) LastSuccessfulHeartbeatRun(ctx context.Context, heartbeatID string) (*time.Time, error) {
	var latest *time.Time
	err := r.scanJSON(ctx, r.key("heartbeat-run", heartbeatID, "*"), func(data []byte) {
		var run domain.HeartbeatRun
		if json.Unmarshal(data, &run) != nil || run.Status != domain.HeartbeatRunCompleted || run.CompletedAt == nil {
			return
		}
		if latest == nil || run.CompletedAt.After(*latest) {
			latest = run.CompletedAt
		}
	})
	return latest, err
}

func (r *Redis) PutKnowledgeEntry(ctx context.Context, entry domain.KnowledgeEntry) error {
	return r.setJSON(ctx, r.key("knowledge", entry.ID), entry)
}

func (r *Redis) ListKnowledgeEntries(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	var out []domain.KnowledgeEntry
	err := r.scanJSON(ctx, r.key("knowledge", "*"), func(data []byte) {
		var e domain.KnowledgeEntry
		if json.Unmarshal(data, &e) == nil {
			out = append(out, e)
		}
	})
	return out, err
}

func (r *Redis) GetRoomSyncState(ctx context.Context, roomID string) (int64, error) {
	val, err := r.client.Get(ctx, r.key("room-sync", roomID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func (r *Redis) PutRoomSyncState(ctx context.Context, roomID string, version int64) error {
	return r.client.Set(ctx, r.key("room-sync", roomID), version, 0).Err()
}

func (r *Redis) PutRoomLearning(ctx context.Context, learning domain.RoomLearningRecord) error {
	return r.setJSON(ctx, r.key("learning", learning.ID), learning)
}

func (r *Redis) ListUnprocessedRoomLearnings(ctx context.Context) ([]domain.RoomLearningRecord, error) {
	var out []domain.RoomLearningRecord
	err := r.scanJSON(ctx, r.key("learning", "*"), func(data []byte) {
		var l domain.RoomLearningRecord
		if json.Unmarshal(data, &l) == nil && !l.Processed {
			out = append(out, l)
		}
	})
	return out, err
}

func (r *Redis) MarkRoomLearningsProcessed(ctx context.Context, ids []string) error {
	for _, id := range ids {
		var l domain.RoomLearningRecord
		key := r.key("learning", id)
		if err := r.getJSON(ctx, "MarkRoomLearningsProcessed", key, &l); err != nil {
			continue
		}
		l.Processed = true
		if err := r.setJSON(ctx, key, l); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) PutApprovalRequest(ctx context.Context, req domain.ApprovalRequest) error {
	return r.setJSON(ctx, r.key("approval", req.ID), req)
}

func (r *Redis) GetApprovalRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	if err := r.getJSON(ctx, "GetApprovalRequest", r.key("approval", id), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *Redis) SaveErrorRecord(ctx context.Context, rec domain.ErrorRecord) error {
	return r.setJSON(ctx, r.key("error", rec.ID), rec)
}

func (r *Redis) ListErrorRecords(ctx context.Context, since time.Time) ([]domain.ErrorRecord, error) {
	var out []domain.ErrorRecord
	err := r.scanJSON(ctx, r.key("error", "*"), func(data []byte) {
		var rec domain.ErrorRecord
		if json.Unmarshal(data, &rec) == nil && !rec.OccurredAt.Before(since) {
			out = append(out, rec)
		}
	})
	return out, err
}

var _ Store = (*Redis)(nil)
