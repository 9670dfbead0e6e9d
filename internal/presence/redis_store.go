package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-engine/internal/models"
)

// RedisStore keeps one hash per user: online flag, status text and last_seen in unix millis.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore returns a store whose keys expire after ttl of inactivity. Zero keeps them forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func key(userID int64) string { return fmt.Sprintf("presence:%d", userID) }

func (r *RedisStore) Save(ctx context.Context, p models.Presence) error {
	fields := map[string]interface{}{"online": strconv.FormatBool(p.Online), "status": p.StatusMessage}
	if p.LastSeen != nil {
		fields["last_seen"] = p.LastSeen.UnixMilli()
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key(p.UserID), fields)
	if r.ttl > 0 {
		pipe.Expire(ctx, key(p.UserID), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Load(ctx context.Context, userID int64) (models.Presence, bool, error) {
	vals, err := r.rdb.HGetAll(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(vals) == 0) {
		return models.Presence{}, false, nil
	}
	if err != nil {
		return models.Presence{}, false, err
	}

	p := models.Presence{UserID: userID}
	p.Online, _ = strconv.ParseBool(vals["online"])
	p.StatusMessage = vals["status"]
	if raw, ok := vals["last_seen"]; ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return models.Presence{}, false, fmt.Errorf("parse last_seen for user %d: %w", userID, err)
		}
		seen := time.UnixMilli(ms).UTC()
		p.LastSeen = &seen
	}
	return p, true, nil
}

var _ Store = (*RedisStore)(nil)
