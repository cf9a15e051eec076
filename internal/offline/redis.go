package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/syncpad/backend/internal/models"
)

// Redis is the production Buffer. Queues live in redis lists so buffered
// edits survive a server restart.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to redis and verifies the connection
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Close closes the redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Push(ctx context.Context, userID, docID string, edit models.OfflineEdit) error {
	data, err := json.Marshal(edit)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, editKey(userID, docID), data).Err()
}

func (r *Redis) Count(ctx context.Context, userID, docID string) (int, error) {
	n, err := r.client.LLen(ctx, editKey(userID, docID)).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return int(n), nil
}

func (r *Redis) Drain(ctx context.Context, userID, docID string) ([]models.OfflineEdit, error) {
	key := editKey(userID, docID)

	pipe := r.client.TxPipeline()
	lrange := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	raw, err := lrange.Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	edits := make([]models.OfflineEdit, 0, len(raw))
	for _, item := range raw {
		var edit models.OfflineEdit
		if err := json.Unmarshal([]byte(item), &edit); err != nil {
			continue
		}
		edits = append(edits, edit)
	}
	sortByTimestamp(edits)
	return edits, nil
}

func editKey(userID, docID string) string {
	return fmt.Sprintf("offline:%s:%s", userID, docID)
}

func sortByTimestamp(edits []models.OfflineEdit) {
	sort.SliceStable(edits, func(i, j int) bool {
		return edits[i].ClientTimestamp < edits[j].ClientTimestamp
	})
}
