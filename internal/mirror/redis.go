package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/chainlog/internal/tracing"
)

// DefaultRedisKey is the list that holds mirrored records.
const DefaultRedisKey = "chainlog:mirror"

// RedisRepository implements Repository on a Redis list. Records are stored
// as JSON documents appended with RPUSH, so list order is insertion order.
type RedisRepository struct {
	client redis.UniversalClient
	key    string
}

// NewRedisRepository creates a RedisRepository. An empty key selects DefaultRedisKey.
func NewRedisRepository(client redis.UniversalClient, key string) *RedisRepository {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisRepository{client: client, key: key}
}

// OpenRedis parses a redis:// URL, connects and pings.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

type redisRecord struct {
	ID        string    `json:"id"`
	Details   string    `json:"details"`
	Digest    string    `json:"digest,omitempty"`
	Level     string    `json:"level,omitempty"`
	Identity  string    `json:"identity,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Save appends rec to the list.
func (r *RedisRepository) Save(ctx context.Context, rec Record) (_ *Record, err error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	stamp(&rec)

	ctx, endSpan := tracing.StartMirrorSpan(ctx, tracing.SystemRedis, tracing.MirrorOperationSave, r.key)
	defer func() { endSpan(err) }()

	data, err := json.Marshal(redisRecord(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to encode mirror record: %w", err)
	}
	if err := r.client.RPush(ctx, r.key, data).Err(); err != nil {
		return nil, fmt.Errorf("failed to push mirror record: %w", err)
	}
	return &rec, nil
}

// List returns records oldest first.
func (r *RedisRepository) List(ctx context.Context, limit int) (_ []*Record, err error) {
	ctx, endSpan := tracing.StartMirrorSpan(ctx, tracing.SystemRedis, tracing.MirrorOperationList, r.key)
	defer func() { endSpan(err) }()

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	values, err := r.client.LRange(ctx, r.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list mirror records: %w", err)
	}
	return decodeRedisRecords(values)
}

// QueryByIdentity retrieves records for identity, newest first.
func (r *RedisRepository) QueryByIdentity(ctx context.Context, identity string, limit int) (_ []*Record, err error) {
	ctx, endSpan := tracing.StartMirrorSpan(ctx, tracing.SystemRedis, tracing.MirrorOperationQuery, r.key)
	defer func() { endSpan(err) }()

	values, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror records: %w", err)
	}
	all, err := decodeRedisRecords(values)
	if err != nil {
		return nil, err
	}

	var results []*Record
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Identity != identity {
			continue
		}
		results = append(results, all[i])
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func decodeRedisRecords(values []string) ([]*Record, error) {
	records := make([]*Record, 0, len(values))
	for _, v := range values {
		var rr redisRecord
		if err := json.Unmarshal([]byte(v), &rr); err != nil {
			return nil, fmt.Errorf("failed to decode mirror record: %w", err)
		}
		rec := Record(rr)
		records = append(records, &rec)
	}
	return records, nil
}
