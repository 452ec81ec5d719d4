package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

const (
	defaultRunTTL      = 7 * 24 * time.Hour
	defaultRedisPrefix = "promptfolio"
)

// RedisRunStore keeps execution records in Redis. Records are stored as
// JSON under <prefix>:run:<id> and indexed by start time in a global sorted
// set and one per workflow.
type RedisRunStore struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisRunStore.
type RedisOption func(*RedisRunStore)

// WithTTL sets how long records are kept. Default is 7 days; 0 keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisRunStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix. Default is "promptfolio".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisRunStore) {
		s.prefix = prefix
	}
}

// NewRedisRunStore creates a Redis-backed run store.
func NewRedisRunStore(client redis.Cmdable, opts ...RedisOption) *RedisRunStore {
	s := &RedisRunStore{
		client: client,
		ttl:    defaultRunTTL,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveRun writes the record and refreshes its index entries in one pipeline.
func (s *RedisRunStore) SaveRun(ctx context.Context, run *schema.WorkflowExecution) error {
	if run == nil || run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run needs an id")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}

	score := float64(run.StartedAt.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(run.ID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: run.ID})
	pipe.ZAdd(ctx, s.workflowIndexKey(run.WorkflowID), redis.Z{Score: score, Member: run.ID})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.workflowIndexKey(run.WorkflowID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a record by ID.
func (s *RedisRunStore) GetRun(ctx context.Context, id string) (*schema.WorkflowExecution, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storeNotFound("execution", id)
		}
		return nil, fmt.Errorf("redis get run %s: %w", id, err)
	}
	var run schema.WorkflowExecution
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", id, err)
	}
	return &run, nil
}

// ListRuns walks the relevant index newest first. Index entries whose
// record has expired are pruned as they are found.
func (s *RedisRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.WorkflowExecution, error) {
	index := s.indexKey()
	if filter.WorkflowID != "" {
		index = s.workflowIndexKey(filter.WorkflowID)
	}
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if filter.Since != nil {
		rng.Min = fmt.Sprintf("%d", filter.Since.UnixNano())
	}
	ids, err := s.client.ZRevRangeByScore(ctx, index, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget runs: %w", err)
	}

	var (
		runs  []*schema.WorkflowExecution
		stale []any
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var run schema.WorkflowExecution
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			return nil, fmt.Errorf("unmarshal run %s: %w", ids[i], err)
		}
		if !filter.Matches(&run) {
			continue
		}
		runs = append(runs, &run)
		if filter.Limit > 0 && len(runs) == filter.Limit {
			break
		}
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, index, stale...).Err()
	}
	return runs, nil
}

func (s *RedisRunStore) runKey(id string) string {
	return fmt.Sprintf("%s:run:%s", s.prefix, id)
}

func (s *RedisRunStore) indexKey() string {
	return s.prefix + ":runs"
}

func (s *RedisRunStore) workflowIndexKey(workflowID string) string {
	return fmt.Sprintf("%s:workflow:%s:runs", s.prefix, workflowID)
}

var _ RunStore = (*RedisRunStore)(nil)
