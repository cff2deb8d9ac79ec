package fanout

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/pkg/errcodes"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals // skip

// ErrReplayExpired signals that retention no longer covers the requested
// position; the subscriber must fetch full state instead of replaying.
var ErrReplayExpired = domain.NewError(errcodes.ReplayExpired, "replay unavailable, fetch full state")

// ReplayLog retains recent events per topic for reconnecting subscribers.
type ReplayLog interface {
	Append(ctx context.Context, topic string, event entity.Event) error
	After(ctx context.Context, topic string, afterSeq uint64) ([]entity.Event, error)
}

// RedisReplayLog keeps per-topic sorted sets scored by Seq, trimmed to a
// bounded length and expired after the retention window.
type RedisReplayLog struct {
	client    *redis.Client
	maxEvents int64
	retention time.Duration
}

func NewRedisReplayLog(client *redis.Client, maxEvents int, retention time.Duration) *RedisReplayLog {
	return &RedisReplayLog{
		client:    client,
		maxEvents: int64(maxEvents),
		retention: retention,
	}
}

func replayKey(topic string) string {
	return "fanout:log:" + topic
}

func (l *RedisReplayLog) Append(ctx context.Context, topic string, event entity.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	key := replayKey(topic)

	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(event.Seq), Member: payload})
	pipe.ZRemRangeByRank(ctx, key, 0, -(l.maxEvents + 1))
	pipe.Expire(ctx, key, l.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipe.Exec: %w", err)
	}

	return nil
}

func (l *RedisReplayLog) After(ctx context.Context, topic string, afterSeq uint64) ([]entity.Event, error) {
	key := replayKey(topic)

	// Detect a retention gap: if the oldest retained event is further ahead
	// than the next one the subscriber expects, replay cannot be complete.
	oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.ZRange: %w", err)
	}

	if len(oldest) == 0 {
		if afterSeq > 0 {
			return nil, ErrReplayExpired
		}
		return nil, nil
	}

	if uint64(oldest[0].Score) > afterSeq+1 {
		return nil, ErrReplayExpired
	}

	members, err := l.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatUint(afterSeq, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.ZRangeByScore: %w", err)
	}

	events := make([]entity.Event, 0, len(members))

	for _, member := range members {
		var ev entity.Event
		if err := json.Unmarshal([]byte(member), &ev); err != nil {
			return nil, fmt.Errorf("json.Unmarshal: %w", err)
		}
		events = append(events, ev)
	}

	return events, nil
}

// MemoryReplayLog is the in-process fallback used when Redis is not
// configured, and the workhorse of tests. Same retention contract as the
// Redis log, bounded by event count only.
type MemoryReplayLog struct {
	mu        sync.Mutex
	topics    map[string][]entity.Event
	maxEvents int
}

func NewMemoryReplayLog(maxEvents int) *MemoryReplayLog {
	return &MemoryReplayLog{
		topics:    make(map[string][]entity.Event),
		maxEvents: maxEvents,
	}
}

func (l *MemoryReplayLog) Append(_ context.Context, topic string, event entity.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := append(l.topics[topic], event)
	if len(events) > l.maxEvents {
		events = events[len(events)-l.maxEvents:]
	}
	l.topics[topic] = events

	return nil
}

func (l *MemoryReplayLog) After(_ context.Context, topic string, afterSeq uint64) ([]entity.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.topics[topic]

	if len(events) == 0 {
		if afterSeq > 0 {
			return nil, ErrReplayExpired
		}
		return nil, nil
	}

	if events[0].Seq > afterSeq+1 {
		return nil, ErrReplayExpired
	}

	out := make([]entity.Event, 0, len(events))
	for _, ev := range events {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}

	return out, nil
}
