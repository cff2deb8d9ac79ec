package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"
	"github.com/patrickmn/go-cache"

	"bidhouse/internal/domain/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals // skip

const (
	TaskDeliver = "notification:deliver"

	dedupeTTL     = 10 * time.Minute
	dedupeCleanup = time.Hour
)

type deliverPayload struct {
	UserID string       `json:"userId"`
	Event  entity.Event `json:"event"`
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer pushes delivery tasks onto the queue. Duplicate events for the
// same user, auction and auction version are collapsed before they ever
// reach Redis; the version moves with every state change, so a user outbid
// twice still hears about it twice.
type Enqueuer struct {
	client taskEnqueuer
	seen   *cache.Cache
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{
		client: client,
		seen:   cache.New(dedupeTTL, dedupeCleanup),
	}
}

func (e *Enqueuer) EnqueueDeliver(ctx context.Context, userID string, event entity.Event) error {
	key := fmt.Sprintf("%s:%s:%s:%d", userID, event.AuctionID, event.Kind, event.Version)
	if _, dup := e.seen.Get(key); dup {
		return nil
	}
	e.seen.Set(key, struct{}{}, cache.DefaultExpiration)

	payload, err := json.Marshal(deliverPayload{UserID: userID, Event: event})
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	task := asynq.NewTask(TaskDeliver, payload, asynq.MaxRetry(3), asynq.Timeout(30*time.Second))

	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("asynq.Enqueue: %w", err)
	}

	return nil
}

// Deliverer is the outward notification channel the handler dispatches to.
type Deliverer interface {
	Deliver(ctx context.Context, userID string, event entity.Event) error
}

// HandleDeliver returns the asynq handler for delivery tasks.
func HandleDeliver(deliverer Deliverer) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload deliverPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("json.Unmarshal: %w", err)
		}

		if err := deliverer.Deliver(ctx, payload.UserID, payload.Event); err != nil {
			return fmt.Errorf("deliverer.Deliver: %w", err)
		}

		return nil
	}
}

// NopEnqueuer drops every notification. Used when no bot is configured and
// in engine tests that do not assert on notifications.
type NopEnqueuer struct{}

func (NopEnqueuer) EnqueueDeliver(context.Context, string, entity.Event) error { return nil }
