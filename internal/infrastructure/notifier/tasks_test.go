package notifier

import (
	"context"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/require"

	"bidhouse/internal/domain/entity"
)

type captureClient struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (c *captureClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tasks = append(c.tasks, task)

	return &asynq.TaskInfo{}, nil
}

func TestEnqueuerDedupesByAuctionVersion(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	client := &captureClient{}
	enqueuer := &Enqueuer{
		client: client,
		seen:   cache.New(dedupeTTL, dedupeCleanup),
	}

	outbidAt := func(version uint64) entity.Event {
		return entity.Event{
			Kind:      entity.EventUserOutbid,
			AuctionID: "a1",
			Version:   version,
		}
	}

	rq.NoError(enqueuer.EnqueueDeliver(ctx, "u1", outbidAt(2)))
	// Redelivery of the same state change is collapsed.
	rq.NoError(enqueuer.EnqueueDeliver(ctx, "u1", outbidAt(2)))
	// Outbid again at a later version: a distinct notification.
	rq.NoError(enqueuer.EnqueueDeliver(ctx, "u1", outbidAt(4)))
	// Same version, different user: also distinct.
	rq.NoError(enqueuer.EnqueueDeliver(ctx, "u2", outbidAt(4)))

	rq.Len(client.tasks, 3)

	for _, task := range client.tasks {
		rq.Equal(TaskDeliver, task.Type())
	}
}
