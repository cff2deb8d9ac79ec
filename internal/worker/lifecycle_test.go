package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bidhouse/internal/domain/entity"
	"bidhouse/internal/domain/service/ledger"
	"bidhouse/internal/worker"
)

// fakeEngine implements worker.Lifecycle and applies transitions to its own
// auction list the way the real engine would through the ledger.
type fakeEngine struct {
	mu        sync.Mutex
	auctions  map[string]entity.Auction
	activated map[string]int
	ended     map[string]int
	warned    map[string]int

	transitionErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		auctions:  make(map[string]entity.Auction),
		activated: make(map[string]int),
		ended:     make(map[string]int),
		warned:    make(map[string]int),
	}
}

func (f *fakeEngine) add(a entity.Auction) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.auctions[a.ID] = a
}

func (f *fakeEngine) Activate(_ context.Context, auctionID string, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.transitionErr != nil {
		return f.transitionErr
	}

	f.activated[auctionID]++

	a := f.auctions[auctionID]
	a.Status = entity.StatusActive
	a.Version++
	f.auctions[auctionID] = a

	return nil
}

func (f *fakeEngine) EndExpired(_ context.Context, auctionID string, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.transitionErr != nil {
		return f.transitionErr
	}

	f.ended[auctionID]++

	a := f.auctions[auctionID]
	a.Status = entity.StatusEnded
	a.Version++
	f.auctions[auctionID] = a

	return nil
}

func (f *fakeEngine) PublishEndingSoon(_ context.Context, snap entity.Auction) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.warned[snap.ID]++
}

func (f *fakeEngine) Auctions() []entity.Auction {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]entity.Auction, 0, len(f.auctions))
	for _, a := range f.auctions {
		out = append(out, a)
	}

	return out
}

func timedAuction(id string, status entity.AuctionStatus, start time.Time, end *time.Time) entity.Auction {
	return entity.Auction{
		ID:            id,
		SellerID:      "seller-1",
		Type:          entity.TypeTimed,
		Status:        status,
		StartingPrice: decimal.NewFromInt(100),
		CurrentPrice:  decimal.NewFromInt(100),
		StartTime:     start,
		EndTime:       end,
		Version:       1,
	}
}

func TestSchedulerActivatesDueAuction(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	eng := newFakeEngine()
	end := time.Now().UTC().Add(time.Hour)
	eng.add(timedAuction("a1", entity.StatusUpcoming, time.Now().UTC().Add(-time.Second), &end))

	s := worker.NewLifecycleScheduler(eng)

	s.Tick(ctx)
	rq.Equal(1, eng.activated["a1"])

	// Already active: the next tick leaves it alone.
	s.Tick(ctx)
	rq.Equal(1, eng.activated["a1"])
}

func TestSchedulerEndsExpiredAuction(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	eng := newFakeEngine()
	end := time.Now().UTC().Add(-time.Second)
	eng.add(timedAuction("a1", entity.StatusActive, time.Now().UTC().Add(-time.Hour), &end))

	s := worker.NewLifecycleScheduler(eng)

	s.Tick(ctx)
	rq.Equal(1, eng.ended["a1"])

	s.Tick(ctx)
	rq.Equal(1, eng.ended["a1"])
}

func TestSchedulerIgnoresLiveAuctions(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	eng := newFakeEngine()
	eng.add(entity.Auction{
		ID:        "a1",
		Type:      entity.TypeLive,
		Status:    entity.StatusActive,
		StartTime: time.Now().UTC().Add(-time.Hour),
		Version:   1,
	})

	s := worker.NewLifecycleScheduler(eng)

	s.Tick(ctx)
	s.Tick(ctx)

	rq.Zero(eng.ended["a1"])
	rq.Zero(eng.warned["a1"])
}

func TestSchedulerWarnsEndingSoonOnce(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	eng := newFakeEngine()
	end := time.Now().UTC().Add(45 * time.Second)
	eng.add(timedAuction("a1", entity.StatusActive, time.Now().UTC().Add(-time.Hour), &end))

	s := worker.NewLifecycleScheduler(eng).WithEndingSoonWindow(time.Minute)

	s.Tick(ctx)
	s.Tick(ctx)
	s.Tick(ctx)

	rq.Equal(1, eng.warned["a1"])
}

func TestSchedulerTickInterval(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	const (
		nearTick = 100 * time.Millisecond
		farTick  = 5 * time.Second
	)

	eng := newFakeEngine()
	s := worker.NewLifecycleScheduler(eng).
		WithTicks(nearTick, farTick).
		WithNearWindow(30 * time.Second)

	// Nothing near a boundary: relaxed cadence.
	farEnd := time.Now().UTC().Add(time.Hour)
	eng.add(timedAuction("a1", entity.StatusActive, time.Now().UTC().Add(-time.Hour), &farEnd))
	rq.Equal(farTick, s.Tick(ctx))

	// An auction inside the near window tightens the shared tick.
	nearEnd := time.Now().UTC().Add(10 * time.Second)
	eng.add(timedAuction("a2", entity.StatusActive, time.Now().UTC().Add(-time.Hour), &nearEnd))
	rq.Equal(nearTick, s.Tick(ctx))
}

func TestSchedulerToleratesCASConflicts(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	eng := newFakeEngine()
	eng.transitionErr = ledger.ErrVersionConflict

	end := time.Now().UTC().Add(-time.Second)
	eng.add(timedAuction("a1", entity.StatusActive, time.Now().UTC().Add(-time.Hour), &end))

	s := worker.NewLifecycleScheduler(eng)

	// A conflicting transition is left for the next tick, not escalated.
	s.Tick(ctx)
	rq.Zero(eng.ended["a1"])

	eng.transitionErr = nil
	s.Tick(ctx)
	rq.Equal(1, eng.ended["a1"])
}

func TestSchedulerStartStop(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	s := worker.NewLifecycleScheduler(newFakeEngine()).
		WithTicks(10*time.Millisecond, 20*time.Millisecond)

	rq.NoError(s.Start(ctx))
	rq.True(s.IsRunning())

	rq.Error(s.Start(ctx), "second start must be refused")

	s.Stop()
	rq.False(s.IsRunning())

	// A stopped scheduler can be started again.
	rq.NoError(s.Start(ctx))
	s.Stop()
}
