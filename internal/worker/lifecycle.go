package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/internal/domain/service/ledger"
	"bidhouse/pkg/errcodes"
)

// Lifecycle is the engine surface the scheduler drives. All transitions go
// through the same ledger CAS path as bid traffic.
type Lifecycle interface {
	Activate(ctx context.Context, auctionID string, expectedVersion uint64) error
	EndExpired(ctx context.Context, auctionID string, expectedVersion uint64) error
	PublishEndingSoon(ctx context.Context, snap entity.Auction)
	Auctions() []entity.Auction
}

// LifecycleScheduler drives the time-triggered transitions of timed
// auctions on a shared tick instead of one timer per auction. The tick
// tightens when any auction is close to a boundary and relaxes otherwise,
// bounding resource usage with many concurrent auctions. Live auctions are
// never touched by the clock.
type LifecycleScheduler struct {
	engine Lifecycle

	nearTick         time.Duration
	farTick          time.Duration
	nearWindow       time.Duration
	endingSoonWindow time.Duration

	warned map[string]struct{}

	// Control fields
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	isRunning  bool
	wg         sync.WaitGroup
}

func NewLifecycleScheduler(engine Lifecycle) *LifecycleScheduler {
	return &LifecycleScheduler{
		engine:           engine,
		nearTick:         250 * time.Millisecond,
		farTick:          2 * time.Second,
		nearWindow:       30 * time.Second,
		endingSoonWindow: time.Minute,
		warned:           make(map[string]struct{}),
	}
}

func (w *LifecycleScheduler) WithTicks(near, far time.Duration) *LifecycleScheduler {
	if near > 0 {
		w.nearTick = near
	}
	if far > 0 {
		w.farTick = far
	}
	return w
}

func (w *LifecycleScheduler) WithNearWindow(window time.Duration) *LifecycleScheduler {
	if window > 0 {
		w.nearWindow = window
	}
	return w
}

func (w *LifecycleScheduler) WithEndingSoonWindow(window time.Duration) *LifecycleScheduler {
	if window > 0 {
		w.endingSoonWindow = window
	}
	return w
}

func (w *LifecycleScheduler) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return errors.New("lifecycle scheduler is already running")
	}

	tickCtx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel
	w.isRunning = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			w.isRunning = false
			w.cancelFunc = nil
			w.mu.Unlock()
		}()

		if err := w.Run(tickCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger(tickCtx).Error("lifecycle scheduler stopped", "error", err)
		}
	}()

	return nil
}

func (w *LifecycleScheduler) Stop() {
	w.mu.Lock()

	if !w.isRunning {
		w.mu.Unlock()
		return
	}

	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *LifecycleScheduler) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

func (w *LifecycleScheduler) Run(ctx context.Context) error {
	logger(ctx).Info("lifecycle scheduler started",
		"near_tick", w.nearTick,
		"far_tick", w.farTick,
	)

	for {
		interval := w.Tick(ctx)

		select {
		case <-ctx.Done():
			logger(ctx).Info("lifecycle scheduler stopped")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Tick evaluates every registered auction once and returns the interval
// until the next evaluation. Exported so tests can drive the scheduler
// without real time.
func (w *LifecycleScheduler) Tick(ctx context.Context) time.Duration {
	now := time.Now().UTC()
	interval := w.farTick

	for _, a := range w.engine.Auctions() {
		select {
		case <-ctx.Done():
			return w.farTick
		default:
		}

		if w.evaluate(ctx, a, now) {
			interval = w.nearTick
		}
	}

	return interval
}

// evaluate applies at most one transition to the auction and reports
// whether the auction is near a time boundary.
func (w *LifecycleScheduler) evaluate(ctx context.Context, a entity.Auction, now time.Time) (near bool) {
	switch a.Status {
	case entity.StatusUpcoming:
		if !now.Before(a.StartTime) {
			w.transition(ctx, a, w.engine.Activate)
			return true
		}

		return a.StartTime.Sub(now) <= w.nearWindow

	case entity.StatusActive:
		if a.Type != entity.TypeTimed || a.EndTime == nil {
			return false
		}

		if a.Expired(now) {
			w.transition(ctx, a, w.engine.EndExpired)
			return true
		}

		remaining := a.EndTime.Sub(now)

		if remaining <= w.endingSoonWindow {
			w.warnOnce(ctx, a)
		}

		return remaining <= w.nearWindow

	case entity.StatusEnded:
		delete(w.warned, a.ID)
	}

	return false
}

// transition runs one CAS-guarded transition. Conflicts are expected under
// bid traffic and simply retried on the next tick.
func (w *LifecycleScheduler) transition(
	ctx context.Context,
	a entity.Auction,
	fn func(context.Context, string, uint64) error,
) {
	err := fn(ctx, a.ID, a.Version)
	if err == nil {
		return
	}

	if errors.Is(err, ledger.ErrVersionConflict) ||
		domain.HasCode(err, errcodes.AuctionAlreadyEnded) ||
		domain.HasCode(err, errcodes.InvalidTransition) {
		return
	}

	logger(ctx).Error("lifecycle transition failed",
		"auction_id", a.ID,
		"status", string(a.Status),
		"error", err,
	)
}

func (w *LifecycleScheduler) warnOnce(ctx context.Context, a entity.Auction) {
	if _, done := w.warned[a.ID]; done {
		return
	}

	w.warned[a.ID] = struct{}{}
	w.engine.PublishEndingSoon(ctx, a)
}
