package engine

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

// resolveState is the per-auction instant-purchase state machine. Auctions
// without a buy-now threshold never leave stateNoThreshold.
type resolveState int

const (
	stateNoThreshold resolveState = iota
	stateArmed
	stateResolving
	stateResolved
)

type resolver struct {
	mu     sync.Mutex
	states map[string]resolveState
}

func newResolver() *resolver {
	return &resolver{
		states: make(map[string]resolveState),
	}
}

func (r *resolver) resolutionStarted(auctionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.states[auctionID]

	return s == stateResolving || s == stateResolved
}

// begin moves the auction into resolving. Returns false when another bid's
// resolution already completed, in which case the caller must unwind.
func (r *resolver) begin(auctionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.states[auctionID] == stateResolved {
		return false
	}

	r.states[auctionID] = stateResolving

	return true
}

func (r *resolver) finish(auctionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[auctionID] = stateResolved
}

func (r *resolver) abort(auctionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.states[auctionID] == stateResolving {
		r.states[auctionID] = stateArmed
	}
}

// resolveInstantPurchase runs after an admission whose price reached the
// buy-now threshold. Exactly one concurrent attempt wins the status-guarded
// CAS; any other provisionally accepted bid in the same window is unwound:
// hold released, outcome rewritten, bidder told explicitly.
func (e *Engine) resolveInstantPurchase(
	ctx context.Context,
	state entity.Auction,
	bid entity.Bid,
	holdID string,
	result PlacementResult,
) (PlacementResult, error) {
	if !e.resolver.begin(state.ID) {
		return PlacementResult{}, e.unwindBid(ctx, state, bid, holdID)
	}

	endMutation := func(a entity.Auction) (entity.Auction, error) {
		if a.Status != entity.StatusActive {
			return entity.Auction{}, domain.NewError(errcodes.AuctionAlreadyEnded, "auction already ended")
		}

		a.Status = entity.StatusEnded
		a.WinnerID = bid.BidderID

		return a, nil
	}

	version := state.Version

	const maxAttempts = 2

	for attempt := 0; attempt < maxAttempts; attempt++ {
		ended, err := e.ledger.TryUpdate(ctx, state.ID, version, endMutation)
		if err == nil {
			e.resolver.finish(state.ID)
			e.settleWin(ctx, ended, bid, holdID)

			result.Version = ended.Version
			result.AuctionEnded = true
			result.InstantPurchase = true

			return result, nil
		}

		if !errors.Is(err, ledger.ErrVersionConflict) {
			e.resolver.abort(state.ID)
			return PlacementResult{}, err
		}

		fresh, snapErr := e.ledger.Snapshot(state.ID)
		if snapErr != nil {
			e.resolver.abort(state.ID)
			return PlacementResult{}, snapErr
		}

		if fresh.Status != entity.StatusActive {
			// Someone else's resolution won the race.
			e.resolver.finish(state.ID)
			return PlacementResult{}, e.unwindBid(ctx, fresh, bid, holdID)
		}

		if fresh.LastBidder != bid.BidderID {
			// Displaced by a higher concurrent bid before we could end the
			// auction; its resolution takes over and our bid stands as
			// superseded-in-progress.
			e.resolver.abort(state.ID)
			e.publishAccepted(ctx, state, bid, leader{})

			return result, nil
		}

		version = fresh.Version
	}

	e.resolver.abort(state.ID)

	return PlacementResult{}, e.unwindBid(ctx, state, bid, holdID)
}

// unwindBid retroactively reverses an already-admitted bid that lost the
// instant-purchase race. This is the single place an accepted bid is walked
// back, and the bidder is told explicitly, never silently dropped.
func (e *Engine) unwindBid(
	ctx context.Context,
	state entity.Auction,
	bid entity.Bid,
	holdID string,
) error {
	e.releaseHold(ctx, holdID)

	reason := string(errcodes.AuctionAlreadyEnded)

	if err := e.bids.UpdateOutcome(ctx, bid.ID, entity.OutcomeRejected, reason); err != nil {
		logger(ctx).Error("bid reversal update failed", "bid_id", bid.ID, "error", err)
	}

	reversed := entity.Event{
		Kind:      entity.EventBidReversed,
		AuctionID: state.ID,
		Version:   state.Version,
		Timestamp: time.Now().UTC(),
		BidderID:  bid.BidderID,
		Reason:    reason,
	}

	e.bus.Publish(ctx, reversed, entity.TopicUser(bid.BidderID))

	if err := e.notify.EnqueueDeliver(ctx, bid.BidderID, reversed); err != nil {
		logger(ctx).Error("reversal notification enqueue failed", "user_id", bid.BidderID, "error", err)
	}

	e.metrics.BidsReversed.Inc()

	return domain.NewError(errcodes.AuctionAlreadyEnded, "auction ended before the bid could win")
}

// settleWin converts the winner's hold into a debit and closes the books.
func (e *Engine) settleWin(ctx context.Context, ended entity.Auction, bid entity.Bid, holdID string) {
	if err := e.bids.UpdateOutcome(ctx, bid.ID, entity.OutcomeWon, ""); err != nil {
		logger(ctx).Error("won outcome update failed", "bid_id", bid.ID, "error", err)
	}

	if err := e.balance.Debit(context.WithoutCancel(ctx), holdID); err != nil {
		logger(ctx).Error("hold debit failed", "hold_id", holdID, "error", err)
	}

	if cur, ok := e.book.settle(ended.ID); ok && cur.holdID != holdID {
		// A displaced leader's hold that was never released, e.g. when the
		// supersession and resolution interleaved. Clean it up here.
		e.releaseHold(ctx, cur.holdID)
	}

	e.publishEnded(ctx, ended, true)
	e.metrics.InstantPurchases.Inc()
	e.metrics.ObserveAuctions(e.ledger.List())
}

func (e *Engine) publishEnded(ctx context.Context, ended entity.Auction, instant bool) {
	event := entity.Event{
		Kind:            entity.EventAuctionEnded,
		AuctionID:       ended.ID,
		Version:         ended.Version,
		Timestamp:       time.Now().UTC(),
		NewPrice:        ended.CurrentPrice,
		TotalBids:       ended.TotalBids,
		WinnerID:        ended.WinnerID,
		InstantPurchase: instant,
	}

	topics := []string{entity.TopicAuction(ended.ID), entity.TopicGlobal}
	if ended.WinnerID != "" {
		topics = append(topics, entity.TopicUser(ended.WinnerID))
	}

	e.bus.Publish(ctx, event, topics...)

	if ended.WinnerID != "" {
		if err := e.notify.EnqueueDeliver(ctx, ended.WinnerID, event); err != nil {
			logger(ctx).Error("win notification enqueue failed", "user_id", ended.WinnerID, "error", err)
		}
	}
}
