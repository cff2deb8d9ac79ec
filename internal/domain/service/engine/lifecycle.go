package engine

import (
	"context"
	"errors"
	"time"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/internal/domain/service/ledger"
	"bidhouse/pkg/errcodes"
)

// Activate flips an upcoming auction to active once its start time has
// passed. Called by the lifecycle scheduler; a CAS conflict is simply left
// for the next tick.
func (e *Engine) Activate(ctx context.Context, auctionID string, expectedVersion uint64) error {
	started, err := e.ledger.TryUpdate(ctx, auctionID, expectedVersion,
		func(a entity.Auction) (entity.Auction, error) {
			if a.Status != entity.StatusUpcoming {
				return entity.Auction{}, domain.NewError(errcodes.InvalidTransition, "auction is not upcoming")
			}

			a.Status = entity.StatusActive

			return a, nil
		})
	if err != nil {
		return err
	}

	e.bus.Publish(ctx, entity.Event{
		Kind:      entity.EventAuctionStarted,
		AuctionID: started.ID,
		Version:   started.Version,
		Timestamp: time.Now().UTC(),
		NewPrice:  started.CurrentPrice,
		EndTime:   started.EndTime,
	}, entity.TopicAuction(started.ID), entity.TopicGlobal)

	e.metrics.ObserveAuctions(e.ledger.List())

	return nil
}

// EndExpired ends a timed auction whose end time has passed, settling the
// leading hold. The leader wins only when the reserve price, if any, is
// met; otherwise the auction ends without a winner and the hold is
// released.
func (e *Engine) EndExpired(ctx context.Context, auctionID string, expectedVersion uint64) error {
	return e.end(ctx, auctionID, expectedVersion, true)
}

// Close is the explicit administrative close for live auctions. It uses the
// same CAS path as every other transition.
func (e *Engine) Close(ctx context.Context, auctionID string) error {
	snap, err := e.ledger.Snapshot(auctionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.NewError(errcodes.NotFound, "auction not found")
		}
		return err
	}

	return e.end(ctx, auctionID, snap.Version, false)
}

func (e *Engine) end(ctx context.Context, auctionID string, expectedVersion uint64, requireExpiry bool) error {
	now := time.Now().UTC()

	ended, err := e.ledger.TryUpdate(ctx, auctionID, expectedVersion,
		func(a entity.Auction) (entity.Auction, error) {
			if a.Status != entity.StatusActive {
				return entity.Auction{}, domain.NewError(errcodes.AuctionAlreadyEnded, "auction already ended")
			}

			if requireExpiry && !a.Expired(now) {
				return entity.Auction{}, domain.NewError(errcodes.InvalidTransition, "auction has not expired")
			}

			a.Status = entity.StatusEnded

			if a.TotalBids > 0 && a.ReserveMet() {
				a.WinnerID = a.LastBidder
			}

			return a, nil
		})
	if err != nil {
		return err
	}

	e.resolver.finish(auctionID)
	e.settleEnd(ctx, ended)
	e.publishEnded(ctx, ended, false)
	e.metrics.ObserveAuctions(e.ledger.List())

	return nil
}

// settleEnd resolves the leading hold of a normally ended auction: debit
// for the winner, release and a lost outcome when the reserve was not met.
func (e *Engine) settleEnd(ctx context.Context, ended entity.Auction) {
	cur, ok := e.book.settle(ended.ID)
	if !ok {
		return
	}

	if ended.WinnerID == cur.bidderID {
		if err := e.bids.UpdateOutcome(ctx, cur.bidID, entity.OutcomeWon, ""); err != nil {
			logger(ctx).Error("won outcome update failed", "bid_id", cur.bidID, "error", err)
		}

		if err := e.balance.Debit(context.WithoutCancel(ctx), cur.holdID); err != nil {
			logger(ctx).Error("hold debit failed", "hold_id", cur.holdID, "error", err)
		}

		return
	}

	e.releaseHold(ctx, cur.holdID)

	if err := e.bids.UpdateOutcome(ctx, cur.bidID, entity.OutcomeLost, ""); err != nil {
		logger(ctx).Error("lost outcome update failed", "bid_id", cur.bidID, "error", err)
	}
}

// PublishEndingSoon emits the one-shot warning for a timed auction entering
// its final stretch. The scheduler guarantees the one-shot part.
func (e *Engine) PublishEndingSoon(ctx context.Context, snap entity.Auction) {
	e.bus.Publish(ctx, entity.Event{
		Kind:      entity.EventAuctionEndingSoon,
		AuctionID: snap.ID,
		Version:   snap.Version,
		Timestamp: time.Now().UTC(),
		NewPrice:  snap.CurrentPrice,
		TotalBids: snap.TotalBids,
		EndTime:   snap.EndTime,
	}, entity.TopicAuction(snap.ID), entity.TopicGlobal)
}

// ActivityStats is the platform-wide aggregate served by the stats
// endpoint.
type ActivityStats struct {
	TotalActiveBids int
	ActiveAuctions  int
}

// Stats derives the aggregate from ledger state; no storage round trip.
func (e *Engine) Stats() ActivityStats {
	var stats ActivityStats

	for _, a := range e.ledger.List() {
		if a.Status != entity.StatusActive {
			continue
		}

		stats.ActiveAuctions++
		stats.TotalActiveBids += a.TotalBids
	}

	return stats
}

// Auctions lists every auction currently under ledger control.
func (e *Engine) Auctions() []entity.Auction {
	return e.ledger.List()
}

// BidsForAuction returns the auction's bids, newest first.
func (e *Engine) BidsForAuction(ctx context.Context, auctionID string) ([]entity.Bid, error) {
	if _, err := e.Snapshot(auctionID); err != nil {
		return nil, err
	}

	bids, err := e.bids.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	return bids, nil
}

// UserActivity returns a user's bids across auctions.
func (e *Engine) UserActivity(ctx context.Context, userID string) ([]entity.Bid, error) {
	if userID == "" {
		return nil, domain.NewError(errcodes.InvalidUserID, "empty user id")
	}

	bids, err := e.bids.ListByBidder(ctx, userID)
	if err != nil {
		return nil, err
	}

	return bids, nil
}
