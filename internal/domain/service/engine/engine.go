package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/internal/domain/service/ledger"
	"bidhouse/internal/domain/value"
	"bidhouse/pkg/errcodes"
)

// Ledger is the authoritative auction state store the engine admits
// against. Satisfied by the ledger service.
type Ledger interface {
	Create(ctx context.Context, auction entity.Auction) error
	Snapshot(auctionID string) (entity.Auction, error)
	List() []entity.Auction
	TryUpdate(
		ctx context.Context,
		auctionID string,
		expectedVersion uint64,
		mutation ledger.Mutation,
	) (entity.Auction, error)
}

// BalanceReservation is the external collaborator that holds and releases
// bidder funds. The engine never ledgers money itself.
type BalanceReservation interface {
	Available(ctx context.Context, userID string) (decimal.Decimal, error)
	Hold(ctx context.Context, userID string, amount decimal.Decimal) (string, error)
	Release(ctx context.Context, holdID string) error
	Debit(ctx context.Context, holdID string) error
}

type BidRepository interface {
	Insert(ctx context.Context, bid entity.Bid) error
	UpdateOutcome(ctx context.Context, bidID string, outcome entity.BidOutcome, reason string) error
	ListByAuction(ctx context.Context, auctionID string) ([]entity.Bid, error)
	ListByBidder(ctx context.Context, bidderID string) ([]entity.Bid, error)
}

// Publisher is the fan-out channel's inward face.
type Publisher interface {
	Publish(ctx context.Context, event entity.Event, topics ...string)
}

// Notifications enqueues out-of-band delivery (push, bot). Never called on
// the hot path synchronously with a held lock.
type Notifications interface {
	EnqueueDeliver(ctx context.Context, userID string, event entity.Event) error
}

// PlacementResult is what a successful PlaceBid returns to the caller.
type PlacementResult struct {
	Bid             entity.Bid
	NewPrice        decimal.Decimal
	TotalBids       int
	Version         uint64
	AuctionEnded    bool
	InstantPurchase bool
}

// Engine is the bid-admission controller. It validates submissions against
// the ledger, reserves funds, drives the CAS update with a single bounded
// retry, and hands accepted bids to the instant-purchase resolver before
// publishing.
type Engine struct {
	ledger   Ledger
	balance  BalanceReservation
	bids     BidRepository
	bus      Publisher
	notify   Notifications
	book     *book
	resolver *resolver
	metrics  *Metrics
}

func New(
	l Ledger,
	balance BalanceReservation,
	bids BidRepository,
	bus Publisher,
	notify Notifications,
	metrics *Metrics,
) *Engine {
	return &Engine{
		ledger:   l,
		balance:  balance,
		bids:     bids,
		bus:      bus,
		notify:   notify,
		book:     newBook(),
		resolver: newResolver(),
		metrics:  metrics,
	}
}

// Register puts a new auction under ledger control.
func (e *Engine) Register(ctx context.Context, auction entity.Auction) (entity.Auction, error) {
	if auction.Status == "" {
		auction.Status = entity.StatusUpcoming
	}

	if err := e.ledger.Create(ctx, auction); err != nil {
		return entity.Auction{}, err
	}

	snap, err := e.ledger.Snapshot(auction.ID)
	if err != nil {
		return entity.Auction{}, err
	}

	e.metrics.ObserveAuctions(e.ledger.List())

	return snap, nil
}

// Snapshot exposes current auction state to the transport layer.
func (e *Engine) Snapshot(auctionID string) (entity.Auction, error) {
	snap, err := e.ledger.Snapshot(auctionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return entity.Auction{}, domain.NewError(errcodes.NotFound, "auction not found")
		}
		return entity.Auction{}, err
	}

	return snap, nil
}

// PlaceBid runs the full admission pipeline for one submission.
//
// Validation order is fixed: lifecycle, self-bid, increment, funds. Only
// when all four pass does the ledger CAS get attempted; a conflict is
// retried exactly once against fresh state, then surfaced as RaceLost. No
// lock is held while waiting on the balance service or the CAS path.
func (e *Engine) PlaceBid(
	ctx context.Context,
	auctionID, bidderID string,
	amount decimal.Decimal,
) (PlacementResult, error) {
	start := time.Now()

	result, err := e.placeBid(ctx, auctionID, bidderID, amount)

	e.metrics.ObservePlacement(time.Since(start), err)

	return result, err
}

func (e *Engine) placeBid(
	ctx context.Context,
	auctionID, bidderID string,
	amount decimal.Decimal,
) (PlacementResult, error) {
	if auctionID == "" {
		return PlacementResult{}, domain.NewError(errcodes.InvalidAuctionID, "empty auction id")
	}
	if bidderID == "" {
		return PlacementResult{}, domain.NewError(errcodes.InvalidUserID, "empty bidder id")
	}
	if !amount.IsPositive() {
		return PlacementResult{}, domain.NewError(errcodes.InvalidAmount, "amount must be positive")
	}

	snap, err := e.snapshotForBid(auctionID)
	if err != nil {
		return PlacementResult{}, err
	}

	if err := e.validateBid(snap, bidderID, amount); err != nil {
		return PlacementResult{}, err
	}

	if err := e.checkFunds(ctx, snap.ID, bidderID, amount); err != nil {
		return PlacementResult{}, err
	}

	// A repeat bid replaces the prior hold, it never stacks: the old hold
	// is released before the new one is taken, so the balance service sees
	// at most one hold per bidder and auction.
	prior, replacing := e.book.detachHold(snap.ID, bidderID)
	if replacing {
		e.releaseHold(ctx, prior.holdID)
	}

	holdID, err := e.acquireHold(ctx, bidderID, amount)
	if err != nil {
		if replacing {
			e.restoreHold(ctx, snap.ID, bidderID, prior.amount)
		}
		return PlacementResult{}, err
	}

	newState, err := e.admit(ctx, snap, bidderID, amount)
	if err != nil {
		e.releaseHold(ctx, holdID)
		if replacing {
			e.restoreHold(ctx, snap.ID, bidderID, prior.amount)
		}
		return PlacementResult{}, err
	}

	bid := entity.Bid{
		ID:          xid.New().String(),
		AuctionID:   auctionID,
		BidderID:    bidderID,
		Amount:      amount,
		SubmittedAt: time.Now().UTC(),
		Outcome:     entity.OutcomeAccepted,
		Version:     newState.Version,
	}

	if err := e.bids.Insert(ctx, bid); err != nil {
		logger(ctx).Error("bid record insert failed", "bid_id", bid.ID, "error", err)
	}

	result := PlacementResult{
		Bid:       bid,
		NewPrice:  newState.CurrentPrice,
		TotalBids: newState.TotalBids,
		Version:   newState.Version,
	}

	prev, installed := e.book.promote(auctionID, leader{
		bidID:    bid.ID,
		bidderID: bidderID,
		holdID:   holdID,
		amount:   amount,
		version:  newState.Version,
	})

	if !installed {
		// A higher concurrent bid reached the book first: this bid was
		// admitted but is already superseded, so its hold goes back.
		e.releaseHold(ctx, holdID)

		if err := e.bids.UpdateOutcome(ctx, bid.ID, entity.OutcomeSuperseded, ""); err != nil {
			logger(ctx).Error("supersede outcome update failed", "bid_id", bid.ID, "error", err)
		}

		result.Bid.Outcome = entity.OutcomeSuperseded
		e.publishAccepted(ctx, newState, bid, leader{})

		return result, nil
	}

	e.supersede(ctx, prev)

	if newState.InstantPurchaseReached(amount) {
		return e.resolveInstantPurchase(ctx, newState, bid, holdID, result)
	}

	e.publishAccepted(ctx, newState, bid, prev)

	return result, nil
}

func (e *Engine) snapshotForBid(auctionID string) (entity.Auction, error) {
	snap, err := e.ledger.Snapshot(auctionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return entity.Auction{}, domain.NewError(errcodes.AuctionNotActive, "auction is not active")
		}
		return entity.Auction{}, err
	}

	return snap, nil
}

func (e *Engine) validateBid(snap entity.Auction, bidderID string, amount decimal.Decimal) error {
	// A bid that lands after instant-purchase resolution has started is
	// rejected even if the ledger still shows the auction active.
	if e.resolver.resolutionStarted(snap.ID) {
		return domain.NewError(errcodes.AuctionAlreadyEnded, "auction already ended")
	}

	if snap.Status != entity.StatusActive {
		return domain.NewError(errcodes.AuctionNotActive, "auction is not active")
	}

	if bidderID == snap.SellerID {
		return domain.NewError(errcodes.SelfBid, "sellers cannot bid on their own auctions")
	}

	minBid := value.MinAcceptableBid(snap.CurrentPrice)
	if amount.LessThan(minBid) {
		return domain.NewError(
			errcodes.BidTooLow,
			fmt.Sprintf("minimum acceptable bid is %s", minBid.String()),
		)
	}

	return nil
}

// checkFunds verifies available balance, counting the bidder's own prior
// hold on this auction as available again: a repeat bid replaces the hold,
// it never stacks.
func (e *Engine) checkFunds(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) error {
	available, err := e.balance.Available(ctx, bidderID)
	if err != nil {
		return mapBalanceError(err)
	}

	if prior, ok := e.book.holdOf(auctionID, bidderID); ok {
		available = available.Add(prior.amount)
	}

	if available.LessThan(amount) {
		return domain.NewError(errcodes.InsufficientBalance, "available balance is below bid amount")
	}

	return nil
}

func (e *Engine) acquireHold(ctx context.Context, bidderID string, amount decimal.Decimal) (string, error) {
	holdID, err := e.balance.Hold(ctx, bidderID, amount)
	if err != nil {
		return "", mapBalanceError(err)
	}

	return holdID, nil
}

func (e *Engine) releaseHold(ctx context.Context, holdID string) {
	if holdID == "" {
		return
	}

	// Releases run detached from the request deadline: a timed-out caller
	// must not leave a dangling hold.
	if err := e.balance.Release(context.WithoutCancel(ctx), holdID); err != nil {
		logger(ctx).Error("hold release failed", "hold_id", holdID, "error", err)
	}
}

// restoreHold re-acquires the hold of a leader whose replacement never
// materialized. If the leadership moved on in the meantime the hold is no
// longer needed and goes straight back.
func (e *Engine) restoreHold(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) {
	holdID, err := e.balance.Hold(context.WithoutCancel(ctx), bidderID, amount)
	if err != nil {
		logger(ctx).Error("hold restore failed",
			"auction_id", auctionID,
			"user_id", bidderID,
			"error", err,
		)
		return
	}

	if !e.book.attachHold(auctionID, bidderID, holdID) {
		e.releaseHold(ctx, holdID)
	}
}

// admit attempts the CAS update, retrying exactly once on conflict against
// re-read and re-validated state.
func (e *Engine) admit(
	ctx context.Context,
	snap entity.Auction,
	bidderID string,
	amount decimal.Decimal,
) (entity.Auction, error) {
	mutation := func(a entity.Auction) (entity.Auction, error) {
		if a.Status != entity.StatusActive {
			return entity.Auction{}, domain.NewError(errcodes.AuctionNotActive, "auction is not active")
		}

		a.CurrentPrice = amount
		a.LastBidder = bidderID
		a.TotalBids++

		return a, nil
	}

	const maxAttempts = 2

	for attempt := 0; attempt < maxAttempts; attempt++ {
		newState, err := e.ledger.TryUpdate(ctx, snap.ID, snap.Version, mutation)
		if err == nil {
			return newState, nil
		}

		if !errors.Is(err, ledger.ErrVersionConflict) {
			return entity.Auction{}, err
		}

		e.metrics.CASConflicts.Inc()

		snap, err = e.ledger.Snapshot(snap.ID)
		if err != nil {
			return entity.Auction{}, err
		}

		if err := e.validateBid(snap, bidderID, amount); err != nil {
			return entity.Auction{}, err
		}
	}

	return entity.Auction{}, domain.NewError(errcodes.RaceLost, "lost the bid race, please retry")
}

// supersede releases the displaced leader's hold and flips their bid
// record. A repeat bidder's displaced entry arrives here with the hold
// already detached and released, so only the record flips.
func (e *Engine) supersede(ctx context.Context, prev leader) {
	if prev.bidderID == "" {
		return
	}

	e.releaseHold(ctx, prev.holdID)

	if err := e.bids.UpdateOutcome(ctx, prev.bidID, entity.OutcomeSuperseded, ""); err != nil {
		logger(ctx).Error("supersede outcome update failed", "bid_id", prev.bidID, "error", err)
	}
}

func (e *Engine) publishAccepted(ctx context.Context, state entity.Auction, bid entity.Bid, prev leader) {
	now := time.Now().UTC()

	accepted := entity.Event{
		Kind:      entity.EventBidAccepted,
		AuctionID: state.ID,
		Version:   state.Version,
		Timestamp: now,
		NewPrice:  state.CurrentPrice,
		TotalBids: state.TotalBids,
		BidderID:  bid.BidderID,
	}

	e.bus.Publish(ctx, accepted,
		entity.TopicAuction(state.ID),
		entity.TopicUser(bid.BidderID),
		entity.TopicGlobal,
	)

	if prev.bidderID != "" && prev.bidderID != bid.BidderID {
		outbid := entity.Event{
			Kind:         entity.EventUserOutbid,
			AuctionID:    state.ID,
			Version:      state.Version,
			Timestamp:    now,
			NewPrice:     state.CurrentPrice,
			OutbidUserID: prev.bidderID,
		}

		e.bus.Publish(ctx, outbid, entity.TopicUser(prev.bidderID))

		if err := e.notify.EnqueueDeliver(ctx, prev.bidderID, outbid); err != nil {
			logger(ctx).Error("outbid notification enqueue failed", "user_id", prev.bidderID, "error", err)
		}
	}
}

func mapBalanceError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(err, errcodes.Timeout, "balance service timed out")
	case domain.IsAppError(err):
		return err
	default:
		return domain.WrapError(err, errcodes.BalanceServiceUnavailable, "balance service unavailable, retry later")
	}
}
