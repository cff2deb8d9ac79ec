package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/pkg/errcodes"
)

func (h *harness) buyNowAuction(t *testing.T, id string, startingPrice, buyNow int64) entity.Auction {
	t.Helper()

	threshold := amount(buyNow)
	end := time.Now().UTC().Add(time.Hour)

	snap, err := h.engine.Register(context.Background(), entity.Auction{
		ID:                   id,
		SellerID:             "seller-1",
		Title:                "buy-now lot",
		Type:                 entity.TypeTimed,
		Status:               entity.StatusActive,
		StartingPrice:        amount(startingPrice),
		InstantPurchasePrice: &threshold,
		StartTime:            time.Now().UTC().Add(-time.Minute),
		EndTime:              &end,
	})
	require.NoError(t, err)

	return snap
}

func TestInstantPurchaseWin(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	h := newHarness(t)
	h.buyNowAuction(t, "a1", 100, 500)
	h.funds.Deposit("u1", amount(1000))

	result, err := h.engine.PlaceBid(ctx, "a1", "u1", amount(500))
	rq.NoError(err)

	rq.True(result.AuctionEnded)
	rq.True(result.InstantPurchase)

	ended, err := h.engine.Snapshot("a1")
	rq.NoError(err)
	rq.Equal(entity.StatusEnded, ended.Status)
	rq.Equal("u1", ended.WinnerID)

	// Version moved twice: once for the bid, once for the ending.
	rq.Equal(uint64(3), ended.Version)
	rq.Equal(ended.Version, result.Version)

	rq.Equal(entity.OutcomeWon, h.bids.outcomeOf(result.Bid.ID))
	rq.True(h.funds.Debited("u1", amount(500)))
	rq.Zero(h.funds.TotalHolds())

	ev, ok := h.bus.last(entity.TopicAuction("a1"))
	rq.True(ok)
	rq.Equal(entity.EventAuctionEnded, ev.Kind)
	rq.True(ev.InstantPurchase)
	rq.Equal("u1", ev.WinnerID)
}

func TestInstantPurchaseBelowThresholdKeepsAuctionOpen(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	h := newHarness(t)
	h.buyNowAuction(t, "a1", 100, 500)
	h.funds.Deposit("u1", amount(1000))

	result, err := h.engine.PlaceBid(ctx, "a1", "u1", amount(499))
	rq.NoError(err)

	rq.False(result.AuctionEnded)
	rq.False(result.InstantPurchase)

	snap, err := h.engine.Snapshot("a1")
	rq.NoError(err)
	rq.Equal(entity.StatusActive, snap.Status)
}

func TestInstantPurchaseRejectsLateBids(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	h := newHarness(t)
	h.buyNowAuction(t, "a1", 100, 500)
	h.funds.Deposit("u1", amount(1000))
	h.funds.Deposit("u2", amount(1000))

	_, err := h.engine.PlaceBid(ctx, "a1", "u1", amount(500))
	rq.NoError(err)

	_, err = h.engine.PlaceBid(ctx, "a1", "u2", amount(600))
	rq.Error(err)

	code, ok := domain.GetCode(err)
	rq.True(ok)
	rq.Contains(
		[]string{string(errcodes.AuctionAlreadyEnded), string(errcodes.AuctionNotActive)},
		code.String(),
	)

	rq.Zero(h.funds.ActiveHolds("u2"))
}

func TestInstantPurchaseConcurrentRace(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	h := newHarness(t)
	h.buyNowAuction(t, "a1", 100, 500)

	bidders := map[string]decimal.Decimal{
		"u1": amount(500),
		"u2": amount(525),
		"u3": amount(550),
	}

	for bidder := range bidders {
		h.funds.Deposit(bidder, amount(10000))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)

	wg.Add(len(bidders))

	for bidder, offer := range bidders {
		bidder, offer := bidder, offer

		go func() {
			defer wg.Done()

			result, err := h.engine.PlaceBid(ctx, "a1", bidder, offer)
			if err != nil {
				code, ok := domain.GetCode(err)
				require.True(t, ok, "unexpected error %v", err)
				require.Contains(t, []string{
					string(errcodes.AuctionAlreadyEnded),
					string(errcodes.AuctionNotActive),
					string(errcodes.RaceLost),
					string(errcodes.BidTooLow),
				}, code.String())

				return
			}

			if result.InstantPurchase {
				mu.Lock()
				winners = append(winners, bidder)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// Winner-take-all: exactly one resolution may succeed.
	rq.Len(winners, 1)

	ended, err := h.engine.Snapshot("a1")
	rq.NoError(err)
	rq.Equal(entity.StatusEnded, ended.Status)
	rq.Equal(winners[0], ended.WinnerID)

	rq.Equal(1, h.bids.countByOutcome(entity.OutcomeWon))

	// Every losing hold was returned, the winning one debited.
	rq.Zero(h.funds.TotalHolds())
	rq.True(h.funds.Debited(winners[0], bidders[winners[0]]))
}
