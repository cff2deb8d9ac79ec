package server

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/pkg/errcodes"
	"bidhouse/pkg/rest"

	"github.com/rs/xid"
)

func newRESTAuction(a entity.Auction) rest.Auction {
	out := rest.Auction{
		ID:            a.ID,
		SellerID:      a.SellerID,
		Title:         a.Title,
		Type:          string(a.Type),
		Status:        string(a.Status),
		StartingPrice: a.StartingPrice.String(),
		CurrentPrice:  a.CurrentPrice.String(),
		StartTime:     a.StartTime.Format(time.RFC3339),
		TotalBids:     a.TotalBids,
		LastBidder:    a.LastBidder,
		WinnerID:      a.WinnerID,
		Version:       a.Version,
	}

	if a.ReservePrice != nil {
		s := a.ReservePrice.String()
		out.ReservePrice = &s
	}

	if a.InstantPurchasePrice != nil {
		s := a.InstantPurchasePrice.String()
		out.InstantPurchasePrice = &s
	}

	if a.EndTime != nil {
		s := a.EndTime.Format(time.RFC3339)
		out.EndTime = &s
	}

	return out
}

func newRESTBid(b entity.Bid) rest.Bid {
	return rest.Bid{
		ID:          b.ID,
		AuctionID:   b.AuctionID,
		BidderID:    b.BidderID,
		Amount:      b.Amount.String(),
		SubmittedAt: b.SubmittedAt.Format(time.RFC3339),
		Outcome:     string(b.Outcome),
		Reason:      b.RejectReason,
		Version:     b.Version,
	}
}

func newDomainAuction(request rest.CreateAuctionRequest) (entity.Auction, error) {
	startingPrice, err := parseAmount(request.StartingPrice)
	if err != nil {
		return entity.Auction{}, err
	}

	startTime, err := time.Parse(time.RFC3339, request.StartTime)
	if err != nil {
		return entity.Auction{}, domain.NewError(errcodes.ValidationError, "startTime must be RFC3339")
	}

	auction := entity.Auction{
		ID:            xid.New().String(),
		SellerID:      request.SellerID,
		Title:         request.Title,
		Type:          entity.AuctionType(request.Type),
		Status:        entity.StatusUpcoming,
		StartingPrice: startingPrice,
		StartTime:     startTime.UTC(),
	}

	if request.ReservePrice != nil {
		price, err := parseAmount(*request.ReservePrice)
		if err != nil {
			return entity.Auction{}, err
		}
		auction.ReservePrice = &price
	}

	if request.InstantPurchasePrice != nil {
		price, err := parseAmount(*request.InstantPurchasePrice)
		if err != nil {
			return entity.Auction{}, err
		}
		auction.InstantPurchasePrice = &price
	}

	if request.EndTime != nil {
		endTime, err := time.Parse(time.RFC3339, *request.EndTime)
		if err != nil {
			return entity.Auction{}, domain.NewError(errcodes.ValidationError, "endTime must be RFC3339")
		}

		utc := endTime.UTC()
		auction.EndTime = &utc
	}

	if auction.Type == entity.TypeTimed && auction.EndTime == nil {
		return entity.Auction{}, domain.NewError(errcodes.ValidationError, "timed auctions require endTime")
	}

	return auction, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, domain.NewError(
			errcodes.InvalidAmount,
			fmt.Sprintf("invalid amount %q", raw),
		)
	}

	return amount, nil
}

// deriveBidStatus maps a stored bid plus the live auction snapshot to the
// activity status shown to the user.
func deriveBidStatus(b entity.Bid, a entity.Auction) string {
	switch b.Outcome {
	case entity.OutcomeWon:
		return "won"
	case entity.OutcomeLost:
		return "lost"
	case entity.OutcomeRejected:
		return "lost"
	case entity.OutcomeSuperseded:
		if a.Status == entity.StatusActive {
			return "outbid"
		}
		return "lost"
	case entity.OutcomeAccepted:
		if a.Status == entity.StatusActive {
			if a.LastBidder == b.BidderID {
				return "winning"
			}
			return "active"
		}
		if a.WinnerID == b.BidderID {
			return "won"
		}
		return "lost"
	}

	return "active"
}
