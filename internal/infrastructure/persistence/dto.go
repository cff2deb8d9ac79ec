package persistence

import (
	"time"

	"github.com/shopspring/decimal"

	"bidhouse/internal/domain/entity"
)

// auctionSchema maps a row of the auctions table.
type auctionSchema struct {
	ID                   string           `db:"id"`
	SellerID             string           `db:"seller_id"`
	Title                string           `db:"title"`
	Type                 string           `db:"auction_type"`
	Status               string           `db:"status"`
	StartingPrice        decimal.Decimal  `db:"starting_price"`
	CurrentPrice         decimal.Decimal  `db:"current_price"`
	ReservePrice         *decimal.Decimal `db:"reserve_price"`
	InstantPurchasePrice *decimal.Decimal `db:"instant_purchase_price"`
	StartTime            time.Time        `db:"start_time"`
	EndTime              *time.Time       `db:"end_time"`
	TotalBids            int              `db:"total_bids"`
	LastBidder           string           `db:"last_bidder"`
	WinnerID             string           `db:"winner_id"`
	Version              int64            `db:"version"`
	Archived             bool             `db:"archived"`
	UpdatedAt            time.Time        `db:"updated_at"`
}

func fromAuction(a entity.Auction) auctionSchema {
	return auctionSchema{
		ID:                   a.ID,
		SellerID:             a.SellerID,
		Title:                a.Title,
		Type:                 string(a.Type),
		Status:               string(a.Status),
		StartingPrice:        a.StartingPrice,
		CurrentPrice:         a.CurrentPrice,
		ReservePrice:         a.ReservePrice,
		InstantPurchasePrice: a.InstantPurchasePrice,
		StartTime:            a.StartTime,
		EndTime:              a.EndTime,
		TotalBids:            a.TotalBids,
		LastBidder:           a.LastBidder,
		WinnerID:             a.WinnerID,
		Version:              int64(a.Version),
		UpdatedAt:            a.UpdatedAt,
	}
}

func (s auctionSchema) toDomain() entity.Auction {
	return entity.Auction{
		ID:                   s.ID,
		SellerID:             s.SellerID,
		Title:                s.Title,
		Type:                 entity.AuctionType(s.Type),
		Status:               entity.AuctionStatus(s.Status),
		StartingPrice:        s.StartingPrice,
		CurrentPrice:         s.CurrentPrice,
		ReservePrice:         s.ReservePrice,
		InstantPurchasePrice: s.InstantPurchasePrice,
		StartTime:            s.StartTime,
		EndTime:              s.EndTime,
		TotalBids:            s.TotalBids,
		LastBidder:           s.LastBidder,
		WinnerID:             s.WinnerID,
		Version:              uint64(s.Version),
		UpdatedAt:            s.UpdatedAt,
	}
}

// bidSchema maps a row of the bids table.
type bidSchema struct {
	ID           string          `db:"id"`
	AuctionID    string          `db:"auction_id"`
	BidderID     string          `db:"bidder_id"`
	Amount       decimal.Decimal `db:"amount"`
	SubmittedAt  time.Time       `db:"submitted_at"`
	Outcome      string          `db:"outcome"`
	RejectReason string          `db:"reject_reason"`
	Version      int64           `db:"version"`
}

func fromBid(b entity.Bid) bidSchema {
	return bidSchema{
		ID:           b.ID,
		AuctionID:    b.AuctionID,
		BidderID:     b.BidderID,
		Amount:       b.Amount,
		SubmittedAt:  b.SubmittedAt,
		Outcome:      string(b.Outcome),
		RejectReason: b.RejectReason,
		Version:      int64(b.Version),
	}
}

func (s bidSchema) toDomain() entity.Bid {
	return entity.Bid{
		ID:           s.ID,
		AuctionID:    s.AuctionID,
		BidderID:     s.BidderID,
		Amount:       s.Amount,
		SubmittedAt:  s.SubmittedAt,
		Outcome:      entity.BidOutcome(s.Outcome),
		RejectReason: s.RejectReason,
		Version:      uint64(s.Version),
	}
}
