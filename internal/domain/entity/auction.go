package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionStatus string

const (
	StatusUpcoming AuctionStatus = "upcoming"
	StatusActive   AuctionStatus = "active"
	StatusEnded    AuctionStatus = "ended"
)

type AuctionType string

const (
	TypeTimed AuctionType = "timed"
	TypeLive  AuctionType = "live"
)

// Auction is the authoritative state of a single lot. All mutations go
// through the ledger CAS path; Version grows by exactly one per accepted
// mutation and CurrentPrice never decreases.
type Auction struct {
	ID                   string
	SellerID             string
	Title                string
	Type                 AuctionType
	Status               AuctionStatus
	StartingPrice        decimal.Decimal
	CurrentPrice         decimal.Decimal
	ReservePrice         *decimal.Decimal
	InstantPurchasePrice *decimal.Decimal
	StartTime            time.Time
	EndTime              *time.Time // nil for live auctions
	TotalBids            int
	LastBidder           string // empty until the first accepted bid
	WinnerID             string // set when Status becomes ended with a winner
	Version              uint64
	UpdatedAt            time.Time
}

// HasWinner reports whether an ended auction produced a winner. An auction
// that expires below its reserve price ends without one.
func (a Auction) HasWinner() bool {
	return a.Status == StatusEnded && a.WinnerID != ""
}

// ReserveMet reports whether the reserve price, if any, is covered by the
// current price.
func (a Auction) ReserveMet() bool {
	if a.ReservePrice == nil {
		return true
	}

	return a.CurrentPrice.GreaterThanOrEqual(*a.ReservePrice)
}

// InstantPurchaseReached reports whether price has crossed the buy-now
// threshold. Always false when no threshold is configured.
func (a Auction) InstantPurchaseReached(price decimal.Decimal) bool {
	if a.InstantPurchasePrice == nil {
		return false
	}

	return price.GreaterThanOrEqual(*a.InstantPurchasePrice)
}

// Expired reports whether a timed auction is past its end time. Live
// auctions never expire by clock.
func (a Auction) Expired(now time.Time) bool {
	if a.Type != TypeTimed || a.EndTime == nil {
		return false
	}

	return !now.Before(*a.EndTime)
}
