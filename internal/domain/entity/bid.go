package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type BidOutcome string

const (
	OutcomeAccepted   BidOutcome = "accepted"
	OutcomeSuperseded BidOutcome = "superseded"
	OutcomeWon        BidOutcome = "won"
	OutcomeLost       BidOutcome = "lost"
	OutcomeRejected   BidOutcome = "rejected"
)

// Bid is a write-once record of a single submission. Once the outcome is
// recorded the row is only ever touched for supersession, win/loss
// settlement, or the instant-purchase reversal.
type Bid struct {
	ID           string
	AuctionID    string
	BidderID     string
	Amount       decimal.Decimal
	SubmittedAt  time.Time
	Outcome      BidOutcome
	RejectReason string // stable error code, empty unless Outcome is rejected
	Version      uint64 // auction version produced by this bid, 0 if rejected
}
