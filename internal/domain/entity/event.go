package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventBidAccepted       EventKind = "bidAccepted"
	EventAuctionStarted    EventKind = "auctionStarted"
	EventAuctionEndingSoon EventKind = "auctionEndingSoon"
	EventAuctionEnded      EventKind = "auctionEnded"
	EventUserOutbid        EventKind = "userOutbid"
	EventBidReversed       EventKind = "bidReversed"
)

const TopicGlobal = "global"

func TopicAuction(auctionID string) string {
	return fmt.Sprintf("auction:%s", auctionID)
}

func TopicUser(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// Event is a single state-change notification fanned out to subscribers.
// Version is the auction version that produced the event; Seq is assigned
// per topic by the fan-out channel and drives replay on reconnect.
type Event struct {
	Kind            EventKind       `json:"kind"`
	AuctionID       string          `json:"auctionId"`
	Version         uint64          `json:"version"`
	Seq             uint64          `json:"seq"`
	Timestamp       time.Time       `json:"timestamp"`
	NewPrice        decimal.Decimal `json:"newPrice,omitempty"`
	TotalBids       int             `json:"totalBids,omitempty"`
	BidderID        string          `json:"bidderId,omitempty"`
	OutbidUserID    string          `json:"outbidUserId,omitempty"`
	WinnerID        string          `json:"winnerId,omitempty"`
	InstantPurchase bool            `json:"instantPurchase,omitempty"`
	EndTime         *time.Time      `json:"endTime,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}
