// Package rest holds the wire types of the public HTTP API.
package rest

type PlaceBidRequest struct {
	BidderID string `json:"bidderId" validate:"required"`
	Amount   string `json:"amount"   validate:"required"`
}

type PlaceBidResponse struct {
	BidID           string `json:"bidId"`
	NewPrice        string `json:"newPrice"`
	TotalBids       int    `json:"totalBids"`
	Version         uint64 `json:"version"`
	AuctionEnded    bool   `json:"auctionEnded"`
	InstantPurchase bool   `json:"instantPurchase"`
}

type CreateAuctionRequest struct {
	SellerID             string  `json:"sellerId" validate:"required"`
	Title                string  `json:"title"`
	Type                 string  `json:"type" validate:"required,oneof=timed live"`
	StartingPrice        string  `json:"startingPrice" validate:"required"`
	ReservePrice         *string `json:"reservePrice,omitempty"`
	InstantPurchasePrice *string `json:"instantPurchasePrice,omitempty"`
	StartTime            string  `json:"startTime" validate:"required"`
	EndTime              *string `json:"endTime,omitempty"`
}

type Auction struct {
	ID                   string  `json:"id"`
	SellerID             string  `json:"sellerId"`
	Title                string  `json:"title"`
	Type                 string  `json:"type"`
	Status               string  `json:"status"`
	StartingPrice        string  `json:"startingPrice"`
	CurrentPrice         string  `json:"currentPrice"`
	ReservePrice         *string `json:"reservePrice,omitempty"`
	InstantPurchasePrice *string `json:"instantPurchasePrice,omitempty"`
	StartTime            string  `json:"startTime"`
	EndTime              *string `json:"endTime,omitempty"`
	TotalBids            int     `json:"totalBids"`
	LastBidder           string  `json:"lastBidder,omitempty"`
	WinnerID             string  `json:"winnerId,omitempty"`
	Version              uint64  `json:"version"`
}

type Bid struct {
	ID          string `json:"id"`
	AuctionID   string `json:"auctionId"`
	BidderID    string `json:"bidderId"`
	Amount      string `json:"amount"`
	SubmittedAt string `json:"submittedAt"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	Version     uint64 `json:"version,omitempty"`
}

// UserBid is a bid enriched with the status derived from the auction the
// bid belongs to.
type UserBid struct {
	Bid
	Status string `json:"status"`
}

type ActiveBidsCount struct {
	TotalActiveBids int `json:"totalActiveBids"`
	ActiveAuctions  int `json:"activeAuctions"`
}

// Error is the error envelope of the API, mirroring what reply.Error
// writes.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	SupportID string `json:"supportId"`
}
