package errcodes

import "git.appkode.ru/pub/go/failure"

const (
	InternalServerError failure.ErrorCode = "InternalServerError"
	TimeoutExceeded     failure.ErrorCode = "TimeoutExceeded"
	Forbidden           failure.ErrorCode = "Forbidden"
	ValidationError     failure.ErrorCode = "ValidationError"
	NotFound            failure.ErrorCode = "NotFound"

	// Bid admission rejections. These are stable: the calling layer keys
	// user-facing messages off them.
	AuctionNotActive          failure.ErrorCode = "AuctionNotActive"
	SelfBid                   failure.ErrorCode = "SelfBid"
	BidTooLow                 failure.ErrorCode = "BidTooLow"
	InsufficientBalance       failure.ErrorCode = "InsufficientBalance"
	RaceLost                  failure.ErrorCode = "RaceLost"
	AuctionAlreadyEnded       failure.ErrorCode = "AuctionAlreadyEnded"
	Timeout                   failure.ErrorCode = "Timeout"
	BalanceServiceUnavailable failure.ErrorCode = "BalanceServiceUnavailable"

	// Ledger and lifecycle.
	AuctionNotFound   failure.ErrorCode = "AuctionNotFound"
	VersionConflict   failure.ErrorCode = "VersionConflict"
	LedgerCorrupted   failure.ErrorCode = "LedgerCorrupted"
	InvalidTransition failure.ErrorCode = "InvalidTransition"
	InvalidAmount     failure.ErrorCode = "InvalidAmount"
	InvalidAuctionID  failure.ErrorCode = "InvalidAuctionID"
	InvalidUserID     failure.ErrorCode = "InvalidUserID"
	ReplayExpired     failure.ErrorCode = "ReplayExpired"
	BidNotFound       failure.ErrorCode = "BidNotFound"
)
