package server

import (
	"git.appkode.ru/pub/go/failure"

	"bidhouse/internal/domain"
	"bidhouse/pkg/errcodes"
)

// asFailure lifts a domain error into the failure class reply.Error knows
// how to map to an HTTP status. Non-domain errors pass through untouched.
func asFailure(err error) error {
	code, ok := domain.GetCode(err)
	if !ok {
		return err
	}

	opts := []failure.Option{
		failure.WithCode(code),
		failure.WithDescription(err.Error()),
	}

	switch code {
	case errcodes.ValidationError,
		errcodes.InvalidAmount,
		errcodes.InvalidAuctionID,
		errcodes.InvalidUserID:
		return failure.NewInvalidArgumentErrorFromError(err, opts...)

	case errcodes.NotFound,
		errcodes.AuctionNotFound,
		errcodes.BidNotFound:
		return failure.NewNotFoundErrorFromError(err, opts...)

	case errcodes.SelfBid,
		errcodes.BidTooLow,
		errcodes.InsufficientBalance:
		return failure.NewUnprocessableEntityErrorFromError(err, opts...)

	case errcodes.AuctionNotActive,
		errcodes.AuctionAlreadyEnded,
		errcodes.RaceLost,
		errcodes.VersionConflict,
		errcodes.ReplayExpired,
		errcodes.InvalidTransition:
		return failure.NewConflictErrorFromError(err, opts...)

	case errcodes.Forbidden:
		return failure.NewForbiddenErrorFromError(err, opts...)

	case errcodes.Timeout, errcodes.BalanceServiceUnavailable:
		// The class here is a carrier; reply.Error overrides the status
		// for these codes (504 and 503).
		return failure.NewConflictErrorFromError(err, opts...)

	default:
		// Internal codes surface as a plain 500.
		return err
	}
}
