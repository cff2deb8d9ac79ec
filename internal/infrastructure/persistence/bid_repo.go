package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/pkg/errcodes"
	"bidhouse/pkg/lox"
)

type BidRepository struct {
	db *sqlx.DB
}

func NewBidRepository(db *sqlx.DB) *BidRepository {
	return &BidRepository{db: db}
}

// withTx runs fn inside a transaction.
func (r *BidRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return domain.WrapError(
				fmt.Errorf("%w; rollback: %v", err, rbErr),
				errcodes.InternalServerError,
				"transaction failed",
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to commit")
	}

	return nil
}

// Insert appends a write-once bid record.
func (r *BidRepository) Insert(ctx context.Context, bid entity.Bid) error {
	query := `
		INSERT INTO bids (id, auction_id, bidder_id, amount, submitted_at, outcome, reject_reason, version)
		VALUES (:id, :auction_id, :bidder_id, :amount, :submitted_at, :outcome, :reject_reason, :version)`

	if _, err := r.db.NamedExecContext(ctx, query, fromBid(bid)); err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to insert bid")
	}

	return nil
}

// UpdateOutcome records supersession, settlement, or the instant-purchase
// reversal. The amount and placement fields are immutable; only the outcome
// columns ever change.
func (r *BidRepository) UpdateOutcome(
	ctx context.Context,
	bidID string,
	outcome entity.BidOutcome,
	reason string,
) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `UPDATE bids SET outcome = $1, reject_reason = $2 WHERE id = $3`

		res, err := tx.ExecContext(ctx, query, string(outcome), reason, bidID)
		if err != nil {
			return domain.WrapError(err, errcodes.InternalServerError, "failed to update bid outcome")
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return domain.WrapError(err, errcodes.InternalServerError, "failed to check affected rows")
		}

		if rows == 0 {
			return domain.NewError(errcodes.BidNotFound, "bid not found")
		}

		return nil
	})
}

// ListByAuction returns the auction's bids, newest first.
func (r *BidRepository) ListByAuction(ctx context.Context, auctionID string) ([]entity.Bid, error) {
	query := `
		SELECT id, auction_id, bidder_id, amount, submitted_at, outcome, reject_reason, version
		FROM bids
		WHERE auction_id = $1
		ORDER BY submitted_at DESC, version DESC`

	return r.list(ctx, query, auctionID)
}

// ListByBidder returns a user's bids across auctions, newest first.
func (r *BidRepository) ListByBidder(ctx context.Context, bidderID string) ([]entity.Bid, error) {
	query := `
		SELECT id, auction_id, bidder_id, amount, submitted_at, outcome, reject_reason, version
		FROM bids
		WHERE bidder_id = $1
		ORDER BY submitted_at DESC`

	return r.list(ctx, query, bidderID)
}

func (r *BidRepository) list(ctx context.Context, query string, arg any) ([]entity.Bid, error) {
	var schemas []bidSchema
	if err := r.db.SelectContext(ctx, &schemas, query, arg); err != nil {
		return nil, domain.WrapError(err, errcodes.InternalServerError, "failed to list bids")
	}

	return lox.Map(schemas, bidSchema.toDomain), nil
}
