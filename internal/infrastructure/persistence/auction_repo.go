package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/pkg/errcodes"
	"bidhouse/pkg/lox"
)

type AuctionRepository struct {
	db *sqlx.DB
}

func NewAuctionRepository(db *sqlx.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

// Upsert writes a ledger snapshot. The version guard keeps a late
// write-behind from clobbering a newer snapshot.
func (r *AuctionRepository) Upsert(ctx context.Context, auction entity.Auction) error {
	query := `
		INSERT INTO auctions (
			id, seller_id, title, auction_type, status,
			starting_price, current_price, reserve_price, instant_purchase_price,
			start_time, end_time, total_bids, last_bidder, winner_id,
			version, updated_at
		) VALUES (
			:id, :seller_id, :title, :auction_type, :status,
			:starting_price, :current_price, :reserve_price, :instant_purchase_price,
			:start_time, :end_time, :total_bids, :last_bidder, :winner_id,
			:version, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_price = EXCLUDED.current_price,
			total_bids = EXCLUDED.total_bids,
			last_bidder = EXCLUDED.last_bidder,
			winner_id = EXCLUDED.winner_id,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE auctions.version < EXCLUDED.version`

	if _, err := r.db.NamedExecContext(ctx, query, fromAuction(auction)); err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to upsert auction")
	}

	return nil
}

// GetByID returns one auction row, archived or not.
func (r *AuctionRepository) GetByID(ctx context.Context, id string) (entity.Auction, error) {
	query := `
		SELECT id, seller_id, title, auction_type, status,
		       starting_price, current_price, reserve_price, instant_purchase_price,
		       start_time, end_time, total_bids, last_bidder, winner_id,
		       version, archived, updated_at
		FROM auctions
		WHERE id = $1`

	var schema auctionSchema
	if err := r.db.GetContext(ctx, &schema, query, id); err != nil {
		if isNoRows(err) {
			return entity.Auction{}, domain.NewError(errcodes.AuctionNotFound, "auction not found")
		}
		return entity.Auction{}, domain.WrapError(err, errcodes.InternalServerError, "failed to get auction")
	}

	return schema.toDomain(), nil
}

// ListOpen returns every non-archived auction for ledger hydration.
func (r *AuctionRepository) ListOpen(ctx context.Context) ([]entity.Auction, error) {
	query := `
		SELECT id, seller_id, title, auction_type, status,
		       starting_price, current_price, reserve_price, instant_purchase_price,
		       start_time, end_time, total_bids, last_bidder, winner_id,
		       version, archived, updated_at
		FROM auctions
		WHERE NOT archived
		ORDER BY start_time`

	var schemas []auctionSchema
	if err := r.db.SelectContext(ctx, &schemas, query); err != nil {
		return nil, domain.WrapError(err, errcodes.InternalServerError, "failed to list auctions")
	}

	return lox.Map(schemas, auctionSchema.toDomain), nil
}

// Archive flags an auction so hydration skips it.
func (r *AuctionRepository) Archive(ctx context.Context, auctionID string) error {
	query := `UPDATE auctions SET archived = TRUE WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, auctionID)
	if err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to archive auction")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to check affected rows")
	}

	if rows == 0 {
		return domain.NewError(errcodes.AuctionNotFound, "auction not found")
	}

	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
