package persistence_test

import (
	"context"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/internal/infrastructure/persistence"
	"bidhouse/pkg/dbtest"
	"bidhouse/pkg/errcodes"
	"bidhouse/pkg/tests"
)

// setupDB connects to the database named by TEST_PG_DSN and applies the
// schema. Tests are skipped when no database is available.
func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}

	db, err := sqlx.Connect("pgx", dsn)
	require.NoError(t, err)

	require.NoError(t, dbtest.MigrateFromFile(db, "../../../migrations/001_init.sql"))

	t.Cleanup(func() {
		_, _ = db.Exec(`TRUNCATE bids, auctions`)
		_ = db.Close()
	})

	return db
}

func randomAuction(random tests.Randomizer) entity.Auction {
	end := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)

	a := entity.Auction{
		ID:            xid.New().String(),
		SellerID:      xid.New().String(),
		Title:         "integration lot",
		Type:          entity.TypeTimed,
		Status:        entity.StatusActive,
		StartingPrice: decimal.NewFromInt(100),
		CurrentPrice:  decimal.NewFromInt(100),
		StartTime:     time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond),
		EndTime:       &end,
		Version:       1,
		UpdatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}

	if random.Bool() {
		reserve := decimal.NewFromInt(500)
		a.ReservePrice = &reserve
	}

	return a
}

func TestAuctionRepository(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	db := setupDB(t)
	repo := persistence.NewAuctionRepository(db)
	random := tests.NewRandomizer()

	auction := randomAuction(random)

	rq.NoError(repo.Upsert(ctx, auction))

	got, err := repo.GetByID(ctx, auction.ID)
	rq.NoError(err)
	rq.Equal(auction.ID, got.ID)
	rq.Equal(uint64(1), got.Version)
	rq.True(got.CurrentPrice.Equal(auction.CurrentPrice))

	// Newer snapshot wins.
	auction.CurrentPrice = decimal.NewFromInt(150)
	auction.TotalBids = 1
	auction.Version = 2
	rq.NoError(repo.Upsert(ctx, auction))

	// A late write-behind of an older snapshot must not clobber it.
	stale := auction
	stale.CurrentPrice = decimal.NewFromInt(100)
	stale.Version = 1
	rq.NoError(repo.Upsert(ctx, stale))

	got, err = repo.GetByID(ctx, auction.ID)
	rq.NoError(err)
	rq.Equal(uint64(2), got.Version)
	rq.True(got.CurrentPrice.Equal(decimal.NewFromInt(150)))

	open, err := repo.ListOpen(ctx)
	rq.NoError(err)
	rq.NotEmpty(open)

	rq.NoError(repo.Archive(ctx, auction.ID))

	open, err = repo.ListOpen(ctx)
	rq.NoError(err)
	for _, a := range open {
		rq.NotEqual(auction.ID, a.ID, "archived auctions must not hydrate")
	}

	_, err = repo.GetByID(ctx, "missing")
	rq.True(domain.HasCode(err, errcodes.AuctionNotFound))

	err = repo.Archive(ctx, "missing")
	rq.True(domain.HasCode(err, errcodes.AuctionNotFound))
}

func TestBidRepository(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	db := setupDB(t)

	auctions := persistence.NewAuctionRepository(db)
	repo := persistence.NewBidRepository(db)
	random := tests.NewRandomizer()

	auction := randomAuction(random)
	rq.NoError(auctions.Upsert(ctx, auction))

	bidder := xid.New().String()

	first := entity.Bid{
		ID:          xid.New().String(),
		AuctionID:   auction.ID,
		BidderID:    bidder,
		Amount:      decimal.NewFromInt(105),
		SubmittedAt: time.Now().UTC().Add(-time.Second).Truncate(time.Microsecond),
		Outcome:     entity.OutcomeAccepted,
		Version:     2,
	}
	second := first
	second.ID = xid.New().String()
	second.Amount = decimal.NewFromInt(130)
	second.SubmittedAt = time.Now().UTC().Truncate(time.Microsecond)
	second.Version = 3

	rq.NoError(repo.Insert(ctx, first))
	rq.NoError(repo.Insert(ctx, second))

	rq.NoError(repo.UpdateOutcome(ctx, first.ID, entity.OutcomeSuperseded, ""))

	byAuction, err := repo.ListByAuction(ctx, auction.ID)
	rq.NoError(err)
	rq.Len(byAuction, 2)
	rq.Equal(second.ID, byAuction[0].ID, "newest first")
	rq.Equal(entity.OutcomeSuperseded, byAuction[1].Outcome)

	byBidder, err := repo.ListByBidder(ctx, bidder)
	rq.NoError(err)
	rq.Len(byBidder, 2)

	err = repo.UpdateOutcome(ctx, "missing", entity.OutcomeLost, "")
	rq.True(domain.HasCode(err, errcodes.BidNotFound))
}
