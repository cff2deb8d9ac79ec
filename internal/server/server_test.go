package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/internal/domain/service/engine"
	"bidhouse/internal/domain/service/ledger"
	"bidhouse/internal/fanout"
	"bidhouse/internal/infrastructure/balance"
	"bidhouse/internal/server"
	"bidhouse/pkg/errcodes"
	"bidhouse/pkg/rest"
	"bidhouse/pkg/tests"
)

type noopRepo struct{}

func (noopRepo) Upsert(context.Context, entity.Auction) error       { return nil }
func (noopRepo) ListOpen(context.Context) ([]entity.Auction, error) { return nil, nil }
func (noopRepo) Archive(context.Context, string) error              { return nil }

type memoryBids struct {
	mu    sync.Mutex
	rows  map[string]entity.Bid
	order []string
}

func (b *memoryBids) Insert(_ context.Context, bid entity.Bid) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rows[bid.ID] = bid
	b.order = append(b.order, bid.ID)

	return nil
}

func (b *memoryBids) UpdateOutcome(_ context.Context, bidID string, outcome entity.BidOutcome, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	row, ok := b.rows[bidID]
	if !ok {
		return domain.NewError(errcodes.BidNotFound, "bid not found")
	}

	row.Outcome = outcome
	row.RejectReason = reason
	b.rows[bidID] = row

	return nil
}

func (b *memoryBids) ListByAuction(_ context.Context, auctionID string) ([]entity.Bid, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []entity.Bid
	for _, id := range b.order {
		if b.rows[id].AuctionID == auctionID {
			out = append(out, b.rows[id])
		}
	}

	return out, nil
}

func (b *memoryBids) ListByBidder(_ context.Context, bidderID string) ([]entity.Bid, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []entity.Bid
	for _, id := range b.order {
		if b.rows[id].BidderID == bidderID {
			out = append(out, b.rows[id])
		}
	}

	return out, nil
}

type nopNotify struct{}

func (nopNotify) EnqueueDeliver(context.Context, string, entity.Event) error { return nil }

type testAPI struct {
	client tests.APIClient
	funds  *balance.Fake
	engine *engine.Engine
}

func setupAPI(t *testing.T) testAPI {
	t.Helper()

	funds := balance.NewFake()
	hub := fanout.NewHub(fanout.NewMemoryReplayLog(128))

	eng := engine.New(
		ledger.New(noopRepo{}),
		funds,
		&memoryBids{rows: make(map[string]entity.Bid)},
		hub,
		nopNotify{},
		engine.NewMetrics(prometheus.NewRegistry()),
	)

	router := chi.NewRouter()
	server.NewServer(server.NewAuctionServer(eng, server.NewStreamServer(hub))).RegisterRoutes(router)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return testAPI{
		client: tests.NewAPIClient(ts.URL, ts.Client()),
		funds:  funds,
		engine: eng,
	}
}

func (a testAPI) activeAuction(t *testing.T, id string, startingPrice int64) {
	t.Helper()

	end := time.Now().UTC().Add(time.Hour)

	_, err := a.engine.Register(context.Background(), entity.Auction{
		ID:            id,
		SellerID:      "seller-1",
		Title:         "test lot",
		Type:          entity.TypeTimed,
		Status:        entity.StatusActive,
		StartingPrice: decimal.NewFromInt(startingPrice),
		StartTime:     time.Now().UTC().Add(-time.Minute),
		EndTime:       &end,
	})
	require.NoError(t, err)
}

func TestCreateAndGetAuction(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	api := setupAPI(t)

	request := rest.CreateAuctionRequest{
		SellerID:      "seller-1",
		Title:         "vintage amp",
		Type:          "live",
		StartingPrice: "100",
		StartTime:     time.Now().UTC().Format(time.RFC3339),
	}

	var created rest.Auction

	resp, err := api.client.Post(ctx, "/v1/auctions", nil, request, &created, nil)
	rq.NoError(err)
	rq.Equal(http.StatusCreated, resp.StatusCode)
	rq.NotEmpty(created.ID)
	rq.Equal("upcoming", created.Status)
	rq.Equal("100", created.CurrentPrice)
	rq.Equal(uint64(1), created.Version)

	var fetched rest.Auction

	resp, err = api.client.Get(ctx, "/v1/auctions/"+created.ID, nil, &fetched, nil)
	rq.NoError(err)
	rq.Equal(http.StatusOK, resp.StatusCode)
	rq.Equal(created.ID, fetched.ID)
}

func TestGetAuctionNotFound(t *testing.T) {
	rq := require.New(t)

	api := setupAPI(t)

	var apiErr rest.Error

	resp, err := api.client.Get(context.Background(), "/v1/auctions/missing", nil, nil, &apiErr)
	rq.NoError(err)
	rq.Equal(http.StatusNotFound, resp.StatusCode)
	rq.Equal(string(errcodes.NotFound), apiErr.Code)
}

func TestPlaceBidEndpoint(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	api := setupAPI(t)
	api.activeAuction(t, "a1", 1000)
	api.funds.Deposit("u1", decimal.NewFromInt(5000))

	var placed rest.PlaceBidResponse

	resp, err := api.client.Post(ctx, "/v1/auctions/a1/bids", nil,
		rest.PlaceBidRequest{BidderID: "u1", Amount: "1050"}, &placed, nil)
	rq.NoError(err)
	rq.Equal(http.StatusOK, resp.StatusCode)
	rq.Equal("1050", placed.NewPrice)
	rq.Equal(1, placed.TotalBids)
	rq.Equal(uint64(2), placed.Version)
	rq.False(placed.AuctionEnded)
}

func TestPlaceBidEndpointErrors(t *testing.T) {
	ctx := context.Background()

	api := setupAPI(t)
	api.activeAuction(t, "a1", 1000)
	api.funds.Deposit("u1", decimal.NewFromInt(5000))
	api.funds.Deposit("broke", decimal.NewFromInt(10))

	testCases := []struct {
		name       string
		request    rest.PlaceBidRequest
		wantStatus int
		wantCode   string
	}{
		{
			name:       "Bid below minimum increment",
			request:    rest.PlaceBidRequest{BidderID: "u1", Amount: "1049"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   string(errcodes.BidTooLow),
		},
		{
			name:       "Self bid",
			request:    rest.PlaceBidRequest{BidderID: "seller-1", Amount: "1050"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   string(errcodes.SelfBid),
		},
		{
			name:       "Insufficient balance",
			request:    rest.PlaceBidRequest{BidderID: "broke", Amount: "1050"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   string(errcodes.InsufficientBalance),
		},
		{
			name:       "Malformed amount",
			request:    rest.PlaceBidRequest{BidderID: "u1", Amount: "not-a-number"},
			wantStatus: http.StatusBadRequest,
			wantCode:   string(errcodes.InvalidAmount),
		},
		{
			name:       "Missing bidder id",
			request:    rest.PlaceBidRequest{Amount: "1050"},
			wantStatus: http.StatusBadRequest,
			wantCode:   string(errcodes.ValidationError),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rq := require.New(t)

			var apiErr rest.Error

			resp, err := api.client.Post(ctx, "/v1/auctions/a1/bids", nil, tc.request, nil, &apiErr)
			rq.NoError(err)
			rq.Equal(tc.wantStatus, resp.StatusCode)
			rq.Equal(tc.wantCode, apiErr.Code)
		})
	}
}

func TestCloseAndActivityEndpoints(t *testing.T) {
	rq := require.New(t)
	ctx := context.Background()

	api := setupAPI(t)
	api.activeAuction(t, "a1", 100)
	api.funds.Deposit("u1", decimal.NewFromInt(1000))

	var placed rest.PlaceBidResponse

	resp, err := api.client.Post(ctx, "/v1/auctions/a1/bids", nil,
		rest.PlaceBidRequest{BidderID: "u1", Amount: "125"}, &placed, nil)
	rq.NoError(err)
	rq.Equal(http.StatusOK, resp.StatusCode)

	var stats rest.ActiveBidsCount

	resp, err = api.client.Get(ctx, "/v1/stats/bids", nil, &stats, nil)
	rq.NoError(err)
	rq.Equal(http.StatusOK, resp.StatusCode)
	rq.Equal(1, stats.TotalActiveBids)
	rq.Equal(1, stats.ActiveAuctions)

	var closed rest.Auction

	resp, err = api.client.Post(ctx, "/v1/auctions/a1/close", nil, nil, &closed, nil)
	rq.NoError(err)
	rq.Equal(http.StatusOK, resp.StatusCode)
	rq.Equal("ended", closed.Status)
	rq.Equal("u1", closed.WinnerID)

	var activity []rest.UserBid

	resp, err = api.client.Get(ctx, "/v1/users/u1/activity", nil, &activity, nil)
	rq.NoError(err)
	rq.Equal(http.StatusOK, resp.StatusCode)
	rq.Len(activity, 1)
	rq.Equal("won", activity[0].Status)

	var bids []rest.Bid

	resp, err = api.client.Get(ctx, "/v1/auctions/a1/bids", nil, &bids, nil)
	rq.NoError(err)
	rq.Equal(http.StatusOK, resp.StatusCode)
	rq.Len(bids, 1)
	rq.Equal("won", bids[0].Outcome)
}
