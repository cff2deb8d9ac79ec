package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
	"bidhouse/internal/domain/service/engine"
	"bidhouse/pkg/errcodes"
	"bidhouse/pkg/httpx/reply"
	"bidhouse/pkg/httpx/req"
	"bidhouse/pkg/lox"
	"bidhouse/pkg/rest"
)

type AuctionServer struct {
	engine *engine.Engine
	stream StreamServer
}

func NewAuctionServer(e *engine.Engine, stream StreamServer) AuctionServer {
	return AuctionServer{
		engine: e,
		stream: stream,
	}
}

func (s AuctionServer) postV1Auction(w http.ResponseWriter, r *http.Request) error {
	var request rest.CreateAuctionRequest
	if err := req.Read(r, &request); err != nil {
		return err
	}

	auction, err := newDomainAuction(request)
	if err != nil {
		return err
	}

	created, err := s.engine.Register(r.Context(), auction)
	if err != nil {
		return err
	}

	reply.JSON(r.Context(), w, http.StatusCreated, newRESTAuction(created))

	return nil
}

func (s AuctionServer) getV1Auction(w http.ResponseWriter, r *http.Request) error {
	auctionID := chi.URLParam(r, "auctionID")

	snap, err := s.engine.Snapshot(auctionID)
	if err != nil {
		return err
	}

	reply.JSON(r.Context(), w, http.StatusOK, newRESTAuction(snap))

	return nil
}

func (s AuctionServer) postV1Bid(w http.ResponseWriter, r *http.Request) error {
	auctionID := chi.URLParam(r, "auctionID")

	var request rest.PlaceBidRequest
	if err := req.Read(r, &request); err != nil {
		return err
	}

	amount, err := parseAmount(request.Amount)
	if err != nil {
		return err
	}

	result, err := s.engine.PlaceBid(r.Context(), auctionID, request.BidderID, amount)
	if err != nil {
		return err
	}

	reply.JSON(r.Context(), w, http.StatusOK, rest.PlaceBidResponse{
		BidID:           result.Bid.ID,
		NewPrice:        result.NewPrice.String(),
		TotalBids:       result.TotalBids,
		Version:         result.Version,
		AuctionEnded:    result.AuctionEnded,
		InstantPurchase: result.InstantPurchase,
	})

	return nil
}

func (s AuctionServer) getV1Bids(w http.ResponseWriter, r *http.Request) error {
	auctionID := chi.URLParam(r, "auctionID")

	bids, err := s.engine.BidsForAuction(r.Context(), auctionID)
	if err != nil {
		return err
	}

	reply.JSON(r.Context(), w, http.StatusOK, lox.Map(bids, newRESTBid))

	return nil
}

func (s AuctionServer) postV1Close(w http.ResponseWriter, r *http.Request) error {
	auctionID := chi.URLParam(r, "auctionID")

	if err := s.engine.Close(r.Context(), auctionID); err != nil {
		return err
	}

	snap, err := s.engine.Snapshot(auctionID)
	if err != nil {
		return err
	}

	reply.JSON(r.Context(), w, http.StatusOK, newRESTAuction(snap))

	return nil
}

func (s AuctionServer) getV1UserActivity(w http.ResponseWriter, r *http.Request) error {
	userID := chi.URLParam(r, "userID")

	bids, err := s.engine.UserActivity(r.Context(), userID)
	if err != nil {
		return err
	}

	out := make([]rest.UserBid, 0, len(bids))

	for _, b := range bids {
		snap, err := s.engine.Snapshot(b.AuctionID)
		if err != nil {
			if domain.HasCode(err, errcodes.NotFound) {
				// Archived auction: the recorded outcome is final.
				snap = entity.Auction{ID: b.AuctionID, Status: entity.StatusEnded}
			} else {
				return err
			}
		}

		out = append(out, rest.UserBid{
			Bid:    newRESTBid(b),
			Status: deriveBidStatus(b, snap),
		})
	}

	reply.JSON(r.Context(), w, http.StatusOK, out)

	return nil
}

func (s AuctionServer) getV1ActiveBidsCount(w http.ResponseWriter, r *http.Request) error {
	stats := s.engine.Stats()

	reply.JSON(r.Context(), w, http.StatusOK, rest.ActiveBidsCount{
		TotalActiveBids: stats.TotalActiveBids,
		ActiveAuctions:  stats.ActiveAuctions,
	})

	return nil
}

func (s AuctionServer) getV1Stream(w http.ResponseWriter, r *http.Request) error {
	return s.stream.Serve(w, r)
}
