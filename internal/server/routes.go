package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bidhouse/pkg/httpx/reply"
)

func (s Server) RegisterRoutes(r chi.Router) {
	r.Route("/", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/auctions", func(r chi.Router) {
				r.Post("/", handler(s.postV1Auction))
				r.Route("/{auctionID}", func(r chi.Router) {
					r.Get("/", handler(s.getV1Auction))
					r.Post("/bids", handler(s.postV1Bid))
					r.Get("/bids", handler(s.getV1Bids))
					r.Post("/close", handler(s.postV1Close))
				})
			})
			r.Get("/users/{userID}/activity", handler(s.getV1UserActivity))
			r.Get("/stats/bids", handler(s.getV1ActiveBidsCount))
			r.Get("/stream", handler(s.getV1Stream))
		})
	})
}

func handler(f func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			reply.Error(r.Context(), w, asFailure(err))
		}
	}
}
