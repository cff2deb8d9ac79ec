package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bidhouse/internal/domain"
	"bidhouse/internal/domain/entity"
)

// Metrics are the engine's Prometheus instruments, scraped by the metric
// server module.
type Metrics struct {
	BidsAccepted     prometheus.Counter
	BidsRejected     *prometheus.CounterVec
	BidsReversed     prometheus.Counter
	CASConflicts     prometheus.Counter
	InstantPurchases prometheus.Counter
	ActiveAuctions   prometheus.Gauge
	PlacementSeconds prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BidsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bidhouse",
			Name:      "bids_accepted_total",
			Help:      "Bids that passed admission and advanced auction state.",
		}),
		BidsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bidhouse",
			Name:      "bids_rejected_total",
			Help:      "Rejected bids by stable reason code.",
		}, []string{"reason"}),
		BidsReversed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bidhouse",
			Name:      "bids_reversed_total",
			Help:      "Admitted bids retroactively reversed by instant-purchase resolution.",
		}),
		CASConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bidhouse",
			Name:      "ledger_cas_conflicts_total",
			Help:      "Version conflicts observed on the ledger CAS path.",
		}),
		InstantPurchases: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bidhouse",
			Name:      "instant_purchases_total",
			Help:      "Auctions ended by reaching the buy-now threshold.",
		}),
		ActiveAuctions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bidhouse",
			Name:      "active_auctions",
			Help:      "Auctions currently in the active status.",
		}),
		PlacementSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bidhouse",
			Name:      "bid_placement_seconds",
			Help:      "End-to-end bid placement latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObservePlacement(elapsed time.Duration, err error) {
	m.PlacementSeconds.Observe(elapsed.Seconds())

	if err == nil {
		m.BidsAccepted.Inc()
		return
	}

	if code, ok := domain.GetCode(err); ok {
		m.BidsRejected.WithLabelValues(code.String()).Inc()
		return
	}

	m.BidsRejected.WithLabelValues("internal").Inc()
}

func (m *Metrics) ObserveAuctions(auctions []entity.Auction) {
	var active int

	for _, a := range auctions {
		if a.Status == entity.StatusActive {
			active++
		}
	}

	m.ActiveAuctions.Set(float64(active))
}
