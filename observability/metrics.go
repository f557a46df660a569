package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// AuctionMetrics records auction activity and RPC handler outcomes.
type AuctionMetrics struct {
	purchases  *prometheus.CounterVec
	units      prometheus.Counter
	raised     prometheus.Counter
	rpcRequest *prometheus.CounterVec
	rpcLatency *prometheus.HistogramVec
}

var (
	auctionMetricsOnce sync.Once
	auctionRegistry    *AuctionMetrics
)

// Metrics returns the lazily-initialised auction metrics registry.
func Metrics() *AuctionMetrics {
	auctionMetricsOnce.Do(func() {
		auctionRegistry = &AuctionMetrics{
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dutchdrop",
				Subsystem: "auction",
				Name:      "purchases_total",
				Help:      "Purchase operations segmented by outcome.",
			}, []string{"outcome"}),
			units: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dutchdrop",
				Subsystem: "auction",
				Name:      "units_minted_total",
				Help:      "Unique items sold through the auction.",
			}),
			raised: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "dutchdrop",
				Subsystem: "auction",
				Name:      "raised_wei_total",
				Help:      "Proceeds recorded by committed purchases, in base units.",
			}),
			rpcRequest: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dutchdrop",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dutchdrop",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			auctionRegistry.purchases,
			auctionRegistry.units,
			auctionRegistry.raised,
			auctionRegistry.rpcRequest,
			auctionRegistry.rpcLatency,
		)
	})
	return auctionRegistry
}

// ObservePurchase records a committed purchase. Cost is the exact amount the
// purchase added to the proceeds, so concurrent observations sum correctly
// regardless of ordering.
func (m *AuctionMetrics) ObservePurchase(units uint64, cost *big.Int) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues("ok").Inc()
	m.units.Add(float64(units))
	if cost != nil {
		raised, _ := new(big.Float).SetInt(cost).Float64()
		m.raised.Add(raised)
	}
}

// ObservePurchaseRejected records a rejected purchase.
func (m *AuctionMetrics) ObservePurchaseRejected() {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues("rejected").Inc()
}

// ObserveRPC records one JSON-RPC request outcome and latency.
func (m *AuctionMetrics) ObserveRPC(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.rpcRequest.WithLabelValues(method, outcome).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(seconds)
}
