package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DiscoveryEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "discovery_events_total", Help: "Discovery events produced"},
		[]string{"source"},
	)
	DiscoveryDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "discovery_dropped_total", Help: "Discovery events dropped on a full channel"},
	)
	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "admission_rejections_total", Help: "Discovery events not admitted"},
		[]string{"reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Swap executions by outcome"},
		[]string{"side", "outcome"},
	)
	OrderRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_retries_total", Help: "Gateway step retries"},
		[]string{"side", "step"},
	)
	ExecutionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execution_seconds",
			Help:    "Wall time from quote request to confirmation",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
		},
		[]string{"side"},
	)
	PositionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "positions_active", Help: "Positions in Opening, Open or Closing"},
	)
	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "exits_total", Help: "Exit rules fired"},
		[]string{"reason"},
	)
	PriceErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "price_errors_total", Help: "Monitor price lookups that failed or returned nothing"},
	)
)

func init() {
	prometheus.MustRegister(
		DiscoveryEvents, DiscoveryDropped, Rejections,
		OrdersTotal, OrderRetries, ExecutionSeconds,
		PositionsActive, ExitsTotal, PriceErrors,
	)
}

// Route mounts an extra handler next to /metrics.
type Route struct {
	Path    string
	Handler http.Handler
}

func Serve(addr string, routes ...Route) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for _, r := range routes {
		mux.Handle(r.Path, r.Handler)
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
