package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/types"
	fmath "github.com/michaelpento.lv/flasharb/utils/math"
)

const Namespace = "flasharb"

// Cycle outcomes
const (
	OutcomeCompleted  = "completed"
	OutcomeQuoteError = "quote_error"
	OutcomeStalePrice = "stale_price"
	OutcomeGasError   = "gas_error"
	OutcomeDegraded   = "degraded"
)

// NewRegistry returns a registry carrying the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Serve exposes the registry on addr until the server fails
func Serve(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return server
}

// ArbitrageMetrics tracks the per-block evaluation pipeline
type ArbitrageMetrics struct {
	Cycles          *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	QuoteErrors     *prometheus.CounterVec
	GrossOutput     *prometheus.GaugeVec
	NetProfit       *prometheus.GaugeVec
	Opportunities   *prometheus.CounterVec
	Submissions     *prometheus.CounterVec
	DroppedEvents   *prometheus.CounterVec
	ReferencePrice  prometheus.Gauge
	PriceErrors     prometheus.Counter
	LastBlock       prometheus.Gauge
	TelemetryErrors prometheus.Counter
}

// NewArbitrageMetrics registers the collectors with reg. A nil reg creates
// unregistered collectors, which is what tests want.
func NewArbitrageMetrics(reg prometheus.Registerer, namespace string) *ArbitrageMetrics {
	factory := promauto.With(reg)

	return &ArbitrageMetrics{
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of block evaluation cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a block evaluation cycle",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		QuoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_errors_total",
			Help:      "Total number of failed quote requests by venue",
		}, []string{"venue"}),
		GrossOutput: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gross_output",
			Help:      "Round-trip output in whole stablecoin units",
		}, []string{"pair", "direction"}),
		NetProfit: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "net_profit",
			Help:      "Round-trip net profit after gas in whole stablecoin units",
		}, []string{"pair", "direction"}),
		Opportunities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Total number of profitable round trips detected",
		}, []string{"pair", "direction"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of flash loan submissions by result",
		}, []string{"pair", "direction", "result"}),
		DroppedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_block_events_total",
			Help:      "Total number of block events not evaluated",
		}, []string{"reason"}),
		ReferencePrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reference_price",
			Help:      "Latest native asset price in whole stablecoin units",
		}),
		PriceErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reference_price_errors_total",
			Help:      "Total number of failed reference price refreshes",
		}),
		LastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_evaluated_block",
			Help:      "Number of the last evaluated block",
		}),
		TelemetryErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_errors_total",
			Help:      "Total number of dropped or failed telemetry pushes",
		}),
	}
}

// ObservePrice implements price.Observer
func (m *ArbitrageMetrics) ObservePrice(p types.ReferencePrice, stable types.Token) {
	m.ReferencePrice.Set(fmath.ToFloat(p.Value, stable.Decimals))
}

// ObservePriceError implements price.Observer
func (m *ArbitrageMetrics) ObservePriceError(err error) {
	m.PriceErrors.Inc()
}

// ObserveOpportunity records the evaluated outcome of one round trip
func (m *ArbitrageMetrics) ObserveOpportunity(opp types.Opportunity) {
	pair, direction := opp.Pair.String(), opp.Direction.String()
	decimals := opp.Pair.Stable.Decimals

	m.GrossOutput.WithLabelValues(pair, direction).Set(fmath.ToFloat(opp.GrossAmountOut, decimals))
	m.NetProfit.WithLabelValues(pair, direction).Set(fmath.ToFloat(opp.NetProfit, decimals))
	if fmath.IsPositive(opp.NetProfit) {
		m.Opportunities.WithLabelValues(pair, direction).Inc()
	}
}
