package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records escrow transition activity and the value currently in
// custody.
type LedgerMetrics struct {
	transitions *prometheus.CounterVec
	heldValue   prometheus.Gauge
	rpcLatency  *prometheus.HistogramVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Ledger returns the lazily-initialised ledger metrics registry. Collectors
// are registered with the default prometheus registry on first use.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bookhold",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Total escrow operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			heldValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bookhold",
				Subsystem: "escrow",
				Name:      "held_value",
				Help:      "Aggregate value currently held across non-terminal instances.",
			}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bookhold",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(ledgerRegistry.transitions, ledgerRegistry.heldValue, ledgerRegistry.rpcLatency)
	})
	return ledgerRegistry
}

// ObserveTransition counts one escrow operation with its outcome label
// ("ok" or the sentinel error class).
func (m *LedgerMetrics) ObserveTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

// SetHeldValue publishes the aggregate custody balance. Values beyond float64
// precision saturate; the gauge is for dashboards, conservation is asserted
// against the state manager directly.
func (m *LedgerMetrics) SetHeldValue(total *big.Int) {
	if m == nil || total == nil {
		return
	}
	value, _ := new(big.Float).SetInt(total).Float64()
	m.heldValue.Set(value)
}

// ObserveRPC records one handler invocation's latency.
func (m *LedgerMetrics) ObserveRPC(method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.rpcLatency.WithLabelValues(method).Observe(duration.Seconds())
}
