package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"reserveledger/core/events"
	"reserveledger/core/state/layout"
)

// LedgerMetrics exposes engine outcomes and the headline ledger counters.
type LedgerMetrics struct {
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	events         *prometheus.CounterVec
	totalSupply    prometheus.Gauge
	totalBurned    prometheus.Gauge
	provenReserves prometheus.Gauge
	price          prometheus.Gauge
	paused         prometheus.Gauge
	lastProof      prometheus.Gauge
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "reserve", Subsystem: "ledger", Name: name, Help: help})
}

// Ledger returns the process-wide ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "reserve",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and result code.",
			}, []string{"op", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "reserve",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency of ledger operations including commit.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			}, []string{"op"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "reserve",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Committed ledger events by type.",
			}, []string{"type"}),
			totalSupply:    gauge("total_supply", "Circulating token supply."),
			totalBurned:    gauge("total_burned", "Tokens burned for redemption."),
			provenReserves: gauge("proven_reserves", "Attested reserve count."),
			price:          gauge("price_per_unit", "Token price in native units."),
			paused:         gauge("paused", "1 while the protocol is paused."),
			lastProof:      gauge("last_proof_timestamp_seconds", "Unix time of the last accepted reserve proof."),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.events,
			ledgerRegistry.totalSupply,
			ledgerRegistry.totalBurned,
			ledgerRegistry.provenReserves,
			ledgerRegistry.price,
			ledgerRegistry.paused,
			ledgerRegistry.lastProof,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records one engine operation.
func (m *LedgerMetrics) ObserveOperation(op, code string, duration time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op, code).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveLedger publishes the counters of a committed ledger record.
func (m *LedgerMetrics) ObserveLedger(s *layout.LedgerState) {
	if m == nil || s == nil {
		return
	}
	m.totalSupply.Set(float64(s.TotalSupply))
	m.totalBurned.Set(float64(s.TotalBurned))
	m.provenReserves.Set(float64(s.ProvenReserves))
	m.price.Set(float64(s.PricePerUnit))
	m.lastProof.Set(float64(s.LastProofTimestamp))
	if s.IsPaused {
		m.paused.Set(1)
	} else {
		m.paused.Set(0)
	}
}

// Emit counts committed events, so the registry can sit in an emitter fanout.
func (m *LedgerMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.events.WithLabelValues(evt.EventType()).Inc()
}
