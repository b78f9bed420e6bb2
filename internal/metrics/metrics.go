// Package metrics exposes Prometheus collectors for cube scan execution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cubesql"

// Scan modes reported by ScanMetrics.
const (
	ModeStream   = "stream"
	ModeOneShot  = "one_shot"
	ModeNoMember = "no_members"
)

// ScanMetrics counts cube scan executions. A nil *ScanMetrics is valid and
// records nothing.
type ScanMetrics struct {
	Scans              *prometheus.CounterVec
	StreamDowngrades   prometheus.Counter
	MaxRecordsExceeded prometheus.Counter
	RowsMaterialized   prometheus.Counter
	TransportErrors    *prometheus.CounterVec
}

// NewScanMetrics creates the collectors and registers them with reg when
// reg is not nil.
func NewScanMetrics(reg prometheus.Registerer) *ScanMetrics {
	m := &ScanMetrics{
		Scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "executions_total",
				Help:      "Counter of cube scan executions by mode.",
			}, []string{"mode"}),
		StreamDowngrades: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "stream_downgrades_total",
				Help:      "Counter of streaming scans downgraded to a one-shot load.",
			}),
		MaxRecordsExceeded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "max_records_exceeded_total",
				Help:      "Counter of one-shot loads rejected by the max records limit.",
			}),
		RowsMaterialized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "rows_materialized_total",
				Help:      "Counter of remote rows converted into record batches.",
			}),
		TransportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "errors_total",
				Help:      "Counter of failed transport calls by operation.",
			}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Scans, m.StreamDowngrades, m.MaxRecordsExceeded, m.RowsMaterialized, m.TransportErrors)
	}
	return m
}

// ObserveScan counts one execution in mode.
func (m *ScanMetrics) ObserveScan(mode string) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(mode).Inc()
}

// ObserveDowngrade counts one stream downgrade.
func (m *ScanMetrics) ObserveDowngrade() {
	if m == nil {
		return
	}
	m.StreamDowngrades.Inc()
}

// ObserveMaxRecordsExceeded counts one max records rejection.
func (m *ScanMetrics) ObserveMaxRecordsExceeded() {
	if m == nil {
		return
	}
	m.MaxRecordsExceeded.Inc()
}

// ObserveRows adds n materialized rows.
func (m *ScanMetrics) ObserveRows(n int64) {
	if m == nil {
		return
	}
	m.RowsMaterialized.Add(float64(n))
}

// ObserveTransportError counts one failed transport call.
func (m *ScanMetrics) ObserveTransportError(op string) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(op).Inc()
}
