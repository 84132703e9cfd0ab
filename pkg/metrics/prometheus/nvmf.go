// Package prometheus implements the pkg/metrics interfaces on top of
// prometheus/client_golang, structured like pkg/metrics/prometheus
// package (one file per adapter, promauto-registered vectors keyed by the
// same label set the interface documents).
package prometheus

import (
	"time"

	"github.com/nvmftcpd/nvmftcpd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// nvmfMetrics is the Prometheus implementation of metrics.NVMfMetrics.
type nvmfMetrics struct {
	qpairsAccepted   *prometheus.CounterVec
	qpairsClosed     *prometheus.CounterVec
	activeQpairs     *prometheus.GaugeVec
	activeCtrlrs     *prometheus.GaugeVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
	r2tTotal         *prometheus.CounterVec
	keepAliveTotal   *prometheus.CounterVec
	assocTimeouts    *prometheus.CounterVec
	reservationConfl *prometheus.CounterVec
}

// NewNVMfMetrics creates a new Prometheus-backed NVMfMetrics instance.
// Returns nil if metrics are not enabled (metrics.Init not called), so
// callers can pass the result straight through to the transport with no
// nil-check at the call site beyond the one NVMfMetrics itself requires.
func NewNVMfMetrics() metrics.NVMfMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &nvmfMetrics{
		qpairsAccepted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvmftcpd_qpairs_accepted_total",
				Help: "Total number of qpairs accepted, by subsystem and kind",
			},
			[]string{"nqn", "kind"},
		),
		qpairsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvmftcpd_qpairs_closed_total",
				Help: "Total number of qpairs closed, by subsystem, kind, and reason",
			},
			[]string{"nqn", "kind", "reason"},
		),
		activeQpairs: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nvmftcpd_active_qpairs",
				Help: "Current number of active qpairs by subsystem and kind",
			},
			[]string{"nqn", "kind"},
		),
		activeCtrlrs: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nvmftcpd_active_controllers",
				Help: "Current number of associated controllers by subsystem",
			},
			[]string{"nqn"},
		),
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvmftcpd_requests_total",
				Help: "Total number of completed NVMe commands by opcode, subsystem, and status",
			},
			[]string{"opcode", "nqn", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "nvmftcpd_request_duration_milliseconds",
				Help: "Duration of NVMe command execution in milliseconds",
				Buckets: []float64{
					0.1, // in-memory flush/admin round trip
					1,
					5,
					10,
					50,
					100, // bdev I/O
					500,
					1000,
					5000, // S3-backed chunk I/O
				},
			},
			[]string{"opcode", "nqn"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvmftcpd_bytes_transferred_total",
				Help: "Total bytes transferred by READ/WRITE commands",
			},
			[]string{"opcode", "nqn"},
		),
		r2tTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvmftcpd_r2t_total",
				Help: "Total number of R2T round trips issued for WRITE commands",
			},
			[]string{"nqn"},
		),
		keepAliveTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvmftcpd_keep_alive_total",
				Help: "Total number of KEEP_ALIVE commands received",
			},
			[]string{"nqn"},
		),
		assocTimeouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvmftcpd_association_timeouts_total",
				Help: "Total number of controllers torn down for missing a keep-alive timeout",
			},
			[]string{"nqn"},
		),
		reservationConfl: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvmftcpd_reservation_conflicts_total",
				Help: "Total number of commands rejected with RESERVATION_CONFLICT",
			},
			[]string{"nqn"},
		),
	}
}

func (m *nvmfMetrics) RecordQpairAccepted(nqn, kind string) {
	if m == nil {
		return
	}
	m.qpairsAccepted.WithLabelValues(nqn, kind).Inc()
}

func (m *nvmfMetrics) RecordQpairClosed(nqn, kind, reason string) {
	if m == nil {
		return
	}
	m.qpairsClosed.WithLabelValues(nqn, kind, reason).Inc()
}

func (m *nvmfMetrics) SetActiveQpairs(nqn, kind string, count int32) {
	if m == nil {
		return
	}
	m.activeQpairs.WithLabelValues(nqn, kind).Set(float64(count))
}

func (m *nvmfMetrics) SetActiveControllers(nqn string, count int32) {
	if m == nil {
		return
	}
	m.activeCtrlrs.WithLabelValues(nqn).Set(float64(count))
}

func (m *nvmfMetrics) RecordRequest(opcode, nqn string, duration time.Duration, statusCode string) {
	if m == nil {
		return
	}
	status := statusCode
	if status == "" {
		status = "SUCCESS"
	}
	m.requestsTotal.WithLabelValues(opcode, nqn, status).Inc()
	m.requestDuration.WithLabelValues(opcode, nqn).Observe(duration.Seconds() * 1000)
}

func (m *nvmfMetrics) RecordBytesTransferred(opcode, nqn string, bytes uint64) {
	if m == nil || bytes == 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(opcode, nqn).Add(float64(bytes))
}

func (m *nvmfMetrics) RecordR2T(nqn string) {
	if m == nil {
		return
	}
	m.r2tTotal.WithLabelValues(nqn).Inc()
}

func (m *nvmfMetrics) RecordKeepAlive(nqn string) {
	if m == nil {
		return
	}
	m.keepAliveTotal.WithLabelValues(nqn).Inc()
}

func (m *nvmfMetrics) RecordAssociationTimeout(nqn string) {
	if m == nil {
		return
	}
	m.assocTimeouts.WithLabelValues(nqn).Inc()
}

func (m *nvmfMetrics) RecordReservationConflict(nqn string) {
	if m == nil {
		return
	}
	m.reservationConfl.WithLabelValues(nqn).Inc()
}
