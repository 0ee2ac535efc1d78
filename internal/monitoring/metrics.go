package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics: счётчики движка записи. Регистрируются в переданном Registerer,
// экспорт наружу остаётся на усмотрение процесса.
type Metrics struct {
	Transitions      *prometheus.CounterVec
	SlotConflicts    *prometheus.CounterVec
	BlocksCreated    prometheus.Counter
	BlocksFailed     prometheus.Counter
	OutboxDelivered  *prometheus.CounterVec
	OutboxRetried    *prometheus.CounterVec
	OutboxFailed     *prometheus.CounterVec
	PaymentsExpired  prometheus.Counter
	IndexRebuildSecs prometheus.Histogram

	PaymentsRefundRequired prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_transitions_total",
				Help: "Booking status transitions",
			},
			[]string{"from", "to"},
		),
		SlotConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_slot_conflicts_total",
				Help: "Rejected writes for an occupied slot",
			},
			[]string{"stage"}, // guard | storage
		),
		BlocksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_blocks_created_total",
			Help: "Admin blocks created by bulk requests",
		}),
		BlocksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_blocks_failed_total",
			Help: "Admin block candidates that failed to persist",
		}),
		OutboxDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_delivered_total",
				Help: "Notifications delivered",
			},
			[]string{"channel"},
		),
		OutboxRetried: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_retried_total",
				Help: "Notification delivery attempts rescheduled",
			},
			[]string{"channel"},
		),
		OutboxFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_failed_total",
				Help: "Notifications given up after max attempts",
			},
			[]string{"channel"},
		),
		PaymentsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_payments_expired_total",
			Help: "Pending payments cancelled by the sweep",
		}),
		PaymentsRefundRequired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_payments_refund_required_total",
			Help: "Successful payments received for cancelled bookings",
		}),
		IndexRebuildSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "availability_index_rebuild_seconds",
			Help:    "Duration of availability index rebuilds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Transitions,
			m.SlotConflicts,
			m.BlocksCreated,
			m.BlocksFailed,
			m.OutboxDelivered,
			m.OutboxRetried,
			m.OutboxFailed,
			m.PaymentsExpired,
			m.PaymentsRefundRequired,
			m.IndexRebuildSecs,
		)
	}
	return m
}

// NewNopMetrics: метрики без регистрации, для тестов и утилит.
func NewNopMetrics() *Metrics {
	return NewMetrics(nil)
}
