// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerWrites counts mark/edit calls by mode and outcome kind.
	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classledger_ledger_writes_total",
		Help: "Attendance mark/edit calls by mode and result",
	}, []string{"mode", "result"})

	// LedgerRecords counts per-student records written.
	LedgerRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classledger_ledger_records_total",
		Help: "Attendance records written by mode and status",
	}, []string{"mode", "status"})

	// AdvisorTransitions counts assignment state changes.
	AdvisorTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classledger_advisor_transitions_total",
		Help: "Advisor assignment transitions by kind and result",
	}, []string{"kind", "result"})

	// AssignRetries counts assign attempts restarted after losing a race.
	AssignRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classledger_advisor_assign_retries_total",
		Help: "Assign attempts restarted after a concurrent writer won",
	})

	// CacheReconciles counts faculty cache rebuilds by trigger.
	CacheReconciles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classledger_faculty_cache_reconciles_total",
		Help: "Faculty assignment cache rebuilds by trigger",
	}, []string{"trigger"})

	// Notifications counts change events by outcome.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classledger_notifications_total",
		Help: "Change notifications by outcome",
	}, []string{"outcome"})

	// Subscribers is the number of connected change-stream sessions.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classledger_notification_subscribers",
		Help: "Currently connected change-stream subscribers",
	})
)

// Result renders an error as a low-cardinality label.
func Result(kind string, err error) string {
	if err == nil {
		return "ok"
	}
	if kind == "" {
		return "error"
	}
	return kind
}
