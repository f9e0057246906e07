package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kyc_check_cycles_total",
		Help: "Auto-check cycles executed.",
	})
	cycleErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kyc_check_cycle_errors_total",
		Help: "Cycles that failed before completing.",
	})
	ticksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kyc_check_ticks_skipped_total",
		Help: "Scheduler ticks skipped because a cycle was in flight.",
	})
	candidatesScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kyc_check_candidates_scored_total",
		Help: "Candidates scored successfully.",
	})
	scoringFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kyc_check_scoring_failures_total",
		Help: "Candidates skipped due to a failed or timed-out check.",
	})
	auditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kyc_check_audit_write_failures_total",
		Help: "Audit log appends that failed after a committed score write.",
	})
	cycleRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kyc_check_cycle_running",
		Help: "1 while a scoring cycle is executing.",
	})
)
