// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keybox.
//
// go-keybox is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the attestation
// substitution engine: gate decisions, keybox loads, substitution latency and
// failures, identity resets and policy reloads.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all keybox metrics
	Namespace = "keybox"

	// Label names
	LabelOutcome   = "outcome"
	LabelStatus    = "status"
	LabelReason    = "reason"
	LabelAlgorithm = "algorithm"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Keybox load statuses
	LoadLoaded    = "loaded"
	LoadCached    = "cached"
	LoadAbsent    = "absent"
	LoadMalformed = "malformed"
)

var (
	// GateDecisionsTotal counts certificate chain requests by gate outcome
	// (passthrough, substitute, refuse).
	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total number of certificate chain requests by gate outcome",
		},
		[]string{LabelOutcome},
	)

	// KeyboxLoadsTotal counts keybox document loads by status.
	KeyboxLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "repository",
			Name:      "loads_total",
			Help:      "Total number of keybox document loads by status",
		},
		[]string{LabelStatus},
	)

	// KeyboxEntries is the number of algorithms in the current keybox store.
	KeyboxEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "repository",
			Name:      "entries",
			Help:      "Number of key entries in the current keybox store",
		},
	)

	// SubstitutionsTotal counts issued substitute chains by key algorithm.
	SubstitutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "substitute",
			Name:      "chains_total",
			Help:      "Total number of substitute chains issued by key algorithm",
		},
		[]string{LabelAlgorithm},
	)

	// SubstitutionFailuresTotal counts substitutions that degraded to passthrough.
	SubstitutionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "substitute",
			Name:      "failures_total",
			Help:      "Total number of substitution attempts that fell back to the original chain",
		},
		[]string{LabelReason},
	)

	// SubstitutionDuration tracks how long building a substitute chain takes.
	SubstitutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "substitute",
			Name:      "duration_seconds",
			Help:      "Duration of substitute chain construction in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// IdentityResetsTotal counts identity reset requests issued by the foreground monitor.
	IdentityResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "identity_resets_total",
			Help:      "Total number of identity reset requests",
		},
	)

	// PolicyReloadsTotal counts policy snapshot reloads by status.
	PolicyReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "policy_reloads_total",
			Help:      "Total number of policy reloads by status",
		},
		[]string{LabelStatus},
	)

	// PropsAppliedTotal counts property overrides by status.
	PropsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "props",
			Name:      "applied_total",
			Help:      "Total number of property overrides applied by status",
		},
		[]string{LabelStatus},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordDecision records one gate decision.
func RecordDecision(outcome string) {
	if !enabled.Load() {
		return
	}
	GateDecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordKeyboxLoad records a keybox document load and the resulting entry count.
//
// Example:
//
//	store, err := repo.Load()
//	if err != nil {
//	    RecordKeyboxLoad(LoadMalformed, 0)
//	}
func RecordKeyboxLoad(status string, entries int) {
	if !enabled.Load() {
		return
	}
	KeyboxLoadsTotal.WithLabelValues(status).Inc()
	KeyboxEntries.Set(float64(entries))
}

// RecordSubstitution records a successfully issued substitute chain.
func RecordSubstitution(algorithm string, duration float64) {
	if !enabled.Load() {
		return
	}
	SubstitutionsTotal.WithLabelValues(algorithm).Inc()
	SubstitutionDuration.Observe(duration)
}

// RecordSubstitutionFailure records a substitution that fell back to passthrough.
// Reasons should be short identifiers such as "unsupported_algorithm" or "malformed_extension".
func RecordSubstitutionFailure(reason string) {
	if !enabled.Load() {
		return
	}
	SubstitutionFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordIdentityReset records an identity reset request.
func RecordIdentityReset() {
	if !enabled.Load() {
		return
	}
	IdentityResetsTotal.Inc()
}

// RecordPolicyReload records a policy reload.
func RecordPolicyReload(status string) {
	if !enabled.Load() {
		return
	}
	PolicyReloadsTotal.WithLabelValues(status).Inc()
}

// RecordPropsApplied records property overrides applied or skipped.
func RecordPropsApplied(status string, count int) {
	if !enabled.Load() || count <= 0 {
		return
	}
	PropsAppliedTotal.WithLabelValues(status).Add(float64(count))
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
