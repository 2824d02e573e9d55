// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey-vault.
//
// go-passkey-vault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the passkey
// vault: ceremony counters, PRF evaluation outcomes, vault operation
// latencies, and HTTP request metrics.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all vault metrics
	Namespace = "passkey_vault"

	// Label names
	LabelCeremony   = "ceremony"
	LabelOutcome    = "outcome"
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Outcome values for ceremony completions
	OutcomeVerified = "verified"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Vault operation names
	OpStore    = "store"
	OpRetrieve = "retrieve"
	OpExists   = "exists"
	OpDelete   = "delete"
)

var (
	// CeremoniesStarted tracks begun WebAuthn ceremonies by kind.
	CeremoniesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_started_total",
			Help:      "Total number of WebAuthn ceremonies started by kind",
		},
		[]string{LabelCeremony},
	)

	// CeremoniesCompleted tracks finished WebAuthn ceremonies by kind and outcome.
	CeremoniesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_completed_total",
			Help:      "Total number of WebAuthn ceremonies completed by kind and outcome",
		},
		[]string{LabelCeremony, LabelOutcome},
	)

	// PRFEvaluations tracks PRF extension outcomes during authentication.
	PRFEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "prf_evaluations_total",
			Help:      "Total number of PRF evaluation outcomes during authentication",
		},
		[]string{LabelOutcome},
	)

	// CounterRegressions tracks rejected ceremonies due to signature
	// counter regression (possible cloned authenticators).
	CounterRegressions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "counter_regressions_total",
			Help:      "Total number of authentications rejected for signature counter regression",
		},
	)

	// VaultOperationsTotal tracks vault blob operations by type and status.
	VaultOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "vault",
			Name:      "operations_total",
			Help:      "Total number of vault operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// VaultOperationDuration tracks the duration of vault operations in seconds.
	VaultOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "vault",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vault operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelOperation},
	)

	// KeyDerivations tracks HKDF key derivations by status.
	KeyDerivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "key_derivations_total",
			Help:      "Total number of HKDF key derivations by status",
		},
		[]string{LabelStatus},
	)

	// SessionKeysCached tracks the number of derived keys currently held
	// by the session key cache.
	SessionKeysCached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "session_keys_cached",
			Help:      "Number of derived keys currently held by the session key cache",
		},
	)

	// ErrorsTotal tracks errors by operation and error type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// BlobsTotal tracks the number of encrypted blobs currently stored.
	BlobsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "blobs_total",
			Help:      "Number of encrypted blobs currently stored",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordCeremonyStarted records the start of a WebAuthn ceremony.
func RecordCeremonyStarted(ceremony string) {
	if !enabled.Load() {
		return
	}
	CeremoniesStarted.WithLabelValues(ceremony).Inc()
}

// RecordCeremonyCompleted records the completion of a WebAuthn ceremony.
// Use the Outcome* constants: verified, rejected, or error.
func RecordCeremonyCompleted(ceremony, outcome string) {
	if !enabled.Load() {
		return
	}
	CeremoniesCompleted.WithLabelValues(ceremony, outcome).Inc()
}

// RecordPRFEvaluation records whether an authentication produced a PRF output.
func RecordPRFEvaluation(evaluated bool) {
	if !enabled.Load() {
		return
	}
	outcome := "evaluated"
	if !evaluated {
		outcome = "unsupported"
	}
	PRFEvaluations.WithLabelValues(outcome).Inc()
}

// RecordCounterRegression records an authentication rejected for signature
// counter regression.
func RecordCounterRegression() {
	if !enabled.Load() {
		return
	}
	CounterRegressions.Inc()
}

// RecordVaultOperation records a vault operation with its duration and status.
//
// Example:
//
//	start := time.Now()
//	_, err := vault.Store(ctx, userID, key, payload)
//	status := metrics.StatusSuccess
//	if err != nil {
//	    status = metrics.StatusError
//	}
//	metrics.RecordVaultOperation(metrics.OpStore, status, time.Since(start).Seconds())
func RecordVaultOperation(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	VaultOperationsTotal.WithLabelValues(operation, status).Inc()
	VaultOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordKeyDerivation records an HKDF key derivation.
func RecordKeyDerivation(status string) {
	if !enabled.Load() {
		return
	}
	KeyDerivations.WithLabelValues(status).Inc()
}

// RecordError records an error event with context about where it occurred.
func RecordError(operation, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// SetSessionKeysCached sets the session key cache size gauge.
func SetSessionKeysCached(count int) {
	if !enabled.Load() {
		return
	}
	SessionKeysCached.Set(float64(count))
}

// SetBlobsTotal sets the stored blob count gauge.
func SetBlobsTotal(count int) {
	if !enabled.Load() {
		return
	}
	BlobsTotal.Set(float64(count))
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
