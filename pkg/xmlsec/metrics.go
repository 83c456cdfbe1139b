// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmlsec

import "github.com/prometheus/client_golang/prometheus"

// MetricsRecorder records the outcome of signature and encryption operations.
type MetricsRecorder interface {
	// RecordOperation records one context operation ("sign", "verify",
	// "sign-binary", "encrypt-xml", ...) and its outcome.
	RecordOperation(operation string, success bool)

	// RecordVerification records the status of a completed verification.
	RecordVerification(status SignatureStatus)

	// RecordNodesReleased records how many displaced nodes a reconciliation freed.
	RecordNodesReleased(count int)
}

// NoopMetricsRecorder discards everything.
type NoopMetricsRecorder struct{}

// NewNoopMetricsRecorder creates a new no-op metrics recorder.
func NewNoopMetricsRecorder() *NoopMetricsRecorder {
	return &NoopMetricsRecorder{}
}

// RecordOperation is a no-op.
func (n *NoopMetricsRecorder) RecordOperation(operation string, success bool) {}

// RecordVerification is a no-op.
func (n *NoopMetricsRecorder) RecordVerification(status SignatureStatus) {}

// RecordNodesReleased is a no-op.
func (n *NoopMetricsRecorder) RecordNodesReleased(count int) {}

// PrometheusMetricsRecorder records metrics using Prometheus.
type PrometheusMetricsRecorder struct {
	operationsTotal    *prometheus.CounterVec
	verificationsTotal *prometheus.CounterVec
	nodesReleasedTotal prometheus.Counter
}

// NewPrometheusMetricsRecorder registers its collectors with the default registry.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	return NewPrometheusMetricsRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPrometheusMetricsRecorderWithRegistry registers its collectors with reg.
// Use this for testing.
func NewPrometheusMetricsRecorderWithRegistry(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	operationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xmlsec_operations_total",
		Help: "Total signature and encryption context operations",
	}, []string{"operation", "result"})

	verificationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xmlsec_verifications_total",
		Help: "Total completed signature verifications by status",
	}, []string{"status"})

	nodesReleasedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xmlsec_displaced_nodes_released_total",
		Help: "Total displaced XML nodes released during reconciliation",
	})

	reg.MustRegister(operationsTotal, verificationsTotal, nodesReleasedTotal)

	return &PrometheusMetricsRecorder{
		operationsTotal:    operationsTotal,
		verificationsTotal: verificationsTotal,
		nodesReleasedTotal: nodesReleasedTotal,
	}
}

// RecordOperation increments the operation counter.
func (p *PrometheusMetricsRecorder) RecordOperation(operation string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	p.operationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordVerification increments the verification counter.
func (p *PrometheusMetricsRecorder) RecordVerification(status SignatureStatus) {
	p.verificationsTotal.WithLabelValues(status.String()).Inc()
}

// RecordNodesReleased adds count to the released nodes counter.
func (p *PrometheusMetricsRecorder) RecordNodesReleased(count int) {
	if count > 0 {
		p.nodesReleasedTotal.Add(float64(count))
	}
}
