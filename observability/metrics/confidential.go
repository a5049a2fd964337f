package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"fhecoproc/core/events"
)

type ConfidentialMetrics struct {
	submissions      prometheus.Counter
	analysisRequests prometheus.Counter
	callbacks        *prometheus.CounterVec
	expiredContexts  prometheus.Counter
	pendingContexts  prometheus.Gauge
	batchesOpened    prometheus.Counter
	batchesClosed    prometheus.Counter
}

var (
	confidentialOnce     sync.Once
	confidentialRegistry *ConfidentialMetrics
)

func Confidential() *ConfidentialMetrics {
	confidentialOnce.Do(func() {
		confidentialRegistry = &ConfidentialMetrics{
			submissions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "confidential_submissions_total",
				Help: "Count of accepted ciphertext submissions.",
			}),
			analysisRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "confidential_analysis_requests_total",
				Help: "Count of dispatched decryption requests.",
			}),
			callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "confidential_callbacks_total",
				Help: "Count of oracle callbacks by outcome.",
			}, []string{"outcome"}),
			expiredContexts: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "confidential_expired_contexts_total",
				Help: "Count of pending decryption contexts reclaimed by expiry.",
			}),
			pendingContexts: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "confidential_pending_contexts",
				Help: "Decryption contexts currently awaiting an oracle callback.",
			}),
			batchesOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "confidential_batches_opened_total",
				Help: "Count of opened submission batches.",
			}),
			batchesClosed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "confidential_batches_closed_total",
				Help: "Count of closed submission batches.",
			}),
		}
		prometheus.MustRegister(
			confidentialRegistry.submissions,
			confidentialRegistry.analysisRequests,
			confidentialRegistry.callbacks,
			confidentialRegistry.expiredContexts,
			confidentialRegistry.pendingContexts,
			confidentialRegistry.batchesOpened,
			confidentialRegistry.batchesClosed,
		)
	})
	return confidentialRegistry
}

func (m *ConfidentialMetrics) ObserveCallback(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}

// Emitter returns an events.Emitter that keeps the protocol gauges and
// counters in step with the event stream. Wire it next to the audit
// journal so metrics and the durable log never disagree.
func (m *ConfidentialMetrics) Emitter() events.Emitter {
	return metricsEmitter{metrics: m}
}

type metricsEmitter struct {
	metrics *ConfidentialMetrics
}

func (e metricsEmitter) Emit(evt events.Event) {
	if e.metrics == nil || evt == nil {
		return
	}
	switch evt.EventType() {
	case events.TypeDataSubmitted:
		e.metrics.submissions.Inc()
	case events.TypeBatchOpened:
		e.metrics.batchesOpened.Inc()
	case events.TypeBatchClosed:
		e.metrics.batchesClosed.Inc()
	case events.TypeDecryptionRequested:
		e.metrics.analysisRequests.Inc()
		e.metrics.pendingContexts.Inc()
	case events.TypeDecryptionCompleted:
		e.metrics.ObserveCallback("processed")
		e.metrics.pendingContexts.Dec()
	case events.TypeDecryptionExpired:
		e.metrics.expiredContexts.Inc()
		e.metrics.pendingContexts.Dec()
	}
}
