package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements Recorder using Prometheus collectors.
type Prometheus struct {
	webhookEventsTotal     *prometheus.CounterVec
	jobsTotal              *prometheus.CounterVec
	jobDuration            *prometheus.HistogramVec
	collaboratorOpsTotal   *prometheus.CounterVec
	pendingPromotionsTotal *prometheus.CounterVec
}

// NewPrometheus registers the engine collectors on reg
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of sponsorship webhook events received.",
		}, []string{"action", "status"}),

		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Total number of reconciliation jobs processed by outcome.",
		}, []string{"kind", "outcome"}),

		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Duration of reconciliation job handlers in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		collaboratorOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "collaborator_operations_total",
			Help:      "Total number of collaborator grant and revoke calls.",
		}, []string{"operation", "status"}),

		pendingPromotionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "pending_promotions_total",
			Help:      "Total number of pending transactions promoted to jobs.",
		}, []string{"status"}),
	}
}

func (p *Prometheus) RecordWebhookEvent(action, status string) {
	p.webhookEventsTotal.WithLabelValues(action, status).Inc()
}

func (p *Prometheus) RecordJob(kind, outcome string) {
	p.jobsTotal.WithLabelValues(kind, outcome).Inc()
}

func (p *Prometheus) RecordJobDuration(kind string, duration time.Duration) {
	p.jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (p *Prometheus) RecordCollaboratorOperation(operation, status string) {
	p.collaboratorOpsTotal.WithLabelValues(operation, status).Inc()
}

func (p *Prometheus) RecordPendingPromotion(status string) {
	p.pendingPromotionsTotal.WithLabelValues(status).Inc()
}
