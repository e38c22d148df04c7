package metrics

import "time"

// Recorder tracks engine operations. Components accept a nil-safe Recorder
// by defaulting to Noop.
type Recorder interface {
	// RecordWebhookEvent records an inbound sponsorship webhook.
	// status: "accepted", "unauthorized", "invalid", "error"
	RecordWebhookEvent(action, status string)

	// RecordJob records a processed job.
	// outcome: "success", "retry", "dead"
	RecordJob(kind, outcome string)

	// RecordJobDuration records how long a job handler ran
	RecordJobDuration(kind string, duration time.Duration)

	// RecordCollaboratorOperation records a grant or revoke.
	// operation: "add" or "remove"; status: "success" or "error"
	RecordCollaboratorOperation(operation, status string)

	// RecordPendingPromotion records a pending transaction promoted by the sweep
	RecordPendingPromotion(status string)
}

// Noop is a no-op implementation of Recorder.
type Noop struct{}

func (Noop) RecordWebhookEvent(_, _ string)              {}
func (Noop) RecordJob(_, _ string)                       {}
func (Noop) RecordJobDuration(_ string, _ time.Duration) {}
func (Noop) RecordCollaboratorOperation(_, _ string)     {}
func (Noop) RecordPendingPromotion(_ string)             {}

// OrNoop returns r, or Noop when r is nil
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}
