// Package queue defines the durable job queue used to decouple webhook
// receipt from provider calls. Delivery is at-least-once.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
)

// ErrClosed is returned by operations on a closed queue
var ErrClosed = errors.New("queue closed")

// Envelope wraps a job with its delivery metadata
type Envelope struct {
	ID         string          `json:"id"`
	Kind       domain.JobKind  `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`

	// Receipt is backend-specific state needed to ack this delivery
	Receipt string `json:"-"`
}

// NewEnvelope encodes a job for enqueueing
func NewEnvelope(job domain.Job) (*Envelope, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s job: %w", job.Kind(), err)
	}
	return &Envelope{
		ID:         uuid.New().String(),
		Kind:       job.Kind(),
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Job decodes the payload into its concrete job type. An unknown kind or a
// malformed payload can never succeed, so both are permanent errors.
func (e *Envelope) Job() (domain.Job, error) {
	switch e.Kind {
	case domain.JobKindSponsorship:
		var job domain.SponsorshipJob
		return decode(e, &job)
	case domain.JobKindTierResync:
		var job domain.TierResyncJob
		return decode(e, &job)
	case domain.JobKindRepositoryRemoved:
		var job domain.RepositoryRemovedJob
		return decode(e, &job)
	default:
		return nil, apperrors.NewPermanentError(fmt.Sprintf("unknown job kind %q", e.Kind), nil)
	}
}

func decode[J domain.Job](e *Envelope, job *J) (domain.Job, error) {
	if err := json.Unmarshal(e.Payload, job); err != nil {
		return nil, apperrors.NewPermanentError(fmt.Sprintf("malformed %s payload", e.Kind), err)
	}
	return *job, nil
}

// Enqueuer accepts jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, job domain.Job) error
}

// Queue is a job queue with explicit acknowledgement. A dequeued envelope
// stays in flight until it is acked, retried or dead-lettered; envelopes
// left in flight by a crashed worker are redelivered.
type Queue interface {
	Enqueuer

	// Dequeue blocks until an envelope is ready or ctx is done
	Dequeue(ctx context.Context) (*Envelope, error)

	// Ack removes a successfully processed envelope
	Ack(ctx context.Context, env *Envelope) error

	// Retry makes env deliverable again after delay
	Retry(ctx context.Context, env *Envelope, delay time.Duration) error

	// Dead moves env to the dead-letter list
	Dead(ctx context.Context, env *Envelope) error

	Close() error
}

// RetryPolicy decides between redelivery and dead-lettering
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultMaxDelay caps the exponential backoff
const DefaultMaxDelay = 10 * time.Minute

// Backoff returns base * 2^(attempt-1), capped at MaxDelay
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Exhausted reports whether attempts has used up the policy
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
