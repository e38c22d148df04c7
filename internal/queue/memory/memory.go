// Package memory provides an in-process queue.Queue for development and
// tests. Jobs do not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/queue"
)

var _ queue.Queue = (*Queue)(nil)

// Queue implements queue.Queue with in-memory lists
type Queue struct {
	mu       sync.Mutex
	ready    []*queue.Envelope
	inflight map[string]*queue.Envelope
	dead     []*queue.Envelope
	timers   map[*time.Timer]struct{}
	closed   bool

	notify chan struct{}
	done   chan struct{}
}

// New creates a new in-memory queue
func New() *Queue {
	return &Queue{
		inflight: make(map[string]*queue.Envelope),
		timers:   make(map[*time.Timer]struct{}),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *Queue) Enqueue(ctx context.Context, job domain.Job) error {
	env, err := queue.NewEnvelope(job)
	if err != nil {
		return err
	}
	return q.push(env)
}

func (q *Queue) push(env *queue.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return queue.ErrClosed
	}
	q.ready = append(q.ready, env)
	q.signal()
	return nil
}

// signal wakes one waiting consumer; callers hold mu
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) Dequeue(ctx context.Context) (*queue.Envelope, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, queue.ErrClosed
		}
		if len(q.ready) > 0 {
			env := q.ready[0]
			q.ready = q.ready[1:]
			q.inflight[env.ID] = env
			if len(q.ready) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return env, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, queue.ErrClosed
		case <-q.notify:
		}
	}
}

func (q *Queue) Ack(ctx context.Context, env *queue.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, env.ID)
	return nil
}

func (q *Queue) Retry(ctx context.Context, env *queue.Envelope, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return queue.ErrClosed
	}
	delete(q.inflight, env.ID)
	if delay <= 0 {
		q.ready = append(q.ready, env)
		q.signal()
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		if !q.closed {
			q.ready = append(q.ready, env)
			q.signal()
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *Queue) Dead(ctx context.Context, env *queue.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, env.ID)
	q.dead = append(q.dead, env)
	return nil
}

// Close stops pending retries and wakes blocked consumers
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	close(q.done)
	return nil
}

// Len returns the number of ready envelopes
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// InFlight returns the number of unacknowledged envelopes
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Delayed returns the number of envelopes waiting out a retry delay
func (q *Queue) Delayed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// DeadLetters returns the dead-lettered envelopes
func (q *Queue) DeadLetters() []*queue.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*queue.Envelope(nil), q.dead...)
}

// Jobs decodes the ready envelopes without dequeueing them
func (q *Queue) Jobs() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]domain.Job, 0, len(q.ready))
	for _, env := range q.ready {
		if job, err := env.Job(); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs
}
