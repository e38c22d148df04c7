// Package audit records access mutations. Writes are best-effort: a failed
// write is logged and never fails the surrounding operation.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/logging"
)

// Sink persists audit entries
type Sink interface {
	SaveAuditEntry(ctx context.Context, entry *domain.AuditEntry) error
}

// Log is the append-only audit log
type Log struct {
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time
}

// NewLog creates a new audit log
func NewLog(sink Sink, logger zerolog.Logger) *Log {
	return &Log{
		sink:   sink,
		logger: logging.Component(logger, "audit"),
		now:    time.Now,
	}
}

// Record appends an entry for one attempted mutation
func (l *Log) Record(ctx context.Context, ownerID string, action domain.AuditAction, repo *domain.Repository, sponsor string) {
	entry := &domain.AuditEntry{
		OwnerID:    ownerID,
		Action:     action,
		Repository: repo.FullName(),
		Sponsor:    sponsor,
		Timestamp:  l.now().UTC(),
	}

	if err := l.sink.SaveAuditEntry(ctx, entry); err != nil {
		l.logger.Error().
			Err(err).
			Str("action", string(action)).
			Str("repository", entry.Repository).
			Str("sponsor", sponsor).
			Msg("failed to write audit entry")
	}
}
