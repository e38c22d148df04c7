package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage/memory"
)

func TestRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	log := NewLog(store, zerolog.Nop())

	repo := &domain.Repository{OwnerOrOrg: "octo", Name: "r1"}
	log.Record(ctx, "owner-1", domain.AuditActionAddCollaborator, repo, "alice")

	entries, err := store.GetAuditEntries(ctx, "owner-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditActionAddCollaborator, entries[0].Action)
	assert.Equal(t, "octo/r1", entries[0].Repository)
	assert.Equal(t, "alice", entries[0].Sponsor)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestRecord_FailureIsLoggedNotReturned(t *testing.T) {
	store := memory.New()
	store.AuditErr = errors.New("disk full")

	var buf bytes.Buffer
	log := NewLog(store, zerolog.New(&buf))

	assert.NotPanics(t, func() {
		log.Record(context.Background(), "owner-1", domain.AuditActionRemoveCollaborator, &domain.Repository{OwnerOrOrg: "octo", Name: "r1"}, "alice")
	})
	assert.Contains(t, buf.String(), "disk full")
	assert.Contains(t, buf.String(), "failed to write audit entry")
}
