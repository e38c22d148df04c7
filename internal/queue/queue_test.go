package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
)

func TestEnvelope_RoundTripsEveryKind(t *testing.T) {
	jobs := []domain.Job{
		domain.SponsorshipJob{OwnerID: "o1", Sponsor: "alice", Amount: domain.Dollars(10)},
		domain.TierResyncJob{OwnerID: "o1"},
		domain.RepositoryRemovedJob{OwnerID: "o1", OwnerOrOrg: "octo", Name: "r1"},
	}

	for _, job := range jobs {
		env, err := NewEnvelope(job)
		require.NoError(t, err)
		assert.Equal(t, job.Kind(), env.Kind)
		assert.NotEmpty(t, env.ID)

		raw, err := json.Marshal(env)
		require.NoError(t, err)
		var decoded Envelope
		require.NoError(t, json.Unmarshal(raw, &decoded))

		got, err := decoded.Job()
		require.NoError(t, err)
		assert.Equal(t, job, got)
	}
}

func TestEnvelope_UnknownKindIsPermanent(t *testing.T) {
	env := &Envelope{Kind: "mystery", Payload: json.RawMessage(`{}`)}
	_, err := env.Job()
	assert.True(t, apperrors.IsPermanent(err))

	env = &Envelope{Kind: domain.JobKindSponsorship, Payload: json.RawMessage(`{"amount":"ten"}`)}
	_, err = env.Job()
	assert.True(t, apperrors.IsPermanent(err))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second}

	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, DefaultMaxDelay, p.Backoff(40))

	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
	assert.False(t, RetryPolicy{}.Exhausted(100))
}
