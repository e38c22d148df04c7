package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	queuememory "github.com/kurihiro0119/sponsor-access-sync/internal/queue/memory"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage/memory"
)

const secret = "s3cret"

type testServer struct {
	hooks  *Handler
	router *gin.Engine
	store  *memory.Storage
	queue  *queuememory.Queue
	owner  *domain.Owner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	q := queuememory.New()
	t.Cleanup(func() { _ = q.Close() })

	owner := &domain.Owner{Login: "octo", WebhookSecret: secret, Credential: domain.NewCredential("gho")}
	require.NoError(t, store.SaveOwner(context.Background(), owner))

	hooks := NewHandler(store, q, metrics.Noop{}, zerolog.Nop())
	router := gin.New()
	router.POST("/webhooks/sponsor/:owner", hooks.Sponsorship)
	return &testServer{hooks: hooks, router: router, store: store, queue: q, owner: owner}
}

func (s *testServer) post(owner, body, signature string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sponsor/"+owner, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

const createdBody = `{"action":"created","sponsorship":{"sponsor":{"login":"alice"},"tier":{"monthly_price_in_dollars":10}}}`

func TestSponsorship_CreatedEnqueuesJob(t *testing.T) {
	s := newTestServer(t)

	w := s.post("octo", createdBody, Sign([]byte(createdBody), secret), map[string]string{EventHeader: "sponsorship"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []domain.Job{
		domain.SponsorshipJob{OwnerID: s.owner.ID, Sponsor: "alice", Amount: domain.Dollars(10)},
	}, s.queue.Jobs())
}

func TestSponsorship_CancelledEnqueuesZero(t *testing.T) {
	s := newTestServer(t)
	body := `{"action":"cancelled","sponsorship":{"sponsor":{"login":"alice"},"tier":{"monthly_price_in_dollars":10}}}`

	w := s.post("octo", body, Sign([]byte(body), secret), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []domain.Job{domain.SponsorshipJob{OwnerID: s.owner.ID, Sponsor: "alice", Amount: 0}}, s.queue.Jobs())
}

func TestSponsorship_PendingPersistsTransaction(t *testing.T) {
	s := newTestServer(t)
	body := `{"action":"pending_tier_change","effective_date":"2020-01-01T00:00:00Z",
		"sponsorship":{"sponsor":{"login":"alice"},"tier":{"monthly_price_in_cents":500}}}`

	w := s.post("octo", body, Sign([]byte(body), secret), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.queue.Jobs(), "pending changes are not queued immediately")

	due, err := s.store.GetDuePendingTransactions(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "alice", due[0].Sponsor)
	assert.Equal(t, domain.Amount(500), due[0].Amount)
	assert.False(t, due[0].Done)
}

func TestSponsorship_RejectsBadSignatures(t *testing.T) {
	s := newTestServer(t)

	cases := map[string]struct {
		owner     string
		signature string
	}{
		"missing signature": {"octo", ""},
		"wrong secret":      {"octo", Sign([]byte(createdBody), "nope")},
		"other body":        {"octo", Sign([]byte(`{}`), secret)},
		"unknown owner":     {"ghost", Sign([]byte(createdBody), secret)},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := s.post(tc.owner, createdBody, tc.signature, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
	assert.Empty(t, s.queue.Jobs())
}

func TestSponsorship_UnknownOwnerCostsOneVerification(t *testing.T) {
	s := newTestServer(t)
	var secrets []string
	s.hooks.verify = func(body []byte, signature, key string) bool {
		secrets = append(secrets, key)
		return Verify(body, signature, key)
	}

	// even a signature made with the decoy secret is rejected
	w := s.post("ghost", createdBody, Sign([]byte(createdBody), s.hooks.decoySecret), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, secrets, 1)
	assert.Equal(t, s.hooks.decoySecret, secrets[0])
	assert.Len(t, s.hooks.decoySecret, 64)

	w = s.post("octo", createdBody, Sign([]byte(createdBody), "nope"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, []string{s.hooks.decoySecret, secret}, secrets)
	assert.Empty(t, s.queue.Jobs())
}

func TestSponsorship_SignatureCheckedBeforeValidation(t *testing.T) {
	s := newTestServer(t)
	w := s.post("octo", `{not json`, "sha256=00", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSponsorship_OwnerWithoutSecretIsRejected(t *testing.T) {
	s := newTestServer(t)
	s.owner.WebhookSecret = ""
	require.NoError(t, s.store.SaveOwner(context.Background(), s.owner))

	w := s.post("octo", createdBody, Sign([]byte(createdBody), ""), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSponsorship_InvalidPayload(t *testing.T) {
	s := newTestServer(t)
	body := `{"action":"created","sponsorship":{"sponsor":{"login":"alice"},"tier":{"monthly_price_in_dollars":"ten"}}}`

	w := s.post("octo", body, Sign([]byte(body), secret), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.queue.Jobs())
}

func TestSponsorship_PingAndUnknownActionsAreAcknowledged(t *testing.T) {
	s := newTestServer(t)

	ping := `{"zen":"Keep it logically awesome."}`
	w := s.post("octo", ping, Sign([]byte(ping), secret), map[string]string{EventHeader: "ping"})
	assert.Equal(t, http.StatusOK, w.Code)

	unknown := `{"action":"something_new","sponsorship":{}}`
	w = s.post("octo", unknown, Sign([]byte(unknown), secret), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.queue.Jobs())
}

func TestSponsorship_BodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	body := `{"pad":"` + strings.Repeat("x", MaxBodyBytes) + `"}`

	w := s.post("octo", body, Sign([]byte(body), secret), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSponsorship_EnqueueFailureIs500(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.queue.Close())

	w := s.post("octo", createdBody, Sign([]byte(createdBody), secret), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
