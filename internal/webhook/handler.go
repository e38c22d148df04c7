// Package webhook authenticates inbound sponsorship events and turns them
// into queued jobs or pending transactions.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
	"github.com/kurihiro0119/sponsor-access-sync/internal/logging"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	"github.com/kurihiro0119/sponsor-access-sync/internal/queue"
)

const (
	// MaxBodyBytes bounds accepted webhook bodies
	MaxBodyBytes = 1 << 20

	SignatureHeader = "X-Hub-Signature-256"
	EventHeader     = "X-GitHub-Event"
	DeliveryHeader  = "X-GitHub-Delivery"
)

// Store is the persistence the webhook needs
type Store interface {
	GetOwnerByLogin(ctx context.Context, login string) (*domain.Owner, error)
	SavePendingTransaction(ctx context.Context, tx *domain.PendingTransaction) error
}

// Handler receives sponsorship webhooks
type Handler struct {
	store    Store
	enqueuer queue.Enqueuer
	metrics  metrics.Recorder
	logger   zerolog.Logger

	// decoySecret is verified against when there is no owner secret, so an
	// unknown login costs the same HMAC as a known one
	decoySecret string
	verify      func(body []byte, signature, secret string) bool
}

// NewHandler creates a new webhook handler
func NewHandler(store Store, enqueuer queue.Enqueuer, recorder metrics.Recorder, logger zerolog.Logger) *Handler {
	return &Handler{
		store:       store,
		enqueuer:    enqueuer,
		metrics:     metrics.OrNoop(recorder),
		logger:      logging.Component(logger, "webhook"),
		decoySecret: newDecoySecret(),
		verify:      Verify,
	}
}

func newDecoySecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// authenticate verifies the signature for owner. A nil owner or one without
// a secret is always rejected, after the same work as a real check.
func (h *Handler) authenticate(body []byte, signature string, owner *domain.Owner) bool {
	if owner == nil || owner.WebhookSecret == "" {
		h.verify(body, signature, h.decoySecret)
		return false
	}
	return h.verify(body, signature, owner.WebhookSecret)
}

// Sponsorship handles a sponsorship event for the owner in the path.
// Nothing is read from the body until the signature has been verified.
// POST /webhooks/sponsor/:owner
func (h *Handler) Sponsorship(c *gin.Context) {
	ctx := c.Request.Context()
	login := c.Param("owner")
	log := h.logger.With().
		Str("owner", login).
		Str("delivery", c.GetHeader(DeliveryHeader)).
		Logger()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(c, "unknown", http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		h.reject(c, "unknown", http.StatusBadRequest, "unreadable body")
		return
	}

	owner, err := h.store.GetOwnerByLogin(ctx, login)
	if err != nil && !apperrors.IsNotFound(err) {
		log.Error().Err(err).Msg("failed to load owner")
		h.reject(c, "unknown", http.StatusInternalServerError, "internal error")
		return
	}
	if err != nil {
		owner = nil
	}

	if !h.authenticate(body, c.GetHeader(SignatureHeader), owner) {
		if owner == nil {
			log.Warn().Msg("webhook for unknown owner")
		} else {
			log.Warn().Msg("webhook signature rejected")
		}
		h.reject(c, "unknown", http.StatusUnauthorized, "unauthorized")
		return
	}

	switch c.GetHeader(EventHeader) {
	case "", "sponsorship":
	case "ping":
		h.accept(c, "ping")
		return
	default:
		log.Debug().Str("event", c.GetHeader(EventHeader)).Msg("ignoring non-sponsorship event")
		h.accept(c, "ignored")
		return
	}

	event, err := Parse(body)
	if err != nil {
		log.Warn().Err(err).Msg("invalid sponsorship payload")
		h.reject(c, "invalid", http.StatusBadRequest, err.Error())
		return
	}
	if !event.Action.Known() {
		log.Info().Str("action", string(event.Action)).Msg("ignoring unhandled sponsorship action")
		h.accept(c, "ignored")
		return
	}

	log = log.With().
		Str("action", string(event.Action)).
		Str("sponsor", event.Sponsor).
		Stringer("amount", event.Amount).
		Logger()

	if event.Action.Pending() {
		tx := &domain.PendingTransaction{
			OwnerID:       owner.ID,
			Sponsor:       event.Sponsor,
			Amount:        event.Amount,
			EffectiveDate: event.EffectiveDate,
		}
		if err := h.store.SavePendingTransaction(ctx, tx); err != nil {
			log.Error().Err(err).Msg("failed to save pending transaction")
			h.reject(c, string(event.Action), http.StatusInternalServerError, "internal error")
			return
		}
		log.Info().Time("effective_date", event.EffectiveDate).Msg("pending transaction recorded")
		h.accept(c, string(event.Action))
		return
	}

	job := domain.SponsorshipJob{OwnerID: owner.ID, Sponsor: event.Sponsor, Amount: event.Amount}
	if err := h.enqueuer.Enqueue(ctx, job); err != nil {
		log.Error().Err(err).Msg("failed to enqueue sponsorship job")
		h.reject(c, string(event.Action), http.StatusInternalServerError, "internal error")
		return
	}
	log.Info().Msg("sponsorship job queued")
	h.accept(c, string(event.Action))
}

func (h *Handler) accept(c *gin.Context, action string) {
	h.metrics.RecordWebhookEvent(action, "accepted")
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// reject answers with a coarse status; detail stays in the logs
func (h *Handler) reject(c *gin.Context, action string, status int, message string) {
	h.metrics.RecordWebhookEvent(action, http.StatusText(status))
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
