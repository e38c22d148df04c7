package webhook

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
)

// Action is a sponsorship webhook action
type Action string

const (
	ActionCreated             Action = "created"
	ActionEdited              Action = "edited"
	ActionCancelled           Action = "cancelled"
	ActionTierChanged         Action = "tier_changed"
	ActionPendingCancellation Action = "pending_cancellation"
	ActionPendingTierChange   Action = "pending_tier_change"
)

// Known reports whether the action is handled
func (a Action) Known() bool {
	switch a {
	case ActionCreated, ActionEdited, ActionCancelled, ActionTierChanged,
		ActionPendingCancellation, ActionPendingTierChange:
		return true
	}
	return false
}

// Pending reports whether the action takes effect at a future date
func (a Action) Pending() bool {
	return a == ActionPendingCancellation || a == ActionPendingTierChange
}

// payload accepts action and effective_date either at the top level or
// nested in sponsorship; the top level wins.
type payload struct {
	Action      Action `json:"action"`
	Sponsorship struct {
		Action        Action `json:"action"`
		EffectiveDate string `json:"effective_date"`
		Tier          *struct {
			MonthlyPriceInCents   *int64          `json:"monthly_price_in_cents"`
			MonthlyPriceInDollars json.RawMessage `json:"monthly_price_in_dollars"`
		} `json:"tier"`
		Sponsor struct {
			Login string `json:"login"`
		} `json:"sponsor"`
	} `json:"sponsorship"`
	EffectiveDate string `json:"effective_date"`
}

// Event is a decoded sponsorship event
type Event struct {
	Action        Action
	Sponsor       string
	Amount        domain.Amount
	EffectiveDate time.Time
}

// Parse decodes a sponsorship event body. Cancellations carry amount zero
// whatever tier they report. An unknown action is returned without further
// validation so the caller can acknowledge it.
func Parse(body []byte) (*Event, error) {
	var p payload
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&p); err != nil {
		return nil, apperrors.NewValidationError("malformed webhook body", err)
	}

	if p.Action == "" {
		p.Action = p.Sponsorship.Action
	}
	if p.EffectiveDate == "" {
		p.EffectiveDate = p.Sponsorship.EffectiveDate
	}

	event := &Event{Action: p.Action}
	if !p.Action.Known() {
		return event, nil
	}

	event.Sponsor = strings.TrimSpace(p.Sponsorship.Sponsor.Login)
	if event.Sponsor == "" {
		return nil, apperrors.NewValidationError("sponsorship.sponsor.login is required", nil)
	}

	if p.Action != ActionCancelled && p.Action != ActionPendingCancellation {
		amount, err := tierAmount(&p)
		if err != nil {
			return nil, err
		}
		event.Amount = amount
	}

	if p.Action.Pending() {
		if p.EffectiveDate == "" {
			return nil, apperrors.NewValidationError("effective_date is required for "+string(p.Action), nil)
		}
		effective, err := time.Parse(time.RFC3339, p.EffectiveDate)
		if err != nil {
			return nil, apperrors.NewValidationError("effective_date must be RFC 3339", err)
		}
		event.EffectiveDate = effective.UTC()
	}

	return event, nil
}

// tierAmount prefers the integer cent price and falls back to the dollar
// price, which may arrive as a JSON number or a string.
func tierAmount(p *payload) (domain.Amount, error) {
	tier := p.Sponsorship.Tier
	if tier == nil {
		return 0, apperrors.NewValidationError("sponsorship.tier is required", nil)
	}
	if tier.MonthlyPriceInCents != nil {
		if *tier.MonthlyPriceInCents < 0 {
			return 0, apperrors.NewValidationError("monthly_price_in_cents must not be negative", nil)
		}
		return domain.Cents(*tier.MonthlyPriceInCents), nil
	}

	raw := bytes.TrimSpace(tier.MonthlyPriceInDollars)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, apperrors.NewValidationError("tier price is required", nil)
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, apperrors.NewValidationError("invalid monthly_price_in_dollars", err)
		}
	}
	amount, err := domain.ParseDollars(text)
	if err != nil {
		return 0, apperrors.NewValidationError("invalid monthly_price_in_dollars", err)
	}
	return amount, nil
}
