package domain

import "time"

// Credential is the provider access state bound to an owner.
// It is either Unauthenticated or Authenticated; provider clients can only
// be built from an Authenticated value.
type Credential interface {
	credential()
}

// Unauthenticated means the owner has no usable provider token.
type Unauthenticated struct{}

// Authenticated carries a non-empty provider access token.
type Authenticated struct {
	token string
}

func (Unauthenticated) credential() {}
func (Authenticated) credential()   {}

// Token returns the raw access token
func (a Authenticated) Token() string {
	return a.token
}

// NewCredential returns Authenticated for a non-empty token and
// Unauthenticated otherwise.
func NewCredential(token string) Credential {
	if token == "" {
		return Unauthenticated{}
	}
	return Authenticated{token: token}
}

// Owner represents a maintainer whose repositories are gated by sponsorship
type Owner struct {
	ID            string
	Login         string
	WebhookSecret string
	Credential    Credential
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccessToken returns the stored token, or "" when unauthenticated
func (o *Owner) AccessToken() string {
	if auth, ok := o.Credential.(Authenticated); ok {
		return auth.Token()
	}
	return ""
}
