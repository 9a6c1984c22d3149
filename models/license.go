package models

import "time"

const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusExpired   = "expired"
)

// License is an issued token as recorded by the issuer. Nonce is the token's
// nonce claim and identifies the license across systems.
type License struct {
	ID              string    `json:"id"`
	CustomerID      string    `json:"customer_id"`
	Nonce           string    `json:"nonce"`
	Plan            string    `json:"plan"`
	Tier            string    `json:"tier,omitempty"`
	Token           string    `json:"-"`
	ExpiresAt       time.Time `json:"expires_at"`
	StripeSessionID string    `json:"stripe_session_id,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (l License) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// EffectiveStatus folds expiry into Status. Suspension wins over expiry.
func (l License) EffectiveStatus(now time.Time) string {
	if l.Status == StatusActive && l.Expired(now) {
		return StatusExpired
	}
	return l.Status
}
