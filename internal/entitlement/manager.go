// Package entitlement tracks whether Pro is unlocked on this device.
//
// The state lives in two encrypted records: a boolean flag and the claims of
// the token that unlocked it. The manager trusts its caller; SetUnlocked
// never re-verifies. Redeem is the verifying entry point.
package entitlement

import (
	"context"
	"fmt"
	"time"

	"kaiden.app/licensing/internal/logger"
	"kaiden.app/licensing/internal/securestore"
	"kaiden.app/licensing/internal/tier"
	"kaiden.app/licensing/internal/token"
)

const (
	FlagKey = "pro_unlocked"
	MetaKey = "pro_meta"
)

type Manager struct {
	store *securestore.Store
	codec token.Codec
	now   func() time.Time
}

type Option func(*Manager)

// WithClock replaces time.Now for expiration checks and redemption.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
		m.codec.Now = now
	}
}

func NewManager(store *securestore.Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsUnlocked reports the current state. A stored entitlement whose expiry
// has passed is cleared as a side effect.
func (m *Manager) IsUnlocked(ctx context.Context) bool {
	var unlocked bool
	if !m.store.GetJSON(ctx, FlagKey, &unlocked) || !unlocked {
		return false
	}

	meta := m.GetMeta(ctx)
	if meta == nil {
		return true
	}
	exp, err := meta.Expiry()
	if err != nil {
		// unparseable expiry means no expiry
		return true
	}
	if m.now().Before(exp) {
		return true
	}

	logger.Info("Entitlement expired", map[string]interface{}{
		"expires_at": meta.ExpiresAt,
	})
	if err := m.Clear(ctx); err != nil {
		logger.Warn("Failed to clear expired entitlement", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return false
}

// SetUnlocked stores the flag and, when meta is non-nil, its claims. The
// claims are written first so a failure never leaves an unlock without its
// expiry. A nil meta drops any claims left from an earlier unlock.
func (m *Manager) SetUnlocked(ctx context.Context, meta *token.Payload) error {
	if meta != nil {
		if err := m.store.SetJSON(ctx, MetaKey, meta); err != nil {
			return fmt.Errorf("store entitlement metadata: %w", err)
		}
	} else if err := m.store.RemoveItem(ctx, MetaKey); err != nil {
		return fmt.Errorf("drop entitlement metadata: %w", err)
	}

	if err := m.store.SetJSON(ctx, FlagKey, true); err != nil {
		return fmt.Errorf("store entitlement flag: %w", err)
	}
	return nil
}

// Clear removes the flag and the claims. Clearing a locked manager is a no-op.
func (m *Manager) Clear(ctx context.Context) error {
	flagErr := m.store.RemoveItem(ctx, FlagKey)
	metaErr := m.store.RemoveItem(ctx, MetaKey)
	if flagErr != nil {
		return fmt.Errorf("clear entitlement: %w", flagErr)
	}
	if metaErr != nil {
		return fmt.Errorf("clear entitlement: %w", metaErr)
	}
	return nil
}

// GetMeta returns the stored claims, or nil when absent or unreadable.
func (m *Manager) GetMeta(ctx context.Context) *token.Payload {
	var p token.Payload
	if !m.store.GetJSON(ctx, MetaKey, &p) {
		return nil
	}
	return &p
}

// Tier is the tier carried by the unlocking token. Tokens without a known
// tier claim grant the lowest tier. A locked manager has no tier.
func (m *Manager) Tier(ctx context.Context) tier.Tier {
	if !m.IsUnlocked(ctx) {
		return ""
	}
	meta := m.GetMeta(ctx)
	if meta == nil {
		return tier.Lowest
	}
	t, ok := tier.Parse(meta.Tier)
	if !ok {
		return tier.Lowest
	}
	return t
}

func (m *Manager) CanAccess(ctx context.Context, required tier.Tier) bool {
	current := m.Tier(ctx)
	if current == "" {
		return false
	}
	return tier.HasAccess(current, required)
}

func (m *Manager) CanUse(ctx context.Context, f tier.Feature) bool {
	current := m.Tier(ctx)
	if current == "" {
		return false
	}
	return tier.CanUse(current, f)
}

// Redeem verifies tok against verifierSecret and unlocks on success. The
// returned error is the token sentinel for a rejected token or a storage
// error for a failed write.
func (m *Manager) Redeem(ctx context.Context, verifierSecret, tok string) (token.Result, error) {
	res := m.codec.Verify(verifierSecret, tok)
	if !res.OK {
		logger.Info("License token rejected", map[string]interface{}{
			"reason": string(res.Reason),
			"kind":   string(res.Reason.Kind()),
		})
		return res, res.Err()
	}

	if err := m.SetUnlocked(ctx, res.Payload); err != nil {
		return res, err
	}
	logger.Info("Pro unlocked", map[string]interface{}{
		"expires_at": res.Payload.ExpiresAt,
		"tier":       res.Payload.Tier,
	})
	return res, nil
}
