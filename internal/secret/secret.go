// Package secret resolves the key material used to encrypt entitlement
// records. A configured secret is stable across sessions and devices. Without
// one, a random secret is generated once per session and cached in a
// volatile store, so records written in one session are unreadable in the
// next.
package secret

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"kaiden.app/licensing/internal/encoding"
	"kaiden.app/licensing/internal/kvstore"
	"kaiden.app/licensing/internal/logger"
)

// SessionKey is the volatile-store key holding a generated session secret.
const SessionKey = "entitlement.session_secret"

const sessionSecretBytes = 32

var ErrSecretRequired = errors.New("entitlement secret is not configured")

// Provider supplies the secret used for key derivation.
type Provider interface {
	Secret(ctx context.Context) (string, error)
}

// Fixed is a provider for a configured secret.
type Fixed string

func (f Fixed) Secret(context.Context) (string, error) {
	if f == "" {
		return "", ErrSecretRequired
	}
	return string(f), nil
}

// Session generates a random secret on first use and caches it in a
// volatile store.
type Session struct {
	mu    sync.Mutex
	store kvstore.Store
	rand  io.Reader
}

func NewSession(store kvstore.Store) *Session {
	return &Session{store: store, rand: rand.Reader}
}

func (s *Session) Secret(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, ok, err := s.store.Get(ctx, SessionKey)
	if err != nil {
		return "", fmt.Errorf("read session secret: %w", err)
	}
	if ok && cached != "" {
		return cached, nil
	}

	buf := make([]byte, sessionSecretBytes)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	generated := encoding.Encode(buf)

	if err := s.store.Set(ctx, SessionKey, generated); err != nil {
		return "", fmt.Errorf("cache session secret: %w", err)
	}

	logger.Warn("No entitlement secret configured, using a session-scoped secret")
	return generated, nil
}

// Resolve picks the provider once at construction time. A configured value
// wins; otherwise require turns the missing secret into ErrSecretRequired and
// the default falls back to a Session provider over sessionStore.
func Resolve(configured string, sessionStore kvstore.Store, require bool) (Provider, error) {
	if configured != "" {
		return Fixed(configured), nil
	}
	if require {
		return nil, ErrSecretRequired
	}
	if sessionStore == nil {
		sessionStore = kvstore.NewMemoryStore()
	}
	return NewSession(sessionStore), nil
}
