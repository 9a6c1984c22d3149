// Package securestore wraps a kvstore.Store with AES-256-GCM so that values
// at rest can neither be read nor altered without the secret.
//
// A stored record is base64(IV || ciphertext) with a fresh 12-byte IV per
// write. Reads never fail loudly: a missing, corrupt or foreign record reads
// as absent.
package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"kaiden.app/licensing/internal/kvstore"
	"kaiden.app/licensing/internal/logger"
	"kaiden.app/licensing/internal/secret"
)

// IVSize is the GCM nonce length prefixed to every record.
const IVSize = 12

// Mode reports whether values are actually encrypted.
type Mode int

const (
	ModeEncrypted Mode = iota
	ModePlaintextFallback
)

func (m Mode) String() string {
	switch m {
	case ModeEncrypted:
		return "encrypted"
	case ModePlaintextFallback:
		return "plaintext-fallback"
	default:
		return "unknown"
	}
}

// DeriveKey turns a secret into an AEAD. The same secret always yields a key
// that opens records sealed by any other key derived from it.
func DeriveKey(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}

type Store struct {
	kv      kvstore.Store
	secrets secret.Provider
	mode    Mode
	rand    io.Reader

	mu   sync.Mutex
	aead cipher.AEAD
}

// New returns an encrypting store. The key is derived from secrets on first
// use and cached for the lifetime of the store.
func New(kv kvstore.Store, secrets secret.Provider) *Store {
	return &Store{kv: kv, secrets: secrets, mode: ModeEncrypted, rand: rand.Reader}
}

// NewPlaintext returns a store that writes values unchanged. Callers that
// depend on confidentiality should check Mode.
func NewPlaintext(kv kvstore.Store) *Store {
	return &Store{kv: kv, mode: ModePlaintextFallback}
}

func (s *Store) Mode() Mode {
	return s.mode
}

func (s *Store) key(ctx context.Context) (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aead != nil {
		return s.aead, nil
	}
	sec, err := s.secrets.Secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve secret: %w", err)
	}
	aead, err := DeriveKey(sec)
	if err != nil {
		return nil, err
	}
	s.aead = aead
	return aead, nil
}

// Encrypt seals plain under a fresh IV. In plaintext mode it returns plain.
func (s *Store) Encrypt(ctx context.Context, plain string) (string, error) {
	if s.mode == ModePlaintextFallback {
		return plain, nil
	}

	aead, err := s.key(ctx)
	if err != nil {
		return "", err
	}

	iv := make([]byte, IVSize, IVSize+len(plain)+aead.Overhead())
	if _, err := io.ReadFull(s.rand, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	sealed := aead.Seal(iv, iv, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a record produced by Encrypt. ok is false for any failure.
func (s *Store) Decrypt(ctx context.Context, record string) (string, bool) {
	if s.mode == ModePlaintextFallback {
		return record, true
	}

	raw, err := base64.StdEncoding.DecodeString(record)
	if err != nil {
		return "", false
	}
	if len(raw) < IVSize {
		return "", false
	}

	aead, err := s.key(ctx)
	if err != nil {
		logger.Warn("Entitlement key unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		return "", false
	}

	plain, err := aead.Open(nil, raw[:IVSize], raw[IVSize:], nil)
	if err != nil {
		return "", false
	}
	return string(plain), true
}

// GetItem reads and decrypts key. ok is false when the key is missing, the
// backing store errors, or the record does not decrypt.
func (s *Store) GetItem(ctx context.Context, key string) (string, bool) {
	record, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		logger.Warn("Entitlement store read failed", map[string]interface{}{
			"item":  key,
			"error": err.Error(),
		})
		return "", false
	}
	if !ok {
		return "", false
	}
	return s.Decrypt(ctx, record)
}

func (s *Store) SetItem(ctx context.Context, key, value string) error {
	record, err := s.Encrypt(ctx, value)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, record); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) RemoveItem(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes the value at key into v. A JSON error is treated the same
// as a decryption failure.
func (s *Store) GetJSON(ctx context.Context, key string, v interface{}) bool {
	plain, ok := s.GetItem(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(plain), v); err != nil {
		return false
	}
	return true
}

func (s *Store) SetJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.SetItem(ctx, key, string(raw))
}
