// Package token mints and verifies signed, time-boxed Pro license tokens.
//
// A token has three dot-separated segments:
//
//	KPRO1.<payload>.<signature>
//
// where payload is the base64url JSON claims and signature is the base64url
// HMAC-SHA256 of the payload segment keyed with the shared secret.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"kaiden.app/licensing/internal/encoding"
)

const (
	// Tag identifies format version 1.
	Tag = "KPRO1"

	// Version is the payload version written by Issue.
	Version = 1

	// PlanPro is the only plan that grants an entitlement.
	PlanPro = "pro"

	// TimeLayout is the ISO-8601 form used for expiresAt.
	TimeLayout = "2006-01-02T15:04:05.000Z07:00"

	segmentCount   = 3
	maxTokenLength = 8192
	day            = 24 * time.Hour
)

// Payload holds the claims carried by a token.
type Payload struct {
	Version   int    `json:"version"`
	Plan      string `json:"plan"`
	ExpiresAt string `json:"expiresAt"`
	Nonce     string `json:"nonce"`
	Tier      string `json:"tier,omitempty"`
}

// Expiry parses ExpiresAt.
func (p Payload) Expiry() (time.Time, error) {
	if p.ExpiresAt == "" {
		return time.Time{}, fmt.Errorf("expiresAt is empty")
	}
	return time.Parse(time.RFC3339Nano, p.ExpiresAt)
}

// IssueOptions controls Issue.
type IssueOptions struct {
	// ValidDays is clamped to at least one day.
	ValidDays int
	// Tier is an optional subscription tier claim.
	Tier string
}

// Codec issues and verifies tokens against an injectable clock and random
// source. The zero value uses time.Now and crypto/rand.
type Codec struct {
	Now  func() time.Time
	Rand io.Reader
}

var defaultCodec Codec

// Issue mints a token with the default codec.
func Issue(secret string, opts IssueOptions) (string, error) {
	return defaultCodec.Issue(secret, opts)
}

// Verify checks a token with the default codec.
func Verify(secret, token string) Result {
	return defaultCodec.Verify(secret, token)
}

// Encode signs an arbitrary payload. Issue is the usual entry point; Encode
// exists for issuers that build their own claims.
func Encode(secret string, p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	body := encoding.Encode(raw)
	return Tag + "." + body + "." + sign(secret, body), nil
}

func (c Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Codec) random() io.Reader {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.Reader
}

// Issue builds a fresh payload expiring ValidDays from now and signs it.
func (c Codec) Issue(secret string, opts IssueOptions) (string, error) {
	days := opts.ValidDays
	if days < 1 {
		days = 1
	}

	nonce, err := uuid.NewRandomFromReader(c.random())
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	return Encode(secret, Payload{
		Version:   Version,
		Plan:      PlanPro,
		ExpiresAt: c.now().Add(time.Duration(days) * day).UTC().Format(TimeLayout),
		Nonce:     nonce.String(),
		Tier:      opts.Tier,
	})
}

// Verify never panics and never returns an error; every failure is reported
// through the Result.
func (c Codec) Verify(secret, token string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = fail(ReasonBadPayload)
		}
	}()

	if token == "" || len(token) > maxTokenLength {
		return fail(ReasonMalformed)
	}

	parts := strings.Split(token, ".")
	if len(parts) != segmentCount || parts[0] != Tag {
		return fail(ReasonMalformed)
	}
	body, sig := parts[1], parts[2]

	expected := sign(secret, body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return fail(ReasonBadSignature)
	}

	raw, err := encoding.Decode(body)
	if err != nil {
		return fail(ReasonBadPayload)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fail(ReasonBadPayload)
	}

	if p.Plan != PlanPro {
		return fail(ReasonWrongPlan)
	}

	exp, err := p.Expiry()
	if err != nil {
		return fail(ReasonMissingExpiry)
	}

	if !c.now().Before(exp) {
		return fail(ReasonExpired)
	}

	return Result{OK: true, Payload: &p}
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return encoding.Encode(mac.Sum(nil))
}
