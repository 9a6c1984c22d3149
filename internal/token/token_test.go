package token

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaiden.app/licensing/internal/encoding"
)

const testSecret = "test-license-secret"

func fixedCodec(now time.Time) Codec {
	return Codec{Now: func() time.Time { return now }}
}

func TestIssueVerify_Valid(t *testing.T) {
	for _, days := range []int{1, 7, 30, 365} {
		before := time.Now()
		tok, err := Issue(testSecret, IssueOptions{ValidDays: days})
		require.NoError(t, err)

		res := Verify(testSecret, tok)
		require.True(t, res.OK, "reason %s", res.Reason)
		require.NoError(t, res.Err())
		require.NotNil(t, res.Payload)

		assert.Equal(t, PlanPro, res.Payload.Plan)
		assert.Equal(t, Version, res.Payload.Version)
		assert.NotEmpty(t, res.Payload.Nonce)

		exp, err := res.Payload.Expiry()
		require.NoError(t, err)
		want := before.Add(time.Duration(days) * 24 * time.Hour)
		assert.WithinDuration(t, want, exp, 5*time.Second)
	}
}

func TestIssue_Format(t *testing.T) {
	tok, err := Issue(testSecret, IssueOptions{ValidDays: 3})
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	assert.Equal(t, Tag, parts[0])
	assert.NotContains(t, tok, "=")
	assert.NotContains(t, tok, " ")

	raw, err := encoding.Decode(parts[1])
	require.NoError(t, err)

	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &claims))
	assert.Equal(t, "pro", claims["plan"])
	assert.EqualValues(t, 1, claims["version"])
	assert.Contains(t, claims, "expiresAt")
	assert.Contains(t, claims, "nonce")
	assert.NotContains(t, claims, "tier")
}

func TestIssue_ClampsValidDays(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := fixedCodec(now)

	for _, days := range []int{0, -1, -30} {
		tok, err := c.Issue(testSecret, IssueOptions{ValidDays: days})
		require.NoError(t, err)

		res := c.Verify(testSecret, tok)
		require.True(t, res.OK)
		exp, err := res.Payload.Expiry()
		require.NoError(t, err)
		assert.True(t, exp.Equal(now.Add(24*time.Hour)), "got %s", exp)
	}
}

func TestIssue_NoncesDiffer(t *testing.T) {
	a, err := Issue(testSecret, IssueOptions{ValidDays: 1})
	require.NoError(t, err)
	b, err := Issue(testSecret, IssueOptions{ValidDays: 1})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	ra, rb := Verify(testSecret, a), Verify(testSecret, b)
	assert.NotEqual(t, ra.Payload.Nonce, rb.Payload.Nonce)
}

func TestIssue_TierClaim(t *testing.T) {
	tok, err := Issue(testSecret, IssueOptions{ValidDays: 10, Tier: "Operator Sync"})
	require.NoError(t, err)

	res := Verify(testSecret, tok)
	require.True(t, res.OK)
	assert.Equal(t, "Operator Sync", res.Payload.Tier)
}

func TestVerify_Expiration(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, err := fixedCodec(issuedAt).Issue(testSecret, IssueOptions{ValidDays: 30})
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		ok   bool
	}{
		{"at issuance", issuedAt, true},
		{"one second before expiry", issuedAt.Add(30*24*time.Hour - time.Second), true},
		{"exactly at expiry", issuedAt.Add(30 * 24 * time.Hour), false},
		{"after expiry", issuedAt.Add(31 * 24 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := fixedCodec(tt.at).Verify(testSecret, tok)
			assert.Equal(t, tt.ok, res.OK)
			if !tt.ok {
				assert.Equal(t, ReasonExpired, res.Reason)
				assert.Equal(t, KindTemporal, res.Reason.Kind())
				assert.ErrorIs(t, res.Err(), ErrExpired)
			}
		})
	}
}

func TestVerify_PastExpiryWithValidSignature(t *testing.T) {
	tok, err := Encode(testSecret, Payload{
		Version:   Version,
		Plan:      PlanPro,
		ExpiresAt: time.Now().Add(-time.Hour).UTC().Format(TimeLayout),
		Nonce:     "n",
	})
	require.NoError(t, err)

	res := Verify(testSecret, tok)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonExpired, res.Reason)
	assert.Nil(t, res.Payload)
}

func TestVerify_TamperedSegments(t *testing.T) {
	tok, err := Issue(testSecret, IssueOptions{ValidDays: 5})
	require.NoError(t, err)

	tagLen := len(Tag) + 1
	for i := tagLen; i < len(tok); i++ {
		if tok[i] == '.' {
			continue
		}
		replacement := byte('A')
		if tok[i] == 'A' {
			replacement = 'B'
		}
		tampered := tok[:i] + string(replacement) + tok[i+1:]

		res := Verify(testSecret, tampered)
		require.False(t, res.OK, "flip at %d accepted", i)
		require.Equal(t, ReasonBadSignature, res.Reason, "flip at %d", i)
		require.Equal(t, KindAuthentication, res.Reason.Kind())
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	tok, err := Issue("secret-one", IssueOptions{ValidDays: 5})
	require.NoError(t, err)

	for _, s := range []string{"secret-two", "", "secret-one ", "Secret-one"} {
		res := Verify(s, tok)
		assert.False(t, res.OK)
		assert.Equal(t, ReasonBadSignature, res.Reason)
		assert.ErrorIs(t, res.Err(), ErrBadSignature)
	}
}

func TestVerify_Malformed(t *testing.T) {
	valid, err := Issue(testSecret, IssueOptions{ValidDays: 5})
	require.NoError(t, err)
	parts := strings.Split(valid, ".")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"one segment", "KPRO1"},
		{"two segments", "KPRO1." + parts[1]},
		{"four segments", valid + ".extra"},
		{"wrong tag", "KPRO2." + parts[1] + "." + parts[2]},
		{"lowercase tag", "kpro1." + parts[1] + "." + parts[2]},
		{"oversized", "KPRO1." + strings.Repeat("a", maxTokenLength) + ".sig"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Verify(testSecret, tt.token)
			assert.False(t, res.OK)
			assert.Equal(t, ReasonMalformed, res.Reason)
			assert.Equal(t, KindFormat, res.Reason.Kind())
		})
	}
}

func signedBody(body string) string {
	return Tag + "." + body + "." + sign(testSecret, body)
}

func TestVerify_PayloadShape(t *testing.T) {
	future := time.Now().Add(time.Hour).UTC().Format(TimeLayout)

	tests := []struct {
		name   string
		token  string
		reason Reason
	}{
		{"body not base64", signedBody("***"), ReasonBadPayload},
		{"body not json", signedBody(encoding.Encode([]byte("not json"))), ReasonBadPayload},
		{"plan wrong type", signedBody(encoding.Encode([]byte(`{"plan":7,"expiresAt":"` + future + `"}`))), ReasonBadPayload},
		{"json array", signedBody(encoding.Encode([]byte(`[1,2]`))), ReasonBadPayload},
		{"free plan", signedBody(encoding.Encode([]byte(`{"version":1,"plan":"free","expiresAt":"` + future + `"}`))), ReasonWrongPlan},
		{"no plan", signedBody(encoding.Encode([]byte(`{"version":1,"expiresAt":"` + future + `"}`))), ReasonWrongPlan},
		{"no expiry", signedBody(encoding.Encode([]byte(`{"version":1,"plan":"pro","nonce":"x"}`))), ReasonMissingExpiry},
		{"unparseable expiry", signedBody(encoding.Encode([]byte(`{"version":1,"plan":"pro","expiresAt":"next tuesday"}`))), ReasonMissingExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Verify(testSecret, tt.token)
			assert.False(t, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
			assert.NotEmpty(t, res.Reason.Message())
		})
	}
}

func TestVerify_AcceptsSecondPrecisionTimestamps(t *testing.T) {
	tok := signedBody(encoding.Encode([]byte(`{"version":1,"plan":"pro","expiresAt":"2099-01-01T00:00:00Z","nonce":"x"}`)))
	res := Verify(testSecret, tok)
	require.True(t, res.OK)
}
