package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"kaiden.app/licensing/internal/email"
	"kaiden.app/licensing/internal/tier"
	"kaiden.app/licensing/internal/token"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg email.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func createMockStripeEvent(eventType string, sessionData map[string]interface{}) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"id":     "evt_test123",
		"object": "event",
		"type":   eventType,
		"data": map[string]interface{}{
			"object": sessionData,
		},
	})
	return payload
}

func checkoutSession(id, addr string, metadata map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"id":             id,
		"object":         "checkout.session",
		"customer_email": addr,
		"customer":       "cus_" + id,
		"payment_status": "paid",
		"metadata":       metadata,
	}
}

func postWebhook(s *Server, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestStripe_CheckoutCompletedIssuesLicense(t *testing.T) {
	sender := &recordingSender{}
	server, store := newTestServer(t, func(o *Options) { o.Email = sender })
	ctx := context.Background()

	payload := createMockStripeEvent("checkout.session.completed",
		checkoutSession("cs_test_1", "Buyer@Example.com", nil))

	w := postWebhook(server, payload, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	license, err := store.FindLicenseByStripeSession(ctx, "cs_test_1")
	if err != nil || license == nil {
		t.Fatalf("Expected license for session, got %v (err %v)", license, err)
	}
	if license.Tier != string(tier.Starter) {
		t.Errorf("Expected default tier, got %s", license.Tier)
	}
	if !license.ExpiresAt.Equal(fixedNow.Add(365 * 24 * time.Hour)) {
		t.Errorf("Expected default validity, got %v", license.ExpiresAt)
	}

	customer, _ := store.GetCustomer(ctx, license.CustomerID)
	if customer == nil || customer.Email != "buyer@example.com" || customer.StripeCustomerID != "cus_cs_test_1" {
		t.Errorf("Unexpected customer: %+v", customer)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("Expected one email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "buyer@example.com" || !strings.Contains(msg.Body, license.Token) {
		t.Errorf("Unexpected email: %+v", msg)
	}
}

func TestStripe_DuplicateEventIsIdempotent(t *testing.T) {
	sender := &recordingSender{}
	server, store := newTestServer(t, func(o *Options) { o.Email = sender })

	payload := createMockStripeEvent("checkout.session.completed",
		checkoutSession("cs_dup", "buyer@example.com", nil))

	for i := 0; i < 3; i++ {
		if w := postWebhook(server, payload, ""); w.Code != http.StatusOK {
			t.Fatalf("Delivery %d: expected 200, got %d", i+1, w.Code)
		}
	}

	customer, _ := store.FindCustomerByEmailAddress(context.Background(), "buyer@example.com")
	licenses, _ := store.FindLicensesByCustomer(context.Background(), customer.ID)
	if len(licenses) != 1 {
		t.Errorf("Expected a single license, got %d", len(licenses))
	}
	if len(sender.sent) != 1 {
		t.Errorf("Expected a single email, got %d", len(sender.sent))
	}
}

func TestStripe_MetadataTerms(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		days     int
		tier     tier.Tier
	}{
		{"explicit terms", map[string]string{"valid_days": "30", "tier": "empire"}, 30, tier.Empire},
		{"invalid days", map[string]string{"valid_days": "soon"}, 365, tier.Starter},
		{"zero days", map[string]string{"valid_days": "0"}, 365, tier.Starter},
		{"unknown tier", map[string]string{"tier": "Platinum"}, 365, tier.Starter},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, store := newTestServer(t)
			sessionID := "cs_meta_" + string(rune('a'+i))

			w := postWebhook(server, createMockStripeEvent("checkout.session.completed",
				checkoutSession(sessionID, "buyer@example.com", tt.metadata)), "")
			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", w.Code)
			}

			license, _ := store.FindLicenseByStripeSession(context.Background(), sessionID)
			if license == nil {
				t.Fatal("Expected a license")
			}
			if license.Tier != string(tt.tier) {
				t.Errorf("Expected tier %s, got %s", tt.tier, license.Tier)
			}
			want := fixedNow.Add(time.Duration(tt.days) * 24 * time.Hour)
			if !license.ExpiresAt.Equal(want) {
				t.Errorf("Expected expiry %v, got %v", want, license.ExpiresAt)
			}
		})
	}
}

func TestStripe_CustomerDetailsEmailPreferred(t *testing.T) {
	server, store := newTestServer(t)

	session := checkoutSession("cs_details", "old@example.com", nil)
	session["customer_details"] = map[string]interface{}{"email": "details@example.com"}

	w := postWebhook(server, createMockStripeEvent("checkout.session.completed", session), "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	if c, _ := store.FindCustomerByEmailAddress(context.Background(), "details@example.com"); c == nil {
		t.Error("Expected customer from customer_details email")
	}
	if c, _ := store.FindCustomerByEmailAddress(context.Background(), "old@example.com"); c != nil {
		t.Error("Expected customer_email to be ignored")
	}
}

func TestStripe_SkippedSessions(t *testing.T) {
	tests := []struct {
		name    string
		session map[string]interface{}
	}{
		{"unpaid", func() map[string]interface{} {
			s := checkoutSession("cs_skip", "buyer@example.com", nil)
			s["payment_status"] = "unpaid"
			return s
		}()},
		{"no email", checkoutSession("cs_skip", "", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, store := newTestServer(t)

			w := postWebhook(server, createMockStripeEvent("checkout.session.completed", tt.session), "")
			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", w.Code)
			}
			if l, _ := store.FindLicenseByStripeSession(context.Background(), "cs_skip"); l != nil {
				t.Errorf("Expected no license, got %+v", l)
			}
		})
	}
}

func TestStripe_EmailFailureKeepsLicense(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	server, store := newTestServer(t, func(o *Options) { o.Email = sender })

	w := postWebhook(server, createMockStripeEvent("checkout.session.completed",
		checkoutSession("cs_mailfail", "buyer@example.com", nil)), "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	license, _ := store.FindLicenseByStripeSession(context.Background(), "cs_mailfail")
	if license == nil {
		t.Fatal("Expected license despite email failure")
	}
	res := token.Codec{Now: func() time.Time { return fixedNow }}.Verify(testSecret, license.Token)
	if !res.OK {
		t.Errorf("Expected stored token to verify, got %s", res.Reason)
	}
}

func TestStripe_UnhandledEventType(t *testing.T) {
	server, _ := newTestServer(t)

	w := postWebhook(server, createMockStripeEvent("invoice.paid", map[string]interface{}{"id": "in_1"}), "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["received"] != "true" {
		t.Errorf("Expected acknowledgement, got %v", resp)
	}
}

func TestStripe_InvalidJSON(t *testing.T) {
	server, _ := newTestServer(t)

	if w := postWebhook(server, []byte("{not json"), ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestStripe_SignatureVerification(t *testing.T) {
	const secret = "whsec_test"
	server, store := newTestServer(t, func(o *Options) {
		o.TestMode = false
		o.StripeWebhookSecret = secret
	})

	payload := createMockStripeEvent("checkout.session.completed",
		checkoutSession("cs_signed", "buyer@example.com", nil))

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})

	w := postWebhook(server, signed.Payload, signed.Header)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for a signed event, got %d", w.Code)
	}
	if l, _ := store.FindLicenseByStripeSession(context.Background(), "cs_signed"); l == nil {
		t.Error("Expected license for signed event")
	}

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  "whsec_other",
	})
	if w := postWebhook(server, forged.Payload, forged.Header); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a forged signature, got %d", w.Code)
	}
	if w := postWebhook(server, payload, ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without a signature, got %d", w.Code)
	}
}

func TestStripe_MissingWebhookSecret(t *testing.T) {
	server, _ := newTestServer(t, func(o *Options) { o.TestMode = false })

	w := postWebhook(server, createMockStripeEvent("invoice.paid", nil), "t=1,v1=abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without a configured secret, got %d", w.Code)
	}
}
