package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"kaiden.app/licensing/handlers"
	"kaiden.app/licensing/internal/email"
	"kaiden.app/licensing/internal/tier"
	"kaiden.app/licensing/models"
	"kaiden.app/licensing/storage"
)

const (
	TestLicenseSecret = "test-license-secret"
	TestAdminKey      = "test-admin-key"
)

// TestStorage creates an empty memory storage
func TestStorage() *storage.MemoryStorage {
	return storage.NewMemoryStorage()
}

// CreateTestCustomer creates a test customer with given parameters
func CreateTestCustomer(id, email string) models.Customer {
	return models.Customer{
		ID:               id,
		Email:            email,
		StripeCustomerID: "cus_" + id,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

// CreateTestLicense creates a test license with given parameters
func CreateTestLicense(id, nonce, customerID string) models.License {
	return models.License{
		ID:              id,
		CustomerID:      customerID,
		Nonce:           nonce,
		Plan:            "pro",
		Tier:            string(tier.Starter),
		Token:           "KPRO1.test-" + id + ".sig",
		ExpiresAt:       time.Now().Add(30 * 24 * time.Hour),
		Status:          models.StatusActive,
		StripeSessionID: "cs_" + id,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

// SetupTestData seeds customers and licenses
func SetupTestData(s storage.Storage) error {
	ctx := context.Background()

	customers := []models.Customer{
		CreateTestCustomer("customer1", "customer1@example.com"),
		CreateTestCustomer("customer2", "customer2@example.com"),
	}
	for _, customer := range customers {
		customer := customer
		if err := s.SaveCustomer(ctx, &customer); err != nil {
			return fmt.Errorf("failed to save customer %s: %w", customer.ID, err)
		}
	}

	licenses := []models.License{
		CreateTestLicense("license1", "nonce-1", "customer1"),
		CreateTestLicense("license2", "nonce-2", "customer2"),
	}
	for _, license := range licenses {
		license := license
		if err := s.SaveLicense(ctx, &license); err != nil {
			return fmt.Errorf("failed to save license %s: %w", license.ID, err)
		}
	}

	return nil
}

// RecordingSender captures messages instead of sending them
type RecordingSender struct {
	mu       sync.Mutex
	Messages []email.Message
	Err      error
}

func (r *RecordingSender) Send(_ context.Context, msg email.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Messages = append(r.Messages, msg)
	return nil
}

func (r *RecordingSender) Sent() []email.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]email.Message(nil), r.Messages...)
}

// TestOptions returns server options for test mode with the shared secrets
func TestOptions(sender email.Sender) handlers.Options {
	return handlers.Options{
		Version:       "test",
		LicenseSecret: TestLicenseSecret,
		ValidDays:     365,
		DefaultTier:   tier.Starter,
		AdminAPIKey:   TestAdminKey,
		TestMode:      true,
		Email:         sender,
	}
}

// MakeVerifyRequest sends a token verification request
func MakeVerifyRequest(t *testing.T, server *handlers.Server, tok string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(handlers.VerifyRequest{Token: tok})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/verify", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

// MakeIssueRequest sends an authenticated issue request
func MakeIssueRequest(t *testing.T, server *handlers.Server, reqBody handlers.IssueRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/licenses/issue", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", TestAdminKey)

	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

// DecodeVerifyResponse checks the status and decodes the body
func DecodeVerifyResponse(t *testing.T, w *httptest.ResponseRecorder) handlers.VerifyResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response handlers.VerifyResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return response
}

// AssertErrorResponse checks if the error response matches expected values
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	if w.Code != expectedStatus {
		t.Errorf("Expected status %d, got %d", expectedStatus, w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if response["error"] != expectedError {
		t.Errorf("Expected error '%s', got '%s'", expectedError, response["error"])
	}
}

// CreateStripeWebhookPayload creates a mock Stripe webhook payload
func CreateStripeWebhookPayload(eventType string, sessionData map[string]interface{}) []byte {
	event := map[string]interface{}{
		"id":     "evt_test123",
		"object": "event",
		"type":   eventType,
		"data": map[string]interface{}{
			"object": sessionData,
		},
	}

	payload, _ := json.Marshal(event)
	return payload
}

// CreateMockCheckoutSession creates a mock Stripe checkout session
func CreateMockCheckoutSession(customerEmail, sessionID string, metadata map[string]string) map[string]interface{} {
	session := map[string]interface{}{
		"id":             sessionID,
		"object":         "checkout.session",
		"customer_email": customerEmail,
		"customer":       "cus_" + sessionID,
		"amount_total":   2999,
		"currency":       "usd",
		"payment_status": "paid",
		"metadata":       metadata,
	}
	return session
}

// MakeStripeWebhookRequest sends a webhook request
func MakeStripeWebhookRequest(t *testing.T, server *handlers.Server, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}

	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

// VerificationTestCase is a table entry for RunVerificationTestCases
type VerificationTestCase struct {
	Name           string
	Token          string
	ExpectedValid  bool
	ExpectedReason string
}

// RunVerificationTestCases runs a set of verification test cases
func RunVerificationTestCases(t *testing.T, server *handlers.Server, testCases []VerificationTestCase) {
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			response := DecodeVerifyResponse(t, MakeVerifyRequest(t, server, tc.Token))

			if response.Valid != tc.ExpectedValid {
				t.Errorf("Expected valid=%v, got valid=%v", tc.ExpectedValid, response.Valid)
			}
			if response.Reason != tc.ExpectedReason {
				t.Errorf("Expected reason '%s', got '%s'", tc.ExpectedReason, response.Reason)
			}
		})
	}
}
