package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kaiden.app/licensing/internal/logger"
	"kaiden.app/licensing/internal/tier"
	"kaiden.app/licensing/internal/token"
	"kaiden.app/licensing/models"
)

type VerifyRequest struct {
	Token string `json:"token"`
}

type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message"`
	Plan      string `json:"plan,omitempty"`
	Tier      string `json:"tier,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type IssueRequest struct {
	Email     string `json:"email"`
	ValidDays int    `json:"valid_days"`
	Tier      string `json:"tier"`
}

type IssueResponse struct {
	Token     string    `json:"token"`
	LicenseID string    `json:"license_id"`
	Tier      string    `json:"tier"`
	ExpiresAt time.Time `json:"expires_at"`
}

type LicenseResponse struct {
	models.License
	EffectiveStatus string `json:"effective_status"`
}

// VerifyLicense checks a token offline against the issuing secret. Every
// rejection is a 200 with valid=false and the reason.
func (s *Server) VerifyLicense(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeErrorResponse(w, http.StatusBadRequest, "token required")
		return
	}

	res := s.codec.Verify(s.opts.LicenseSecret, strings.TrimSpace(req.Token))
	if !res.OK {
		s.rejected.Inc()
		logger.Info("License token rejected", map[string]interface{}{
			"reason":      string(res.Reason),
			"remote_addr": r.RemoteAddr,
		})
		writeJSON(w, http.StatusOK, VerifyResponse{
			Valid:   false,
			Reason:  string(res.Reason),
			Kind:    string(res.Reason.Kind()),
			Message: res.Reason.Message(),
		})
		return
	}

	s.verified.Inc()
	writeJSON(w, http.StatusOK, VerifyResponse{
		Valid:     true,
		Message:   "License valid",
		Plan:      res.Payload.Plan,
		Tier:      res.Payload.Tier,
		ExpiresAt: res.Payload.ExpiresAt,
	})
}

func (s *Server) IssueLicense(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	addr := models.NormalizeEmail(req.Email)
	if err := models.ValidateEmail(addr); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "valid email required")
		return
	}
	if req.ValidDays < 0 {
		writeErrorResponse(w, http.StatusBadRequest, "valid_days must not be negative")
		return
	}

	t := s.opts.DefaultTier
	if req.Tier != "" {
		parsed, ok := tier.Parse(req.Tier)
		if !ok {
			writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown tier %q", req.Tier))
			return
		}
		t = parsed
	}

	customer, err := s.findOrCreateCustomer(r.Context(), addr, "")
	if err != nil {
		reportError(r, err)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to store customer")
		return
	}

	license, err := s.issueLicense(r.Context(), customer, req.ValidDays, t, "")
	if err != nil {
		reportError(r, err)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to issue license")
		return
	}

	writeJSON(w, http.StatusCreated, IssueResponse{
		Token:     license.Token,
		LicenseID: license.ID,
		Tier:      license.Tier,
		ExpiresAt: license.ExpiresAt,
	})
}

func (s *Server) GetLicense(w http.ResponseWriter, r *http.Request) {
	nonce := chi.URLParam(r, "nonce")

	license, err := s.Storage.FindLicenseByNonce(r.Context(), nonce)
	if err != nil {
		reportError(r, err)
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to look up license")
		return
	}
	if license == nil {
		writeErrorResponse(w, http.StatusNotFound, "License not found")
		return
	}

	writeJSON(w, http.StatusOK, LicenseResponse{
		License:         *license,
		EffectiveStatus: license.EffectiveStatus(s.opts.Now()),
	})
}

// issueLicense mints a token for customer and records it. days below one
// fall back to the configured default.
func (s *Server) issueLicense(ctx context.Context, customer *models.Customer, days int, t tier.Tier, sessionID string) (*models.License, error) {
	if days < 1 {
		days = s.opts.ValidDays
	}

	tok, err := s.codec.Issue(s.opts.LicenseSecret, token.IssueOptions{ValidDays: days, Tier: string(t)})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	res := s.codec.Verify(s.opts.LicenseSecret, tok)
	if !res.OK {
		return nil, fmt.Errorf("issued token does not verify: %w", res.Err())
	}
	expires, err := res.Payload.Expiry()
	if err != nil {
		return nil, fmt.Errorf("issued token expiry: %w", err)
	}

	now := s.opts.Now()
	license := &models.License{
		ID:              uuid.NewString(),
		CustomerID:      customer.ID,
		Nonce:           res.Payload.Nonce,
		Plan:            res.Payload.Plan,
		Tier:            res.Payload.Tier,
		Token:           tok,
		ExpiresAt:       expires,
		StripeSessionID: sessionID,
		Status:          models.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.Storage.SaveLicense(ctx, license); err != nil {
		return nil, fmt.Errorf("failed to save license: %w", err)
	}

	s.issued.Inc()
	logger.Info("License issued", map[string]interface{}{
		"license_id":  license.ID,
		"customer_id": customer.ID,
		"tier":        license.Tier,
		"expires_at":  expires.Format(time.RFC3339),
	})
	return license, nil
}

// findOrCreateCustomer resolves by email, then by Stripe customer id.
func (s *Server) findOrCreateCustomer(ctx context.Context, addr, stripeCustomerID string) (*models.Customer, error) {
	customer, err := s.Storage.FindCustomerByEmailAddress(ctx, addr)
	if err != nil {
		return nil, err
	}
	if customer == nil && stripeCustomerID != "" {
		customer, err = s.Storage.FindCustomerByStripeID(ctx, stripeCustomerID)
		if err != nil {
			return nil, err
		}
	}

	now := s.opts.Now()
	if customer != nil {
		if customer.StripeCustomerID == "" && stripeCustomerID != "" {
			customer.StripeCustomerID = stripeCustomerID
			customer.UpdatedAt = now
			if err := s.Storage.SaveCustomer(ctx, customer); err != nil {
				return nil, fmt.Errorf("failed to update customer: %w", err)
			}
		}
		return customer, nil
	}

	customer = &models.Customer{
		ID:               uuid.NewString(),
		Email:            addr,
		StripeCustomerID: stripeCustomerID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Storage.SaveCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("failed to save customer: %w", err)
	}

	logger.Info("New customer created", map[string]interface{}{
		"customer_id": customer.ID,
	})
	return customer, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}
