package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"kaiden.app/licensing/internal/email"
	"kaiden.app/licensing/internal/logger"
	"kaiden.app/licensing/internal/tier"
	"kaiden.app/licensing/models"
)

const maxWebhookBytes = int64(65536)

// Session metadata keys read on checkout completion.
const (
	MetadataValidDays = "valid_days"
	MetadataTier      = "tier"
)

var errNoEmail = errors.New("checkout session has no customer email")

func (s *Server) Stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger.Info("Stripe webhook received", map[string]interface{}{
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.Header.Get("User-Agent"),
	})

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Failed to read webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	event, err := s.constructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logger.Error("Webhook rejected", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	logger.Info("Stripe event parsed", map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
	})

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			logger.Error("Failed to unmarshal checkout session", map[string]interface{}{
				"error":    err.Error(),
				"event_id": event.ID,
			})
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if err := s.handleCheckoutComplete(ctx, &session); err != nil {
			if errors.Is(err, errNoEmail) {
				logger.Warn("Checkout session without email ignored", map[string]interface{}{
					"session_id": session.ID,
				})
				break
			}
			logger.Error("Failed to handle checkout completion", map[string]interface{}{
				"error":      err.Error(),
				"session_id": session.ID,
			})
			reportError(r, err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	default:
		logger.Info("Unhandled webhook event type", map[string]interface{}{
			"event_type": event.Type,
			"event_id":   event.ID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}

// constructEvent verifies the Stripe signature unless the server runs in
// test mode, where the payload is trusted as is.
func (s *Server) constructEvent(payload []byte, signature string) (stripe.Event, error) {
	var event stripe.Event

	if s.opts.TestMode {
		logger.Debug("Skipping webhook signature verification (test mode)")
		if err := json.Unmarshal(payload, &event); err != nil {
			return event, fmt.Errorf("parse webhook JSON: %w", err)
		}
		return event, nil
	}

	if s.opts.StripeWebhookSecret == "" {
		return event, errors.New("STRIPE_WEBHOOK_SECRET is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.opts.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return event, fmt.Errorf("verify webhook signature: %w", err)
	}
	return event, nil
}

func (s *Server) handleCheckoutComplete(ctx context.Context, session *stripe.CheckoutSession) error {
	existing, err := s.Storage.FindLicenseByStripeSession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("look up session: %w", err)
	}
	if existing != nil {
		logger.Info("Checkout session already licensed", map[string]interface{}{
			"session_id": session.ID,
			"license_id": existing.ID,
		})
		return nil
	}

	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		logger.Info("Checkout session not paid yet", map[string]interface{}{
			"session_id": session.ID,
		})
		return nil
	}

	var addr string
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		addr = session.CustomerDetails.Email
	} else {
		addr = session.CustomerEmail
	}
	addr = models.NormalizeEmail(addr)
	if addr == "" {
		return errNoEmail
	}

	var stripeCustomerID string
	if session.Customer != nil {
		stripeCustomerID = session.Customer.ID
	}

	customer, err := s.findOrCreateCustomer(ctx, addr, stripeCustomerID)
	if err != nil {
		return fmt.Errorf("failed to find/create customer: %w", err)
	}

	days, t := s.checkoutTerms(session)
	license, err := s.issueLicense(ctx, customer, days, t, session.ID)
	if err != nil {
		return err
	}

	s.deliver(ctx, addr, license)
	return nil
}

// checkoutTerms reads validity and tier from session metadata, falling back
// to the configured defaults for missing or invalid values.
func (s *Server) checkoutTerms(session *stripe.CheckoutSession) (int, tier.Tier) {
	days := s.opts.ValidDays
	if raw := session.Metadata[MetadataValidDays]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		} else {
			logger.Warn("Ignoring invalid valid_days metadata", map[string]interface{}{
				"session_id": session.ID,
				"value":      raw,
			})
		}
	}

	t := s.opts.DefaultTier
	if raw := session.Metadata[MetadataTier]; raw != "" {
		if parsed, ok := tier.Parse(raw); ok {
			t = parsed
		} else {
			logger.Warn("Ignoring unknown tier metadata", map[string]interface{}{
				"session_id": session.ID,
				"value":      raw,
			})
		}
	}
	return days, t
}

// deliver mails the token. A failure is logged; the license stands.
func (s *Server) deliver(ctx context.Context, addr string, license *models.License) {
	if s.opts.Email == nil {
		logger.Warn("Email delivery disabled, token not sent", map[string]interface{}{
			"license_id": license.ID,
		})
		return
	}

	msg := email.LicenseMessage(addr, license.Token, license.Tier, license.ExpiresAt)
	if err := s.opts.Email.Send(ctx, msg); err != nil {
		logger.Error("Failed to send license email", map[string]interface{}{
			"error":      err.Error(),
			"license_id": license.ID,
		})
		return
	}
	logger.Info("License email sent", map[string]interface{}{
		"license_id": license.ID,
	})
}
