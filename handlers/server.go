package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/atomic"

	"kaiden.app/licensing/internal/email"
	"kaiden.app/licensing/internal/logger"
	"kaiden.app/licensing/internal/ratelimit"
	"kaiden.app/licensing/internal/tier"
	"kaiden.app/licensing/internal/token"
	"kaiden.app/licensing/storage"
)

const maxRequestBytes = int64(16 << 10)

// Options configures a Server. Zero values disable the matching feature:
// no AdminAPIKey turns off the admin routes, no Email skips delivery and no
// RateLimit leaves verification unthrottled.
type Options struct {
	Version string

	LicenseSecret string
	ValidDays     int
	DefaultTier   tier.Tier
	AdminAPIKey   string

	StripeSecretKey     string
	StripeWebhookSecret string
	TestMode            bool

	Email       email.Sender
	RateLimit   *ratelimit.FixedWindowLimiter
	CORSOrigins []string

	Now func() time.Time
}

type Server struct {
	Mux     *chi.Mux
	Storage storage.Storage

	opts  Options
	codec token.Codec

	issued   *atomic.Int64
	verified *atomic.Int64
	rejected *atomic.Int64
}

func NewHttpServer(store storage.Storage, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ValidDays < 1 {
		opts.ValidDays = 365
	}
	if opts.DefaultTier == "" {
		opts.DefaultTier = tier.Lowest
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{
		Mux:      chi.NewRouter(),
		Storage:  store,
		opts:     opts,
		codec:    token.Codec{Now: opts.Now},
		issued:   atomic.NewInt64(0),
		verified: atomic.NewInt64(0),
		rejected: atomic.NewInt64(0),
	}

	s.Mux.Use(middleware.RequestID)
	s.Mux.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	s.Mux.Use(middleware.Recoverer)
	s.Mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-Key"},
		MaxAge:         300,
	}))

	s.Mux.Get("/health", s.Health)

	s.Mux.Route("/api/v1", func(r chi.Router) {
		r.Route("/licenses", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if opts.RateLimit != nil {
					r.Use(ratelimit.Middleware(opts.RateLimit))
				}
				r.Post("/verify", s.VerifyLicense)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/issue", s.IssueLicense)
				r.Get("/{nonce}", s.GetLicense)
			})
		})
		r.Post("/webhooks/stripe", s.Stripe)
		r.Get("/tiers", s.ListTiers)
		r.Get("/tiers/access", s.TierAccess)
		r.Get("/features", s.ListFeatures)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Mux.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Issued    int64     `json:"issued"`
	Verified  int64     `json:"verified"`
	Rejected  int64     `json:"rejected"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   s.opts.Version,
		Timestamp: s.opts.Now().UTC(),
		Issued:    s.issued.Load(),
		Verified:  s.verified.Load(),
		Rejected:  s.rejected.Load(),
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminAPIKey == "" {
			writeErrorResponse(w, http.StatusNotFound, "Not found")
			return
		}
		given := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(given), []byte(s.opts.AdminAPIKey)) != 1 {
			logger.Warn("Rejected admin request", map[string]interface{}{
				"remote_addr": r.RemoteAddr,
				"path":        r.URL.Path,
			})
			writeErrorResponse(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reportError sends err to Sentry. Without a configured DSN this is a no-op.
func reportError(r *http.Request, err error) {
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
