package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"recruitportal.org/internal/auth"
	"recruitportal.org/internal/obs"
)

const serviceName = "recruitportal-auth"

// ReadyProbe pings the dependencies a request may touch. Nil members are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP layer over auth.Service.
type API struct {
	router     chi.Router
	svc        *auth.Service
	readyProbe readinessChecker
	version    string

	frontendOrigin string
	trustProxy     bool
	maxBodyBytes   int64
	rateBurst      int
	ratePerSec     int
}

// Option configures the API.
type Option func(*API)

func WithReadyProbe(rp readinessChecker) Option {
	return func(a *API) {
		if rp != nil {
			a.readyProbe = rp
		}
	}
}

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithFrontendOrigin sets the single origin allowed by CORS.
func WithFrontendOrigin(origin string) Option {
	return func(a *API) { a.frontendOrigin = origin }
}

// WithTrustProxyHeaders makes client keys come from X-Forwarded-For. Enable
// only behind a proxy that overwrites the header.
func WithTrustProxyHeaders(trust bool) Option {
	return func(a *API) { a.trustProxy = trust }
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

const defaultMaxBodyBytes = 1 << 20

func New(svc *auth.Service, opts ...Option) *API {
	a := &API{
		svc:          svc,
		readyProbe:   ReadyProbe{},
		version:      "dev",
		maxBodyBytes: defaultMaxBodyBytes,
		rateBurst:    20,
		ratePerSec:   10,
	}
	for _, opt := range opts {
		opt(a)
	}

	r := chi.NewRouter()
	r.Use(obs.Instrument)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/api/health", a.Healthz)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	authRoutes := func(r chi.Router) {
		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Post("/refresh", a.handleRefresh)
	}
	authRoutes(r)
	r.Route("/api/auth", authRoutes)

	verifier := svc.Tokens()
	r.With(Authenticate(verifier)).Get("/me", a.handleMe)
	r.With(Authenticate(verifier)).Get("/api/users/me", a.handleMe)
	r.With(Authenticate(verifier), RequireRole(auth.RoleAdmin)).Post("/admin/roles", a.handleGrantRole)

	a.router = r
	return a
}

// Handler wraps the router with the cross-cutting middleware, outermost first:
// request id, access log, security headers, CORS, body cap, per-IP rate limit.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = RateLimit(h, a.rateBurst, a.ratePerSec, TrustProxy(a.trustProxy))
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h, a.frontendOrigin)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
