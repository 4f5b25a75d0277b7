// Package httptransport is the thin HTTP layer. Handlers delegate to the
// federation and grant components and only translate their errors into
// redirects or OAuth JSON bodies.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"idbroker/internal/federation"
	"idbroker/internal/idp"
	"idbroker/internal/op"
	"idbroker/internal/platform/metrics"
	"idbroker/internal/ratelimit"
)

// Deps groups the collaborators the transport layer routes to.
type Deps struct {
	Registry *federation.Registry
	Router   *idp.Router
	Grants   *op.GrantRegistry
	Logger   *slog.Logger
	// Health reports store connectivity, nil means always healthy.
	Health func(ctx context.Context) error
	// ErrorPageURL is the front-end page login failures redirect to. Empty
	// renders a JSON error instead.
	ErrorPageURL string
	// Limiter throttles the authentication endpoints per client IP, nil
	// disables throttling.
	Limiter *ratelimit.Limiter
}

// NewRouter wires all public endpoints.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/health", metrics.Instrument("health", http.HandlerFunc(h.health)))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	throttled := func(route string, next http.Handler) http.Handler {
		if deps.Limiter == nil {
			return next
		}
		return ratelimit.Middleware(deps.Limiter, route)(next)
	}

	r.Method(http.MethodGet, "/auth/connect/{structure}/{type}",
		throttled("connect", metrics.Instrument("connect", http.HandlerFunc(h.connect))))
	r.Method(http.MethodGet, "/auth/callback/{structure}/{type}",
		metrics.Instrument("callback", http.HandlerFunc(h.callback)))
	r.Method(http.MethodGet, "/auth/logout/{structure}/{type}",
		metrics.Instrument("logout", http.HandlerFunc(h.logout)))

	r.Method(http.MethodPost, "/oauth/token",
		throttled("token", metrics.Instrument("token", http.HandlerFunc(h.token))))

	return r
}

type handler struct {
	deps Deps
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				return
			}
			logger.Info("requête traitée",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
