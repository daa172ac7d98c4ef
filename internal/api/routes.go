package api

import (
	"net/http"
	"upgrader/internal/access"
	"upgrader/internal/health"
	"upgrader/internal/notify"
	"upgrader/internal/observability"
	"upgrader/internal/upgrade"

	"golang.org/x/time/rate"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Upgrades      *upgrade.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	Flash         *notify.Flash
	Resolver      access.Resolver
	RateLimit     rate.Limit // Upgrade triggers per second; zero disables limiting
	Burst         int
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Upgrades, cfg.HealthChecker, cfg.Flash)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Read endpoints - guarded by role
	guard := RequireAccess(cfg.Upgrades.Authorize)
	mux.Handle("GET /v1/versions", guard(http.HandlerFunc(handler.ListVersions)))
	mux.Handle("GET /v1/update", guard(http.HandlerFunc(handler.UpdateStatus)))
	mux.Handle("GET /v1/upgrades", guard(http.HandlerFunc(handler.ListUpgrades)))
	mux.Handle("GET /v1/upgrades/{runId}", guard(http.HandlerFunc(handler.GetUpgrade)))
	mux.Handle("GET /v1/notifications", guard(http.HandlerFunc(handler.Notifications)))

	// Triggers - access is checked before the shared rate limit
	limit := RateLimitMiddleware(newLimiter(cfg.RateLimit, cfg.Burst))
	formGuard := RequireFormAccess(cfg.Upgrades.Authorize, flashSink(cfg.Flash))
	mux.Handle("POST /v1/upgrades", guard(limit(http.HandlerFunc(handler.CreateUpgrade))))
	mux.Handle("POST /install/update", formGuard(limit(http.HandlerFunc(handler.SubmitUpdateForm))))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = IdentityMiddleware(cfg.Resolver)(h)
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}

func newLimiter(limit rate.Limit, burst int) *rate.Limiter {
	if limit <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

// flashSink avoids handing a typed nil *notify.Flash to code that checks the interface.
func flashSink(f *notify.Flash) notify.Sink {
	if f == nil {
		return nil
	}
	return f
}
