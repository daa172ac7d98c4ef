package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strconv"
	"time"
	"upgrader/internal/access"
	"upgrader/internal/apperrors"
	"upgrader/internal/notify"
	"upgrader/internal/observability"

	"golang.org/x/time/rate"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			slog.InfoContext(r.Context(), "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
			)
		})
	}
}

// MetricsMiddleware records HTTP request metrics (latency, traffic, errors).
func MetricsMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, wrapped.statusCode, duration)
		})
	}
}

// RecoveryMiddleware recovers from panics
func RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					slog.ErrorContext(r.Context(), "Panic recovered", "error", err)
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ContentTypeMiddleware accepts JSON bodies and, for the legacy update form,
// URL-encoded forms.
func ContentTypeMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut {
				if contentType := r.Header.Get("Content-Type"); contentType != "" {
					mediaType, _, err := mime.ParseMediaType(contentType)
					if err != nil || (mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded") {
						http.Error(w, "Content-Type must be application/json or application/x-www-form-urlencoded", http.StatusUnsupportedMediaType)
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware adds CORS headers
func CORSMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IdentityMiddleware attaches the caller's identity, if any, to the request
// context. It never rejects; authorization happens per route.
func IdentityMiddleware(resolver access.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := resolver.Resolve(r); id != nil {
				r = r.WithContext(access.WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthorizeFunc decides whether the caller may use a route.
type AuthorizeFunc func(ctx context.Context, id *access.Identity) error

// RequireAccess rejects callers that authorize refuses with a JSON error.
// Internal failures are reported without their cause.
func RequireAccess(authorize AuthorizeFunc) func(http.Handler) http.Handler {
	return requireAccess(authorize, func(w http.ResponseWriter, r *http.Request, err error) {
		writeJSON(w, apperrors.HTTPStatus(err), errorResponse{Error: publicMessage(err)})
	})
}

// RequireFormAccess is RequireAccess for browser forms: unauthenticated or
// unprivileged callers are redirected to the login page, and a failed check
// sends them back to the update page with a notification in flash.
func RequireFormAccess(authorize AuthorizeFunc, flash notify.Sink) func(http.Handler) http.Handler {
	return requireAccess(authorize, func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, apperrors.ErrUnauthorized) || errors.Is(err, apperrors.ErrForbidden) {
			http.Redirect(w, r, redirectLogin, http.StatusSeeOther)
			return
		}
		flashError(r.Context(), flash, publicMessage(err))
		http.Redirect(w, r, redirectUpdate, http.StatusSeeOther)
	})
}

func requireAccess(authorize AuthorizeFunc, deny func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := authorize(r.Context(), access.IdentityFrom(r.Context())); err != nil {
				status := apperrors.HTTPStatus(err)
				if status >= 500 {
					slog.ErrorContext(r.Context(), "Access check failed", "path", r.URL.Path, "error", err)
				} else {
					slog.WarnContext(r.Context(), "Access denied", "path", r.URL.Path, "status", status, "error", err)
				}
				deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware rejects requests beyond the limiter's rate with 429.
// A nil limiter disables limiting.
func RateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Reserve()
			if delay := res.Delay(); !res.OK() || delay > 0 {
				res.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(delay.Seconds())))))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many upgrade requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
