// Package api provides the HTTP API handlers and routing for the upgrade service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"upgrader/internal/access"
	"upgrader/internal/apperrors"
	"upgrader/internal/health"
	"upgrader/internal/history"
	"upgrader/internal/notify"
	"upgrader/internal/upgrade"
)

// maxRequestBodySize limits request body to 64KB; a version string is all we read.
const maxRequestBodySize = 64 << 10

const (
	defaultRunLimit = 50
	maxListLimit    = 200
)

// Redirect targets of the legacy update form.
const (
	redirectHome   = "/"
	redirectUpdate = "/install/update"
	redirectLogin  = "/auth/login"
)

// UpgradeRequest is the body of POST /v1/upgrades.
type UpgradeRequest struct {
	Version string `json:"version"`
	Wait    bool   `json:"wait,omitempty"`
}

type errorResponse struct {
	Error string       `json:"error"`
	Run   *history.Run `json:"run,omitempty"`
}

// Handler contains HTTP handlers for the upgrade API
type Handler struct {
	svc    *upgrade.Service
	health *health.Checker
	flash  *notify.Flash
}

// NewHandler creates a new API handler
func NewHandler(svc *upgrade.Service, healthChecker *health.Checker, flash *notify.Flash) *Handler {
	return &Handler{
		svc:    svc,
		health: healthChecker,
		flash:  flash,
	}
}

// CreateUpgrade handles POST /v1/upgrades.
// Returns 202 with the accepted run, or with wait=true (body or query) 200
// with the finished run.
func (h *Handler) CreateUpgrade(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req UpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if wait, err := strconv.ParseBool(r.URL.Query().Get("wait")); err == nil && wait {
		req.Wait = true
	}

	id := access.IdentityFrom(r.Context())
	if req.Wait {
		run, err := h.svc.RunSync(r.Context(), id, req.Version)
		if err != nil {
			h.handleRunError(w, r, run, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	run, err := h.svc.Start(r.Context(), id, req.Version)
	if err != nil {
		h.handleRunError(w, r, run, err)
		return
	}
	w.Header().Set("Location", "/v1/upgrades/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

// ListUpgrades handles GET /v1/upgrades
func (h *Handler) ListUpgrades(w http.ResponseWriter, r *http.Request) {
	runs, err := h.svc.List(r.Context(), queryLimit(r, defaultRunLimit))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetUpgrade handles GET /v1/upgrades/{runId}
func (h *Handler) GetUpgrade(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		h.writeError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := h.svc.Get(r.Context(), runID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListVersions handles GET /v1/versions?limit=N
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions := h.svc.Versions(r.Context(), queryLimit(r, 0))
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

// UpdateStatus handles GET /v1/update
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context(), queryLimit(r, 0))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Notifications handles GET /v1/notifications. Pending notifications are
// returned once and then cleared.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	pending := []notify.Notification{}
	if h.flash != nil {
		pending = h.flash.Drain()
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": pending})
}

// SubmitUpdateForm handles POST /install/update, the form-driven trigger.
// It always answers with 303: home on success, back to the update page with
// a pending notification on failure, or the login page when access is denied.
func (h *Handler) SubmitUpdateForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		slog.WarnContext(r.Context(), "Unreadable update form", "error", err)
		h.flashError(r, "Invalid form submission.")
		http.Redirect(w, r, redirectUpdate, http.StatusSeeOther)
		return
	}

	run, err := h.svc.RunSync(r.Context(), access.IdentityFrom(r.Context()), r.PostForm.Get("version"))
	switch {
	case err == nil:
		http.Redirect(w, r, redirectHome, http.StatusSeeOther)
	case errors.Is(err, apperrors.ErrUnauthorized), errors.Is(err, apperrors.ErrForbidden):
		slog.WarnContext(r.Context(), "Update form denied", "error", err)
		http.Redirect(w, r, redirectLogin, http.StatusSeeOther)
	default:
		// Pipeline outcomes are already announced by the service; rejections
		// that never produced one (shutdown, history failure) are not.
		if run.Outcome == nil {
			slog.WarnContext(r.Context(), "Update form rejected", "error", err)
			h.flashError(r, publicMessage(err))
		}
		http.Redirect(w, r, redirectUpdate, http.StatusSeeOther)
	}
}

func (h *Handler) flashError(r *http.Request, message string) {
	flashError(r.Context(), flashSink(h.flash), message)
}

// flashError queues an error notification for the update page. A nil sink drops it.
func flashError(ctx context.Context, sink notify.Sink, message string) {
	if sink == nil {
		return
	}
	if err := sink.Notify(ctx, notify.Notification{
		Severity: notify.SeverityError,
		Message:  message,
		Time:     time.Now(),
	}); err != nil {
		slog.WarnContext(ctx, "Failed to queue notification", "error", err)
	}
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the repository, lease backend or container runtime is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, response)
}

func queryLimit(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	return min(n, maxListLimit)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	h.handleRunError(w, r, history.Run{}, err)
}

// handleRunError is handleError that also returns the failed run when there is one.
func (h *Handler) handleRunError(w http.ResponseWriter, r *http.Request, run history.Run, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}

	resp := errorResponse{Error: publicMessage(err)}
	if run.ID != "" {
		resp.Run = &run
	}
	writeJSON(w, status, resp)
}

// publicMessage hides the causes of internal errors; operator-facing
// messages built with apperrors.Failed pass through.
func publicMessage(err error) string {
	var appErr *apperrors.Error
	if apperrors.HTTPStatus(err) < 500 || (errors.As(err, &appErr) && appErr.Cause == nil) {
		return err.Error()
	}
	return "Internal server error"
}
