package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carebook/carebook/internal/authz"
	"github.com/carebook/carebook/internal/platform/httpx"
	"github.com/carebook/carebook/internal/shared"
)

// PermissionSource supplies the permission snapshot returned with a login so
// the client can gate its UI without a second round-trip.
type PermissionSource interface {
	Snapshot(ctx context.Context, principal authz.Principal) (*authz.Snapshot, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	permissions    PermissionSource
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, permissions PermissionSource, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		permissions:    permissions,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
	Status   string `json:"status"`
}

type loginResponse struct {
	User        userResponse    `json:"user"`
	CSRFToken   string          `json:"csrfToken"`
	Permissions *authz.Snapshot `json:"permissions,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Message(w, http.StatusInternalServerError, "session unavailable")
		return
	}

	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrAccountDisabled):
			httpx.Message(w, http.StatusForbidden, "account disabled")
		case errors.Is(err, shared.ErrInvalidCredentials):
			httpx.Message(w, http.StatusUnauthorized, "invalid email or password")
		default:
			h.logger.Error("authenticate", slog.Any("error", err))
			httpx.Message(w, http.StatusInternalServerError, "authentication unavailable")
		}
		return
	}

	// A fresh session ID on privilege change keeps fixation off the table.
	if err := h.sessionManager.Rotate(r.Context(), sess); err != nil {
		h.logger.Error("rotate session", slog.Any("error", err))
		httpx.Message(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))

	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	csrfToken, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		httpx.Message(w, http.StatusInternalServerError, "session unavailable")
		return
	}

	resp := loginResponse{User: toUserResponse(user), CSRFToken: csrfToken}
	if snap, err := h.permissions.Snapshot(r.Context(), user.Principal()); err != nil {
		// The client fetches the snapshot lazily when it is missing here.
		h.logger.Warn("login snapshot", slog.Int64("user_id", user.ID), slog.Any("error", err))
	} else {
		resp.Permissions = snap
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "authentication required")
		return
	}
	user, err := h.service.LoadUser(r.Context(), principal.UserID)
	if err != nil {
		h.logger.Error("load current user", slog.Any("error", err))
		httpx.Message(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": toUserResponse(user)})
}

func toUserResponse(u *User) userResponse {
	return userResponse{
		ID:       u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		Role:     u.Role,
		Status:   u.Status,
	}
}
