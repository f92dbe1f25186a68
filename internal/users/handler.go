package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carebook/carebook/internal/authz"
	"github.com/carebook/carebook/internal/platform/httpx"
	"github.com/carebook/carebook/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   authz.Guard
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAnyPermission(shared.PermUsersView, shared.PermUsersManage))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.getUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermUsersManage))
		r.Post("/{id}/activate", h.setStatus(authz.StatusActive))
		r.Post("/{id}/deactivate", h.setStatus(authz.StatusInactive))
		r.Post("/{id}/suspend", h.setStatus(authz.StatusSuspended))
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	per, _ := strconv.Atoi(query.Get("per"))
	filter := ListFilter{
		Role:   query.Get("role"),
		Status: query.Get("status"),
		Page:   page,
		Per:    per,
	}

	users, pagination, err := h.service.ListUsers(r.Context(), filter)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.Message(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"users": users,
		"pagination": map[string]any{
			"page":       pagination.Page,
			"perPage":    pagination.PerPage,
			"total":      pagination.Total,
			"totalPages": pagination.TotalPages,
		},
	})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Message(w, http.StatusBadRequest, "invalid user identifier")
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Message(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("get user", slog.Any("error", err))
		httpx.Message(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) setStatus(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := authz.PrincipalFromContext(r.Context())
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			httpx.Message(w, http.StatusBadRequest, "invalid user identifier")
			return
		}
		user, err := h.service.SetStatus(r.Context(), actor, id, status)
		if err != nil {
			switch {
			case errors.Is(err, ErrSelfStatusChange):
				httpx.Message(w, http.StatusConflict, "cannot change own status")
			case errors.Is(err, shared.ErrNotFound):
				httpx.Message(w, http.StatusNotFound, "user not found")
			default:
				h.logger.Error("set user status", slog.Any("error", err))
				httpx.Message(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		httpx.JSON(w, http.StatusOK, user)
	}
}
