package directory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carebook/carebook/internal/authz"
	"github.com/carebook/carebook/internal/platform/httpx"
	"github.com/carebook/carebook/internal/shared"
)

// Handler exposes manager assignment administration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     authz.Guard
	ownership *authz.OwnershipChecker
	validate  *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Guard, ownership *authz.OwnershipChecker) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, ownership: ownership, validate: validator.New()}
}

// MountRoutes registers directory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermManagersManage))
		r.Post("/managers", h.assign)
		r.Delete("/managers/{id}", h.unassign)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermManagersManage,
			authz.WithOwnershipAt(authz.PathID("managerID", "manager"), h.ownership.CanAccessManager)))
		r.Get("/managers/{managerID}/doctors", h.managedDoctors)
	})
}

type assignRequest struct {
	ManagerID int64 `json:"managerId" validate:"required,gt=0"`
	DoctorID  int64 `json:"doctorId" validate:"required,gt=0"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.PrincipalFromContext(r.Context())
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Message(w, http.StatusBadRequest, "managerId and doctorId are required")
		return
	}
	assignment, err := h.service.Assign(r.Context(), actor.UserID, req.ManagerID, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDuplicateAssignment) {
			httpx.Message(w, http.StatusConflict, "assignment already exists")
			return
		}
		h.logger.Error("assign manager", slog.Any("error", err))
		httpx.Message(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.PrincipalFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Message(w, http.StatusBadRequest, "invalid assignment identifier")
		return
	}
	if err := h.service.Unassign(r.Context(), actor.UserID, id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Message(w, http.StatusNotFound, "assignment not found")
			return
		}
		h.logger.Error("unassign manager", slog.Any("error", err))
		httpx.Message(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// managedDoctors lists one responsable's assignments. The route guard decides
// access: manager:manage holders and the responsable themselves get through.
func (h *Handler) managedDoctors(w http.ResponseWriter, r *http.Request) {
	managerID, err := strconv.ParseInt(chi.URLParam(r, "managerID"), 10, 64)
	if err != nil || managerID <= 0 {
		httpx.Message(w, http.StatusBadRequest, "invalid manager identifier")
		return
	}
	assignments, err := h.service.ManagedDoctors(r.Context(), managerID)
	if err != nil {
		h.logger.Error("list managed doctors", slog.Any("error", err))
		httpx.Message(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"managerId": managerID, "assignments": assignments})
}
