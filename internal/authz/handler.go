package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carebook/carebook/internal/platform/httpx"
	"github.com/carebook/carebook/internal/shared"
)

// Handler exposes the admin management surface and the snapshot endpoint.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    Guard
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Guard) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		guard:    guard,
		validate: validator.New(),
	}
}

// MountRoutes registers authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me/permissions", h.myPermissions)

	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAnyPermission(shared.PermPermissionsView, shared.PermPermissionsManage))
		r.Get("/permissions", h.listPermissions)
		r.Get("/catalog", h.listCatalog)
		r.Get("/roles/{role}/permissions", h.listRoleBindings)
		r.Get("/users/{userID}/permissions", h.listUserBindings)
		r.Get("/check", h.check)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermPermissionsManage))
		r.Post("/permissions", h.createPermission)
		r.Patch("/permissions/{id}", h.updatePermission)
		r.Post("/permissions/{id}/activate", h.setPermissionActive(true))
		r.Post("/permissions/{id}/deactivate", h.setPermissionActive(false))

		r.Post("/roles/{role}/permissions", h.createRoleBinding)
		r.Delete("/roles/{role}/permissions/{id}", h.deleteRoleBinding)
		r.Delete("/roles/{role}/permissions", h.deleteRoleBindings)

		r.Post("/users/{userID}/permissions", h.createUserBinding)
		r.Patch("/users/{userID}/permissions/{id}", h.updateUserBinding)
		r.Post("/users/{userID}/permissions/{id}/activate", h.setUserBindingActive(true))
		r.Post("/users/{userID}/permissions/{id}/deactivate", h.setUserBindingActive(false))
		r.Delete("/users/{userID}/permissions/{id}", h.deleteUserBinding)
		r.Delete("/users/{userID}/permissions", h.deleteUserBindings)
	})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "authentication required")
		return
	}
	snap, err := h.service.Snapshot(r.Context(), principal)
	if err != nil {
		h.respondError(w, "build snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.respondError(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := h.service.Catalog()
	out := make(map[string]any)
	for _, category := range catalog.Categories() {
		out[category] = map[string]any{
			"label":       CategoryLabel(category),
			"permissions": catalog.ListByCategory(category),
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": out})
}

type createPermissionRequest struct {
	Name        string `json:"name" validate:"required,contains=:"`
	Category    string `json:"category" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.Message(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createPermissionRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), actor, req.Name, req.Category, req.Description)
	if err != nil {
		h.respondError(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

type updatePermissionRequest struct {
	Category    string `json:"category" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updatePermissionRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), actor, id, req.Category, req.Description)
	if err != nil {
		h.respondError(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) setPermissionActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := PrincipalFromContext(r.Context())
		id, err := pathID(r, "id")
		if err != nil {
			httpx.Message(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.service.SetPermissionActive(r.Context(), actor, id, active); err != nil {
			h.respondError(w, "set permission active", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) listRoleBindings(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	bindings, err := h.service.ListRoleBindings(r.Context(), role)
	if err != nil {
		h.respondError(w, "list role bindings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role, "bindings": bindings})
}

type createRoleBindingRequest struct {
	PermissionID int64  `json:"permissionId" validate:"required,gt=0"`
	ResourceType string `json:"resourceType"`
	ResourceID   int64  `json:"resourceId" validate:"gte=0"`
}

func (h *Handler) createRoleBinding(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	role := chi.URLParam(r, "role")
	if !validRole(role) {
		httpx.Message(w, http.StatusBadRequest, "unknown role")
		return
	}
	var req createRoleBindingRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	scope := Scope{ResourceType: req.ResourceType, ResourceID: req.ResourceID}
	if scope.ResourceID != 0 && scope.ResourceType == "" {
		httpx.Message(w, http.StatusBadRequest, "resourceType required with resourceId")
		return
	}
	binding, err := h.service.CreateRoleBinding(r.Context(), actor, role, req.PermissionID, scope)
	if err != nil {
		h.respondError(w, "create role binding", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, binding)
}

func (h *Handler) deleteRoleBinding(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.DeleteRoleBinding(r.Context(), actor, id); err != nil {
		h.respondError(w, "delete role binding", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteRoleBindings(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	role := chi.URLParam(r, "role")
	deleted, err := h.service.DeleteRoleBindings(r.Context(), actor, role)
	if err != nil {
		h.respondError(w, "delete role bindings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h *Handler) listUserBindings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	bindings, err := h.service.ListUserBindings(r.Context(), userID)
	if err != nil {
		h.respondError(w, "list user bindings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"userId": userID, "bindings": bindings})
}

type createUserBindingRequest struct {
	PermissionID int64      `json:"permissionId" validate:"required,gt=0"`
	IsGranted    *bool      `json:"isGranted" validate:"required"`
	ResourceType string     `json:"resourceType"`
	ResourceID   int64      `json:"resourceId" validate:"gte=0"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	Reason       string     `json:"reason"`
}

func (h *Handler) createUserBinding(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	var req createUserBindingRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	scope := Scope{ResourceType: req.ResourceType, ResourceID: req.ResourceID}
	if scope.ResourceID != 0 && scope.ResourceType == "" {
		httpx.Message(w, http.StatusBadRequest, "resourceType required with resourceId")
		return
	}
	binding, err := h.service.CreateUserBinding(r.Context(), actor, UserPermission{
		UserID:       userID,
		PermissionID: req.PermissionID,
		IsGranted:    *req.IsGranted,
		Scope:        scope,
		ExpiresAt:    req.ExpiresAt,
		Reason:       req.Reason,
	})
	if err != nil {
		h.respondError(w, "create user binding", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, binding)
}

type updateUserBindingRequest struct {
	ExpiresAt *time.Time `json:"expiresAt"`
	Reason    string     `json:"reason"`
}

func (h *Handler) updateUserBinding(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateUserBindingRequest
	if err := h.decode(r, &req); err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	binding, err := h.service.UpdateUserBinding(r.Context(), actor, id, req.ExpiresAt, req.Reason)
	if err != nil {
		h.respondError(w, "update user binding", err)
		return
	}
	httpx.JSON(w, http.StatusOK, binding)
}

func (h *Handler) setUserBindingActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := PrincipalFromContext(r.Context())
		userID, err := pathID(r, "userID")
		if err != nil {
			httpx.Message(w, http.StatusBadRequest, err.Error())
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			httpx.Message(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.service.SetUserBindingActive(r.Context(), actor, id, userID, active); err != nil {
			h.respondError(w, "set user binding active", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) deleteUserBinding(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.DeleteUserBinding(r.Context(), actor, id, userID); err != nil {
		h.respondError(w, "delete user binding", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteUserBindings(w http.ResponseWriter, r *http.Request) {
	actor, _ := PrincipalFromContext(r.Context())
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, err.Error())
		return
	}
	deleted, err := h.service.DeleteUserBindings(r.Context(), actor, userID)
	if err != nil {
		h.respondError(w, "delete user bindings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// check answers a boolean permission query for a role or a stored user.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	permission := query.Get("permission")
	if permission == "" {
		httpx.Message(w, http.StatusBadRequest, "permission required")
		return
	}
	scope := Scope{ResourceType: query.Get("resourceType")}
	if raw := query.Get("resourceId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Message(w, http.StatusBadRequest, "invalid resourceId")
			return
		}
		scope.ResourceID = id
	}

	switch {
	case query.Get("role") != "":
		role := query.Get("role")
		if !validRole(role) {
			httpx.Message(w, http.StatusBadRequest, "unknown role")
			return
		}
		allowed, err := h.service.RoleHasPermission(r.Context(), role, permission, scope)
		if err != nil {
			h.respondError(w, "role check", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"allowed": allowed})
	case query.Get("user") != "":
		userID, err := strconv.ParseInt(query.Get("user"), 10, 64)
		if err != nil || userID <= 0 {
			httpx.Message(w, http.StatusBadRequest, "invalid user")
			return
		}
		role := query.Get("userRole")
		if role == "" || !validRole(role) {
			httpx.Message(w, http.StatusBadRequest, "userRole required")
			return
		}
		decision, err := h.service.CheckUser(r.Context(), userID, role, permission, scope)
		if err != nil {
			h.respondError(w, "user check", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"allowed": decision.Allow})
	default:
		httpx.Message(w, http.StatusBadRequest, "role or user required")
	}
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return errors.New("invalid request body")
	}
	return h.validate.Struct(target)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrBindingNotFound):
		httpx.Message(w, http.StatusNotFound, "binding not found")
	case errors.Is(err, ErrDuplicateBinding):
		httpx.Message(w, http.StatusConflict, "binding already exists")
	case errors.Is(err, ErrUnknownPermission):
		httpx.Message(w, http.StatusBadRequest, "unknown permission")
	default:
		h.logger.Error("authz "+op, slog.Any("error", err))
		httpx.Message(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + param)
	}
	return id, nil
}

func validRole(role string) bool {
	switch role {
	case RoleAdmin, RoleDoctor, RolePatient, RoleResponsable, RoleReceptionist:
		return true
	}
	return false
}
