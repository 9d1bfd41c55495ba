package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/absensi-app/apiserver/internal/services"
	"github.com/absensi-app/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// UserHandler provides admin account management.
type UserHandler struct {
	userService *services.UserService
	logger      *slog.Logger
}

func NewUserHandler(userService *services.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{userService: userService, logger: logger}
}

// UserRouter registers user routes on the given router. Every route requires an admin.
func UserRouter(r chi.Router, userService *services.UserService, authMiddleware func(http.Handler) http.Handler, logger *slog.Logger) {
	handler := NewUserHandler(userService, logger)

	r.Use(authMiddleware, RequireUser(userService), RequireAdmin)
	r.Get("/", handler.ListUsers)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", handler.GetUser)
		r.Patch("/", handler.UpdateUser)
		r.Delete("/", handler.DeleteUser)
	})
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "user not found", "failed to list users")
		return
	}
	writeData(w, http.StatusOK, "", users)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetByID(r.Context(), userIDParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "user not found", "failed to fetch user")
		return
	}
	writeData(w, http.StatusOK, "", user)
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := validateStruct(req); fields != nil {
		writeValidationError(w, fields)
		return
	}

	updated, err := h.userService.Update(r.Context(), userIDParam(r), types.UserPatch{
		Name:     req.Name,
		Position: req.Position,
		Role:     req.Role,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "user not found", "failed to update user")
		return
	}
	writeData(w, http.StatusOK, "user updated", updated)
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.userService.Delete(r.Context(), userIDParam(r)); err != nil {
		writeServiceError(w, r, h.logger, err, "user not found", "failed to delete user")
		return
	}
	writeData(w, http.StatusOK, "user deleted", nil)
}

// UpdateUserRequest holds the optional fields of a user update.
type UpdateUserRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=2,max=100"`
	Position *string `json:"position" validate:"omitempty,max=100"`
	Role     *string `json:"role" validate:"omitempty,oneof=ADMIN EMPLOYEE"`
	Password *string `json:"password" validate:"omitempty,min=6,max=72"`
}

func userIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "userID"))
}
