package handlers

import (
	"net/http"

	"locoinspect/controller"
	"locoinspect/models"
	"locoinspect/usermgmt"

	"go.uber.org/zap"
)

type UserHandler struct {
	ctrl   *controller.Controller
	logger *zap.Logger
}

func NewUserHandler(ctrl *controller.Controller, logger *zap.Logger) *UserHandler {
	return &UserHandler{ctrl: ctrl, logger: logger}
}

// GetUsers returns all users without credentials
func (h *UserHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	users, err := h.ctrl.Users(id)
	if err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// CreateUser creates a new staff account
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req usermgmt.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.ctrl.CreateUser(r.Context(), id, req)
	if err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user.Public())
}

type UpdateUserRequest struct {
	UserID string `json:"user_id"`
	usermgmt.Changes
}

// UpdateUser applies a partial update to a user
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPut) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if err := h.ctrl.UpdateUser(r.Context(), id, req.UserID, req.Changes); err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User updated successfully"})
}

type ResetPasswordRequest struct {
	UserID      string `json:"user_id"`
	NewPassword string `json:"new_password"`
}

// ResetPassword sets a new password for a user
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if err := h.ctrl.ResetPassword(r.Context(), id, req.UserID, req.NewPassword); err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully."})
}

type DeleteUserRequest struct {
	UserID string `json:"user_id"`
}

// DeleteUser removes a user. Deleting your own account is refused.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodDelete) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req DeleteUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if err := h.ctrl.DeleteUser(r.Context(), id, req.UserID); err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}

// ChangePassword is the profile screen's own-password change
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req usermgmt.PasswordChange
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.ctrl.ChangePassword(r.Context(), id, req); err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully."})
}

// ManagerRoles may reach the user management endpoints.
var ManagerRoles = []models.UserRole{models.RoleAdmin, models.RoleSupervisor}
