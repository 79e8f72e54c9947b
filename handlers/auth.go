package handlers

import (
	"net/http"

	"locoinspect/auth"
	"locoinspect/controller"
	"locoinspect/models"

	"go.uber.org/zap"
)

type AuthHandler struct {
	ctrl       *controller.Controller
	jwtManager *auth.JWTManager
	logger     *zap.Logger
}

func NewAuthHandler(ctrl *controller.Controller, jwtManager *auth.JWTManager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		ctrl:       ctrl,
		jwtManager: jwtManager,
		logger:     logger,
	}
}

// LoginUsers returns the login selector list. It is empty until the users feed has connected.
func (h *AuthHandler) LoginUsers(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.LoginUsers())
}

type LoginRequest struct {
	User     string `json:"user"` // user id or HRMS id
	Password string `json:"password"`
}

type LoginResponse struct {
	Token        string                 `json:"token"`
	RefreshToken string                 `json:"refresh_token"`
	User         models.PublicUser      `json:"user"`
	Session      controller.SessionView `json:"session"`
}

// Login handles user authentication and opens a session on the dashboard
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.ctrl.Login(req.User, req.Password)
	if err != nil {
		h.logger.Info("Login failed", zap.String("user", req.User), zap.Error(err))
		writeActionError(w, h.logger, err)
		return
	}
	user := session.User()

	token, err := h.jwtManager.GenerateToken(session.ID, user)
	if err != nil {
		h.logger.Error("Failed to generate token", zap.String("user_id", user.ID), zap.Error(err))
		h.ctrl.Logout(session.ID)
		writeError(w, "Failed to generate authentication token", http.StatusInternalServerError)
		return
	}

	refreshToken, err := h.jwtManager.GenerateRefreshToken(session.ID, user)
	if err != nil {
		h.logger.Error("Failed to generate refresh token", zap.String("user_id", user.ID), zap.Error(err))
		h.ctrl.Logout(session.ID)
		writeError(w, "Failed to generate refresh token", http.StatusInternalServerError)
		return
	}

	view, err := h.ctrl.View(session.ID)
	if err != nil {
		writeActionError(w, h.logger, err)
		return
	}

	h.logger.Info("User logged in",
		zap.String("user_id", user.ID),
		zap.String("hrms_id", user.HRMSID),
		zap.String("role", string(user.Role)))

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:        token,
		RefreshToken: refreshToken,
		User:         user.Public(),
		Session:      view,
	})
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	Token string `json:"token"`
}

// RefreshToken issues a new access token while the session it names is still open
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req RefreshTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims, err := h.jwtManager.ValidateToken(req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		writeError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	session, err := h.ctrl.Session(claims.SessionID)
	if err != nil {
		writeError(w, "Session expired. Please log in again.", http.StatusUnauthorized)
		return
	}

	token, err := h.jwtManager.GenerateToken(session.ID, session.User())
	if err != nil {
		h.logger.Error("Failed to generate token", zap.String("session_id", session.ID), zap.Error(err))
		writeError(w, "Failed to generate authentication token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, RefreshTokenResponse{Token: token})
}

// Logout discards the session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	h.ctrl.Logout(id)
	writeJSON(w, http.StatusOK, map[string]string{"view": string(models.ViewLogin)})
}
