package handlers

import (
	"fmt"
	"net/http"
	"time"

	"locoinspect/auth"
	"locoinspect/controller"
	"locoinspect/middleware"
	"locoinspect/models"

	"go.uber.org/zap"
)

// Deps are what the API routes are built from.
type Deps struct {
	Controller *controller.Controller
	JWT        *auth.JWTManager
	AppName    string
	Logger     *zap.Logger
}

// RegisterRoutes mounts the API on mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	authHandler := NewAuthHandler(d.Controller, d.JWT, d.Logger)
	sessionHandler := NewSessionHandler(d.Controller, d.Logger)
	inspectionHandler := NewInspectionHandler(d.Controller, d.AppName, d.Logger)
	userHandler := NewUserHandler(d.Controller, d.Logger)

	// Public routes (no authentication required)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/api/login/users", authHandler.LoginUsers)
	mux.HandleFunc("/api/login", authHandler.Login)
	mux.HandleFunc("/api/refresh", authHandler.RefreshToken)

	// Protected routes (authentication required)
	authMiddleware := middleware.AuthMiddleware(d.JWT, d.Controller)
	protect := func(h http.HandlerFunc) http.Handler { return authMiddleware(h) }

	mux.Handle("/api/logout", protect(authHandler.Logout))
	mux.Handle("/api/session", protect(sessionHandler.Get))
	mux.Handle("/api/navigate", protect(sessionHandler.Navigate))
	mux.Handle("/api/events", protect(sessionHandler.Events))
	mux.Handle("/api/profile/password", protect(userHandler.ChangePassword))

	mux.Handle("/api/inspections", protect(inspectionHandler.List))
	mux.Handle("/api/inspections/export", protect(inspectionHandler.Export))
	mux.Handle("/api/inspections/photo", protect(inspectionHandler.SelectPhoto))
	mux.Handle("/api/inspections/photo/confirm", protect(inspectionHandler.ConfirmPhoto))
	mux.Handle("/api/inspections/photo/retake", protect(inspectionHandler.RetakePhoto))
	mux.Handle("/api/inspections/submit", protect(inspectionHandler.Submit))

	canDelete := middleware.RequireRole(models.RoleAdmin, models.RoleSupervisor, models.RoleOfficer)
	mux.Handle("/api/inspections/delete", authMiddleware(canDelete(http.HandlerFunc(inspectionHandler.Delete))))

	// User management (supervisor or admin)
	managers := middleware.RequireRole(ManagerRoles...)
	mux.Handle("/api/users", authMiddleware(managers(http.HandlerFunc(userHandler.GetUsers))))
	mux.Handle("/api/users/create", authMiddleware(managers(http.HandlerFunc(userHandler.CreateUser))))
	mux.Handle("/api/users/update", authMiddleware(managers(http.HandlerFunc(userHandler.UpdateUser))))
	mux.Handle("/api/users/reset-password", authMiddleware(managers(http.HandlerFunc(userHandler.ResetPassword))))
	mux.Handle("/api/users/delete", authMiddleware(managers(http.HandlerFunc(userHandler.DeleteUser))))
}

// Health check endpoint
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%d,"version":"1.0.0"}`, time.Now().Unix())
}
