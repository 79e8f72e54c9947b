package logging

import (
	"go.uber.org/zap"
)

// Audit actions recorded for user-initiated mutations.
const (
	ActionLogin            = "LOGIN"
	ActionLogout           = "LOGOUT"
	ActionCreateInspection = "CREATE_INSPECTION"
	ActionDeleteInspection = "DELETE_INSPECTION"
	ActionCreateUser       = "CREATE_USER"
	ActionUpdateUser       = "UPDATE_USER"
	ActionResetPassword    = "RESET_PASSWORD"
	ActionDeleteUser       = "DELETE_USER"
	ActionExport           = "EXPORT"
)

// Audit writes an audit event. Events only go to the process log.
func Audit(logger *zap.Logger, userID, action, details string) {
	logger.Info("audit",
		zap.String("user_id", userID),
		zap.String("action", action),
		zap.String("details", details),
	)
}
