// Package usermgmt validates and applies staff account changes made from the user management
// and profile screens.
package usermgmt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"locoinspect/auth"
	"locoinspect/logging"
	"locoinspect/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HRMSIDLength is the fixed length of a staff code.
const HRMSIDLength = 6

var hrmsIDPattern = regexp.MustCompile(`^[A-Z]{6}$`)

// ErrForbidden is returned when the acting user's role may not manage accounts.
var ErrForbidden = errors.New("your role cannot manage users")

// ValidationError carries the message shown next to the form.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(message string) error {
	return &ValidationError{Message: message}
}

// Backend is the subset of the backend adapter this package writes through.
type Backend interface {
	SaveUser(ctx context.Context, user models.User) error
	UpdateUser(ctx context.Context, id string, update models.UserUpdate) error
	DeleteUser(ctx context.Context, id string) error
}

// Service applies account changes after validating them against the loaded user list.
// Uniqueness is only checked against that list, so two concurrent creations can still collide.
type Service struct {
	backend Backend
	logger  *zap.Logger
	newID   func() string
}

func NewService(backend Backend, logger *zap.Logger) *Service {
	return &Service{backend: backend, logger: logger, newID: uuid.NewString}
}

// NormalizeHRMSID keeps only ASCII letters, upper-cases them and truncates to six.
func NormalizeHRMSID(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() == HRMSIDLength {
			break
		}
	}
	return b.String()
}

// ValidateHRMSID checks the format of id and that no loaded user already has it.
func ValidateHRMSID(id string, users []models.User) error {
	if !hrmsIDPattern.MatchString(id) {
		return invalid("HRMS ID must be exactly 6 uppercase alphabets (A-Z).")
	}
	for _, user := range users {
		if user.HRMSID == id {
			return invalid("This HRMS ID is already assigned to another user.")
		}
	}
	return nil
}

// CreateRequest is the new-user form.
type CreateRequest struct {
	Username string          `json:"username"`
	HRMSID   string          `json:"hrms_id"`
	Password string          `json:"password"`
	Role     models.UserRole `json:"role"`
}

// Create validates req against users and saves the new account. Nothing is written on a validation error.
func (s *Service) Create(ctx context.Context, actor models.User, users []models.User, req CreateRequest) (models.User, error) {
	if !actor.Role.CanManageUsers() {
		return models.User{}, ErrForbidden
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		return models.User{}, invalid("Full name is required.")
	}

	hrmsID := NormalizeHRMSID(req.HRMSID)
	if err := ValidateHRMSID(hrmsID, users); err != nil {
		return models.User{}, err
	}

	if auth.ValidatePasswordLength(req.Password) != nil {
		return models.User{}, invalid("Password must be at least 4 characters long.")
	}

	role := req.Role
	if role == "" {
		role = models.RoleTechnician
	}
	if !role.Valid() {
		return models.User{}, invalid(fmt.Sprintf("Unknown role %q.", role))
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:       s.newID(),
		Username: username,
		HRMSID:   hrmsID,
		Password: hash,
		Role:     role,
	}
	if err := s.backend.SaveUser(ctx, user); err != nil {
		return models.User{}, err
	}

	logging.Audit(s.logger, actor.ID, logging.ActionCreateUser,
		fmt.Sprintf("Created user '%s' (%s) with role '%s'", user.Username, user.HRMSID, user.Role))
	return user, nil
}

// Changes is the edit form of the management screen. Nil fields are left as they are.
type Changes struct {
	Username *string          `json:"username,omitempty"`
	Password *string          `json:"password,omitempty"`
	Role     *models.UserRole `json:"role,omitempty"`
}

// Update validates changes and applies them to user id as one partial update.
// It returns the update as stored, with the password already hashed.
func (s *Service) Update(ctx context.Context, actor models.User, id string, changes Changes) (models.UserUpdate, error) {
	if !actor.Role.CanManageUsers() {
		return models.UserUpdate{}, ErrForbidden
	}

	var update models.UserUpdate
	if changes.Username != nil {
		username := strings.TrimSpace(*changes.Username)
		if username == "" {
			return models.UserUpdate{}, invalid("Full name is required.")
		}
		update.Username = &username
	}
	if changes.Role != nil {
		role := *changes.Role
		if !role.Valid() {
			return models.UserUpdate{}, invalid(fmt.Sprintf("Unknown role %q.", role))
		}
		update.Role = &role
	}
	if changes.Password != nil {
		if auth.ValidatePasswordLength(*changes.Password) != nil {
			return models.UserUpdate{}, invalid("Password must be at least 4 characters.")
		}
		hash, err := auth.HashPassword(*changes.Password)
		if err != nil {
			return models.UserUpdate{}, err
		}
		update.Password = &hash
	}
	if update.Empty() {
		return update, nil
	}

	if err := s.backend.UpdateUser(ctx, id, update); err != nil {
		return models.UserUpdate{}, err
	}

	action := logging.ActionUpdateUser
	if update.Username == nil && update.Role == nil {
		action = logging.ActionResetPassword
	}
	logging.Audit(s.logger, actor.ID, action, describe(id, update))
	return update, nil
}

func describe(id string, update models.UserUpdate) string {
	var parts []string
	if update.Username != nil {
		parts = append(parts, fmt.Sprintf("name='%s'", *update.Username))
	}
	if update.Role != nil {
		parts = append(parts, fmt.Sprintf("role='%s'", *update.Role))
	}
	if update.Password != nil {
		parts = append(parts, "password")
	}
	return fmt.Sprintf("Updated user '%s': %s", id, strings.Join(parts, ", "))
}

// ResetPassword sets a new password for any account.
func (s *Service) ResetPassword(ctx context.Context, actor models.User, id, password string) (models.UserUpdate, error) {
	return s.Update(ctx, actor, id, Changes{Password: &password})
}

// AssignRole changes the role of an account.
func (s *Service) AssignRole(ctx context.Context, actor models.User, id string, role models.UserRole) (models.UserUpdate, error) {
	return s.Update(ctx, actor, id, Changes{Role: &role})
}

// Delete removes an account. Deleting yourself is refused without touching the backend.
func (s *Service) Delete(ctx context.Context, actor models.User, id string) error {
	if !actor.Role.CanManageUsers() {
		return ErrForbidden
	}
	if actor.ID == id {
		return invalid("You cannot delete your own account.")
	}
	if err := s.backend.DeleteUser(ctx, id); err != nil {
		return err
	}

	logging.Audit(s.logger, actor.ID, logging.ActionDeleteUser, fmt.Sprintf("Deleted user '%s'", id))
	return nil
}

// PasswordChange is the profile form.
type PasswordChange struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
	Confirm string `json:"confirm_password"`
}

// ChangeOwnPassword checks the profile form for user and stores the new password.
// It returns the stored hash so the caller can refresh its copy of user.
func (s *Service) ChangeOwnPassword(ctx context.Context, user models.User, change PasswordChange) (string, error) {
	// An account with no stored password can sign in but cannot prove its current one.
	if user.Password == "" {
		return "", invalid("Current password is incorrect.")
	}
	if err := auth.CheckPassword(change.Current, user.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			return "", invalid("Current password is incorrect.")
		}
		return "", err
	}
	if auth.ValidatePasswordLength(change.New) != nil {
		return "", invalid("New password must be at least 4 characters.")
	}
	if change.New != change.Confirm {
		return "", invalid("Passwords do not match.")
	}

	hash, err := auth.HashPassword(change.New)
	if err != nil {
		return "", err
	}
	if err := s.backend.UpdateUser(ctx, user.ID, models.UserUpdate{Password: &hash}); err != nil {
		return "", err
	}

	logging.Audit(s.logger, user.ID, logging.ActionResetPassword, "Changed own password")
	return hash, nil
}
