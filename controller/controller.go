// Package controller owns the application state: the realtime snapshots, the login sessions with
// their view state machine, and the actions sessions perform against the backend.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"locoinspect/auth"
	"locoinspect/history"
	"locoinspect/inspection"
	"locoinspect/logging"
	"locoinspect/models"
	"locoinspect/usermgmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Banner texts.
const (
	BannerOffline   = "Offline Mode"
	BannerUploading = "Uploading..."
	BannerLive      = "Live"
)

// SubmitFailedMessage is the alert shown when saving an inspection fails.
const SubmitFailedMessage = "Failed to upload inspection. Check your connection or API keys."

var (
	ErrNoUserSelected    = errors.New("Please select a user.")
	ErrIncorrectPassword = errors.New("Incorrect password. Please try again.")
	ErrSessionNotFound   = errors.New("session not found")
	ErrUnknownView       = errors.New("unknown view")
	ErrForbidden         = errors.New("your role cannot perform this action")
	ErrSubmitInProgress  = errors.New("an inspection is already being uploaded")
	ErrNotOnCaptureForm  = errors.New("open the new inspection screen to submit an inspection")
)

// SubmitError wraps a failed save with the alert text shown to the user.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return SubmitFailedMessage }

func (e *SubmitError) Unwrap() error { return e.Err }

// Backend is the backend adapter as used by the controller.
type Backend interface {
	Subscriber
	usermgmt.Backend
	SaveInspection(ctx context.Context, inspection models.Inspection) (models.Inspection, error)
	DeleteInspection(ctx context.Context, id string) error
}

// Options tune controller behaviour.
type Options struct {
	// SubmitDelay is waited before an inspection is handed to the backend.
	SubmitDelay time.Duration
	// Location is the zone inspection timestamps are rendered in.
	Location *time.Location
	// Now overrides the clock.
	Now func() time.Time
	// SessionTTL bounds how long a session stays open after login. Zero keeps sessions until logout.
	SessionTTL time.Duration
}

// Controller is the root of the application.
type Controller struct {
	backend Backend
	state   *State
	users   *usermgmt.Service
	logger  *zap.Logger
	opts    Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New builds a controller around state. Call Start to begin receiving snapshots.
func New(b Backend, state *State, logger *zap.Logger, opts Options) *Controller {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		backend:  b,
		state:    state,
		users:    usermgmt.NewService(b, logger),
		logger:   logger,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Start subscribes to inspections and users.
func (c *Controller) Start(ctx context.Context) {
	c.state.Start(ctx, c.backend)
}

// Close stops the subscriptions. Sessions are discarded.
func (c *Controller) Close() {
	c.state.Close()
	c.mu.Lock()
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()
}

func (c *Controller) State() *State {
	return c.state
}

// LoginUsers is the selector list of the login screen.
func (c *Controller) LoginUsers() []models.PublicUser {
	users := c.state.Users()
	result := make([]models.PublicUser, 0, len(users))
	for _, user := range users {
		result = append(result, user.Public())
	}
	return result
}

// Login authenticates the user picked by id or HRMS id and opens a session on the dashboard.
func (c *Controller) Login(selector, password string) (*Session, error) {
	if selector == "" {
		return nil, ErrNoUserSelected
	}
	user, ok := c.state.FindUser(selector)
	if !ok {
		return nil, ErrNoUserSelected
	}

	if err := auth.CheckPassword(password, user.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			return nil, ErrIncorrectPassword
		}
		return nil, err
	}

	session := newSession(uuid.NewString(), user)
	if c.opts.SessionTTL > 0 {
		session.expires = c.opts.Now().Add(c.opts.SessionTTL)
	}
	c.mu.Lock()
	c.sessions[session.ID] = session
	c.mu.Unlock()

	logging.Audit(c.logger, user.ID, logging.ActionLogin, fmt.Sprintf("User '%s' logged in", user.Username))
	return session, nil
}

// Logout discards the session, returning its client to the login screen.
func (c *Controller) Logout(sessionID string) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	if ok {
		logging.Audit(c.logger, session.User().ID, logging.ActionLogout, "")
	}
}

// Session returns an open session. An expired session is discarded on lookup.
func (c *Controller) Session(sessionID string) (*Session, error) {
	c.mu.RLock()
	session, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.expired(c.opts.Now()) {
		c.mu.Lock()
		delete(c.sessions, sessionID)
		c.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Cleanup discards expired sessions every interval until ctx is done.
func (c *Controller) Cleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.evictExpired(c.opts.Now()); removed > 0 {
				c.logger.Debug("Expired sessions removed", zap.Int("count", removed))
			}
		}
	}
}

func (c *Controller) evictExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, session := range c.sessions {
		if session.expired(now) {
			delete(c.sessions, id)
			removed++
		}
	}
	return removed
}

// SessionCount is the number of sessions held, expired or not.
func (c *Controller) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// View renders the client-facing state of a session.
func (c *Controller) View(sessionID string) (SessionView, error) {
	session, err := c.Session(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return SessionView{
		ID:      session.ID,
		User:    session.User().Public(),
		View:    session.View(),
		Syncing: session.Syncing(),
		Banner:  c.banner(session),
		Form:    session.Form().Snapshot(),
	}, nil
}

// Banner is the connectivity label of a session.
func (c *Controller) Banner(sessionID string) (string, error) {
	session, err := c.Session(sessionID)
	if err != nil {
		return "", err
	}
	return c.banner(session), nil
}

func (c *Controller) banner(session *Session) string {
	switch {
	case !c.state.Online():
		return BannerOffline
	case session.Syncing():
		return BannerUploading
	}
	return BannerLive
}

// Navigate moves a session to view. Navigating to LOGIN logs out. Opening user management
// without an admin or supervisor role leaves the view unchanged and is not an error.
func (c *Controller) Navigate(sessionID string, view models.View) (models.View, error) {
	if !view.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownView, view)
	}
	session, err := c.Session(sessionID)
	if err != nil {
		return "", err
	}

	switch view {
	case models.ViewLogin:
		c.Logout(sessionID)
		return models.ViewLogin, nil
	case models.ViewUserManagement:
		if !session.User().Role.CanManageUsers() {
			return session.View(), nil
		}
	}

	session.setView(view)
	return view, nil
}

// --- Inspections ---

// Inspections returns the current snapshot narrowed by filter.
func (c *Controller) Inspections(filter history.Filter) ([]models.Inspection, error) {
	return filter.Apply(c.state.Inspections())
}

// Export renders the filtered snapshot in format.
func (c *Controller) Export(sessionID string, filter history.Filter) (history.Export, error) {
	session, err := c.Session(sessionID)
	if err != nil {
		return history.Export{}, err
	}
	inspections, err := c.Inspections(filter)
	if err != nil {
		return history.Export{}, err
	}
	if len(inspections) == 0 {
		return history.Export{}, history.ErrNothingToExport
	}

	logging.Audit(c.logger, session.User().ID, logging.ActionExport,
		fmt.Sprintf("Exported %d inspections (loco=%q date=%q)", len(inspections), filter.Loco, filter.Date))
	return history.Export{
		Inspections: inspections,
		Users:       c.state.Users(),
		Filter:      filter,
		GeneratedAt: c.opts.Now().In(c.opts.Location),
	}, nil
}

// SubmitInspection saves the session's capture form. The session must be on NEW_INSPECTION.
// On success the session returns to the dashboard; on failure it stays on the form and the
// error is a *SubmitError.
func (c *Controller) SubmitInspection(ctx context.Context, sessionID string, fields inspection.Fields) (models.Inspection, error) {
	session, err := c.Session(sessionID)
	if err != nil {
		return models.Inspection{}, err
	}

	if session.View() != models.ViewNewInspection {
		return models.Inspection{}, ErrNotOnCaptureForm
	}

	user := session.User()
	pending, err := session.Form().Submit(user, fields, c.opts.Now(), c.opts.Location)
	if err != nil {
		return models.Inspection{}, err
	}

	if !session.beginSync() {
		return models.Inspection{}, ErrSubmitInProgress
	}
	defer session.endSync()
	c.state.broadcast()
	defer c.state.broadcast()

	if c.opts.SubmitDelay > 0 {
		timer := time.NewTimer(c.opts.SubmitDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.Inspection{}, ctx.Err()
		case <-timer.C:
		}
	}

	saved, err := c.backend.SaveInspection(ctx, pending)
	if err != nil {
		c.logger.Error("Failed to save inspection",
			zap.String("session_id", sessionID),
			zap.String("loco_number", pending.LocoNumber),
			zap.Error(err))
		return models.Inspection{}, &SubmitError{Err: err}
	}

	session.Form().Reset()
	session.setView(models.ViewDashboard)

	logging.Audit(c.logger, user.ID, logging.ActionCreateInspection,
		fmt.Sprintf("Inspected loco %s (%s)", saved.LocoNumber, saved.ID))
	return saved, nil
}

// DeleteInspection removes a record. Only admins, supervisors and officers may delete.
func (c *Controller) DeleteInspection(ctx context.Context, sessionID, id string) error {
	session, err := c.Session(sessionID)
	if err != nil {
		return err
	}
	user := session.User()
	if !user.Role.CanDeleteInspections() {
		return ErrForbidden
	}

	if err := c.backend.DeleteInspection(ctx, id); err != nil {
		return err
	}

	logging.Audit(c.logger, user.ID, logging.ActionDeleteInspection, fmt.Sprintf("Deleted inspection %s", id))
	return nil
}

// --- Users ---

// Users returns the users snapshot for the management screen.
func (c *Controller) Users(sessionID string) ([]models.PublicUser, error) {
	session, err := c.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if !session.User().Role.CanManageUsers() {
		return nil, ErrForbidden
	}
	return c.LoginUsers(), nil
}

func (c *Controller) CreateUser(ctx context.Context, sessionID string, req usermgmt.CreateRequest) (models.User, error) {
	session, err := c.Session(sessionID)
	if err != nil {
		return models.User{}, err
	}
	return c.users.Create(ctx, session.User(), c.state.Users(), req)
}

// UpdateUser applies a partial edit to user id. Open sessions of that user see the change at once.
func (c *Controller) UpdateUser(ctx context.Context, sessionID, id string, changes usermgmt.Changes) error {
	session, err := c.Session(sessionID)
	if err != nil {
		return err
	}
	update, err := c.users.Update(ctx, session.User(), id, changes)
	if err != nil {
		return err
	}
	c.applyToSessions(id, update)
	return nil
}

func (c *Controller) ResetPassword(ctx context.Context, sessionID, id, password string) error {
	return c.UpdateUser(ctx, sessionID, id, usermgmt.Changes{Password: &password})
}

func (c *Controller) AssignRole(ctx context.Context, sessionID, id string, role models.UserRole) error {
	return c.UpdateUser(ctx, sessionID, id, usermgmt.Changes{Role: &role})
}

func (c *Controller) DeleteUser(ctx context.Context, sessionID, id string) error {
	session, err := c.Session(sessionID)
	if err != nil {
		return err
	}
	if err := c.users.Delete(ctx, session.User(), id); err != nil {
		return err
	}
	c.dropSessions(id)
	return nil
}

// ChangePassword is the profile screen's own-password change.
func (c *Controller) ChangePassword(ctx context.Context, sessionID string, change usermgmt.PasswordChange) error {
	session, err := c.Session(sessionID)
	if err != nil {
		return err
	}
	user := session.User()
	hash, err := c.users.ChangeOwnPassword(ctx, user, change)
	if err != nil {
		return err
	}
	c.applyToSessions(user.ID, models.UserUpdate{Password: &hash})
	return nil
}

// dropSessions logs out every session of user id.
func (c *Controller) dropSessions(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sid, session := range c.sessions {
		if session.User().ID == id {
			delete(c.sessions, sid)
		}
	}
}

func (c *Controller) applyToSessions(id string, update models.UserUpdate) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, session := range c.sessions {
		if session.User().ID == id {
			session.applyUserUpdate(update)
		}
	}
}
