package controller

import (
	"sync"
	"time"

	"locoinspect/inspection"
	"locoinspect/models"
)

// Session is the per-login state of one client: who is logged in, which screen is showing and
// the capture form in progress. Sessions live in memory only.
type Session struct {
	ID string

	// expires is zero for sessions that never expire.
	expires time.Time

	mu      sync.Mutex
	user    models.User
	view    models.View
	form    *inspection.Form
	syncing bool
}

func newSession(id string, user models.User) *Session {
	return &Session{
		ID:   id,
		user: user,
		view: models.ViewDashboard,
		form: inspection.NewForm(),
	}
}

func (s *Session) expired(now time.Time) bool {
	return !s.expires.IsZero() && !now.Before(s.expires)
}

func (s *Session) User() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) View() models.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Form is the capture form of this session.
func (s *Session) Form() *inspection.Form {
	return s.form
}

// Syncing is true while this session is saving an inspection.
func (s *Session) Syncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

func (s *Session) setView(view models.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view == models.ViewNewInspection && s.view != models.ViewNewInspection {
		s.form.Reset()
	}
	s.view = view
}

// beginSync marks the session busy. It reports false if a save is already running.
func (s *Session) beginSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncing {
		return false
	}
	s.syncing = true
	return true
}

func (s *Session) endSync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncing = false
}

func (s *Session) applyUserUpdate(update models.UserUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = update.Apply(s.user)
	if s.view == models.ViewUserManagement && !s.user.Role.CanManageUsers() {
		s.view = models.ViewDashboard
	}
}

// SessionView is what a client renders: the session user without credentials, the active view,
// the capture form and the status banner.
type SessionView struct {
	ID      string              `json:"id"`
	User    models.PublicUser   `json:"user"`
	View    models.View         `json:"view"`
	Syncing bool                `json:"syncing"`
	Banner  string              `json:"banner"`
	Form    inspection.Snapshot `json:"form"`
}
