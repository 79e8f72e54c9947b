package controller

import (
	"context"
	"sync"

	"locoinspect/backend"
	"locoinspect/models"
)

// Subscriber is the part of the backend adapter that feeds State.
type Subscriber interface {
	SubscribeToInspections(ctx context.Context, callback func([]models.Inspection)) *backend.Subscription
	SubscribeToUsers(ctx context.Context, callback func([]models.User)) *backend.Subscription
}

// State holds the latest inspections and users snapshots shared by every session.
// Each snapshot replaces the previous one wholesale.
type State struct {
	mu          sync.RWMutex
	inspections []models.Inspection
	users       []models.User
	usersLoaded bool
	failures    map[string]error

	listenMu  sync.Mutex
	listeners map[chan struct{}]struct{}

	subs []*backend.Subscription
}

func NewState() *State {
	return &State{
		failures:  make(map[string]error),
		listeners: make(map[chan struct{}]struct{}),
	}
}

// Start opens both realtime subscriptions.
func (s *State) Start(ctx context.Context, sub Subscriber) {
	s.subs = append(s.subs,
		sub.SubscribeToInspections(ctx, s.SetInspections),
		sub.SubscribeToUsers(ctx, s.SetUsers),
	)
}

// Close disposes the subscriptions opened by Start.
func (s *State) Close() {
	for _, sub := range s.subs {
		sub.Close()
	}
	s.subs = nil
}

func (s *State) SetInspections(inspections []models.Inspection) {
	s.mu.Lock()
	s.inspections = append([]models.Inspection(nil), inspections...)
	s.mu.Unlock()
	s.broadcast()
}

func (s *State) SetUsers(users []models.User) {
	s.mu.Lock()
	s.users = append([]models.User(nil), users...)
	s.usersLoaded = true
	s.mu.Unlock()
	s.broadcast()
}

// Inspections returns a copy of the current snapshot, newest first.
func (s *State) Inspections() []models.Inspection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Inspection(nil), s.inspections...)
}

// Users returns a copy of the current users snapshot.
func (s *State) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.User(nil), s.users...)
}

// UsersLoaded reports whether a users snapshot has arrived yet.
func (s *State) UsersLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersLoaded
}

// FindUser looks a user up by id or HRMS id.
func (s *State) FindUser(selector string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.ID == selector || user.HRMSID == selector {
			return user, true
		}
	}
	return models.User{}, false
}

// ReportStatus records whether table was last reachable. It matches backend.WithStatusHook.
func (s *State) ReportStatus(table string, err error) {
	s.mu.Lock()
	changed := (s.failures[table] == nil) != (err == nil)
	if err == nil {
		delete(s.failures, table)
	} else {
		s.failures[table] = err
	}
	s.mu.Unlock()

	if changed {
		s.broadcast()
	}
}

// Online is false while any table's fetch or feed is failing.
func (s *State) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.failures) == 0
}

// Listen returns a channel signalled after every snapshot or connectivity change.
// Signals are coalesced; call the returned func to stop listening.
func (s *State) Listen() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.listenMu.Lock()
	s.listeners[ch] = struct{}{}
	s.listenMu.Unlock()

	return ch, func() {
		s.listenMu.Lock()
		delete(s.listeners, ch)
		s.listenMu.Unlock()
	}
}

func (s *State) broadcast() {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	for ch := range s.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
