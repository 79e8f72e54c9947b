package db

import (
	"context"
	"fmt"
	"locoinspect/models"
	"sort"
	"sync"
)

// MemoryDB is an in-process table store with a change feed, used for local development and tests.
type MemoryDB struct {
	mu          sync.RWMutex
	inspections map[string]models.Inspection
	users       map[string]models.User
	userOrder   []string

	watchMu  sync.Mutex
	watchers map[string]map[chan struct{}]struct{}
}

// NewMemoryDB returns an empty store.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		inspections: make(map[string]models.Inspection),
		users:       make(map[string]models.User),
		watchers:    make(map[string]map[chan struct{}]struct{}),
	}
}

// --- Inspection Operations ---

func (m *MemoryDB) ListInspections(ctx context.Context) ([]models.Inspection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.Inspection, 0, len(m.inspections))
	for _, inspection := range m.inspections {
		result = append(result, inspection)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].LastModified != result[j].LastModified {
			return result[i].LastModified > result[j].LastModified
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MemoryDB) InsertInspection(ctx context.Context, inspection models.Inspection) error {
	m.mu.Lock()
	if _, exists := m.inspections[inspection.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("inspection %s already exists", inspection.ID)
	}
	m.inspections[inspection.ID] = inspection
	m.mu.Unlock()

	m.signal(models.InspectionsTable)
	return nil
}

func (m *MemoryDB) DeleteInspection(ctx context.Context, id string) error {
	m.mu.Lock()
	_, existed := m.inspections[id]
	delete(m.inspections, id)
	m.mu.Unlock()

	if existed {
		m.signal(models.InspectionsTable)
	}
	return nil
}

// --- User Operations ---

func (m *MemoryDB) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		result = append(result, m.users[id])
	}
	return result, nil
}

func (m *MemoryDB) InsertUser(ctx context.Context, user models.User) error {
	return m.InsertUsers(ctx, []models.User{user})
}

func (m *MemoryDB) InsertUsers(ctx context.Context, users []models.User) error {
	m.mu.Lock()
	for _, user := range users {
		if _, exists := m.users[user.ID]; exists {
			m.mu.Unlock()
			return fmt.Errorf("user %s already exists", user.ID)
		}
	}
	for _, user := range users {
		m.users[user.ID] = user
		m.userOrder = append(m.userOrder, user.ID)
	}
	m.mu.Unlock()

	m.signal(models.UsersTable)
	return nil
}

func (m *MemoryDB) UpdateUser(ctx context.Context, id string, update models.UserUpdate) error {
	m.mu.Lock()
	user, found := m.users[id]
	if found {
		m.users[id] = update.Apply(user)
	}
	m.mu.Unlock()

	// Matching no rows is not an error, as with the hosted stores.
	if found {
		m.signal(models.UsersTable)
	}
	return nil
}

func (m *MemoryDB) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	_, found := m.users[id]
	if found {
		delete(m.users, id)
		for i, existing := range m.userOrder {
			if existing == id {
				m.userOrder = append(m.userOrder[:i], m.userOrder[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if found {
		m.signal(models.UsersTable)
	}
	return nil
}

// --- Change Feed ---

// Watch calls onChange after every mutation of table until ctx is done.
// Bursts of mutations may be coalesced into one call.
func (m *MemoryDB) Watch(ctx context.Context, table string, onChange func()) error {
	ch := make(chan struct{}, 1)

	m.watchMu.Lock()
	if m.watchers[table] == nil {
		m.watchers[table] = make(map[chan struct{}]struct{})
	}
	m.watchers[table][ch] = struct{}{}
	m.watchMu.Unlock()

	defer func() {
		m.watchMu.Lock()
		delete(m.watchers[table], ch)
		m.watchMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			onChange()
		}
	}
}

// Watchers returns the number of active watches on table.
func (m *MemoryDB) Watchers(table string) int {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	return len(m.watchers[table])
}

func (m *MemoryDB) signal(table string) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for ch := range m.watchers[table] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
