// models.go
// Defines the core data structures shared by the API server, the backend adapter and the stores.

package models

// UserRole defines the access level of a user.
type UserRole string

const (
	RoleAdmin      UserRole = "admin"
	RoleSupervisor UserRole = "supervisor"
	RoleOfficer    UserRole = "officer"
	RoleTechnician UserRole = "technician"
)

// Valid reports whether r is one of the fixed roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleOfficer, RoleTechnician:
		return true
	}
	return false
}

// CanManageUsers is true for roles that may open the user management screen.
func (r UserRole) CanManageUsers() bool {
	return r == RoleAdmin || r == RoleSupervisor
}

// CanDeleteInspections is true for roles allowed to remove inspection records.
func (r UserRole) CanDeleteInspections() bool {
	return r == RoleAdmin || r == RoleSupervisor || r == RoleOfficer
}

// User is an inspection crew member.
// Password is never serialised to API clients; stores read and write it through their own tags.
type User struct {
	ID       string   `firestore:"id" json:"id"`
	Username string   `firestore:"username" json:"username"`
	HRMSID   string   `firestore:"hrms_id" json:"hrms_id"` // 6 uppercase letters, unique across users
	Password string   `firestore:"password" json:"-"`
	Role     UserRole `firestore:"role" json:"role"`
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Username *string
	Password *string
	Role     *UserRole
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.Password == nil && u.Role == nil
}

// Apply returns a copy of user with the update applied.
func (u UserUpdate) Apply(user User) User {
	if u.Username != nil {
		user.Username = *u.Username
	}
	if u.Password != nil {
		user.Password = *u.Password
	}
	if u.Role != nil {
		user.Role = *u.Role
	}
	return user
}

// SyncStatus tags whether an inspection has been durably persisted.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	// Declared for a reconciliation path that does not exist; nothing produces these.
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
)

// TimestampLayout is the display format stored in Inspection.Timestamp (DD/MM/YYYY HH:mm:ss).
const TimestampLayout = "02/01/2006 15:04:05"

// DateLayout is the date portion of TimestampLayout.
const DateLayout = "02/01/2006"

// Inspection is a single pantograph inspection record.
type Inspection struct {
	ID               string     `firestore:"id" json:"id"`
	LocoNumber       string     `firestore:"loco_number" json:"loco_number"`
	BaseShed         string     `firestore:"base_shed" json:"base_shed"`
	Schedule         string     `firestore:"schedule" json:"schedule"`
	PantographNumber string     `firestore:"pantograph_number" json:"pantograph_number"`
	PhotoURL         string     `firestore:"photo_url" json:"photo_url"`
	Timestamp        string     `firestore:"timestamp" json:"timestamp"` // fixed at creation, never re-derived
	UserID           string     `firestore:"user_id" json:"user_id"`
	SyncStatus       SyncStatus `firestore:"sync_status" json:"sync_status"`
	LastModified     int64      `firestore:"last_modified" json:"last_modified"` // unix millis, ordering key
}

// View identifies the active screen of a session.
type View string

const (
	ViewLogin          View = "LOGIN"
	ViewDashboard      View = "DASHBOARD"
	ViewNewInspection  View = "NEW_INSPECTION"
	ViewHistory        View = "HISTORY"
	ViewUserManagement View = "USER_MANAGEMENT"
	ViewProfile        View = "PROFILE"
)

// Valid reports whether v names a known screen.
func (v View) Valid() bool {
	switch v {
	case ViewLogin, ViewDashboard, ViewNewInspection, ViewHistory, ViewUserManagement, ViewProfile:
		return true
	}
	return false
}

// Table names shared by the stores and the change feeds.
const (
	InspectionsTable = "inspections"
	UsersTable       = "users"
)

// PublicUser is the login selector's view of a user.
type PublicUser struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	HRMSID   string   `json:"hrms_id"`
	Role     UserRole `json:"role"`
}

// Public strips credentials from u.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, HRMSID: u.HRMSID, Role: u.Role}
}
