// Package backend translates inspection and user operations into calls against the
// table store, the photo bucket and the realtime change feed.
package backend

import (
	"context"

	"locoinspect/models"
)

// Tables is the hosted table API the adapter runs against.
type Tables interface {
	// ListInspections returns every inspection ordered by LastModified, newest first.
	ListInspections(ctx context.Context) ([]models.Inspection, error)
	InsertInspection(ctx context.Context, inspection models.Inspection) error
	DeleteInspection(ctx context.Context, id string) error

	ListUsers(ctx context.Context) ([]models.User, error)
	InsertUser(ctx context.Context, user models.User) error
	InsertUsers(ctx context.Context, users []models.User) error
	UpdateUser(ctx context.Context, id string, update models.UserUpdate) error
	DeleteUser(ctx context.Context, id string) error
}

// PhotoStore is the object bucket holding inspection photos.
type PhotoStore interface {
	// Upload writes data under name, replacing any existing object.
	Upload(ctx context.Context, name string, data []byte, contentType string) error
	PublicURL(name string) string
	Delete(ctx context.Context, name string) error
	Bucket() string
}

// ChangeFeed delivers row-level change notifications for a table.
type ChangeFeed interface {
	// Watch blocks until ctx is done, calling onChange after every insert, update or delete on table.
	Watch(ctx context.Context, table string, onChange func()) error
}

// ChangeNotifier is implemented by feeds that need mutations to be published explicitly.
type ChangeNotifier interface {
	Notify(ctx context.Context, table string) error
}
