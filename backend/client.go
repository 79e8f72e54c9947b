package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"locoinspect/auth"
	"locoinspect/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const photoContentType = "image/jpeg"

// UploadError is returned by SaveInspection when the photo could not be stored.
type UploadError struct {
	Bucket string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: %v. Did you create the '%s' bucket?", e.Err, e.Bucket)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ErrEmptyPhoto is returned when an inspection carries no photo payload.
var ErrEmptyPhoto = errors.New("photo payload is empty")

// Client is the backend adapter.
type Client struct {
	tables     Tables
	photos     PhotoStore
	feed       ChangeFeed
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
	statusHook func(table string, err error)
}

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the time source used for LastModified.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithIDGenerator overrides the id source used for new inspections.
func WithIDGenerator(newID func() string) Option {
	return func(c *Client) { c.newID = newID }
}

// WithStatusHook registers a callback told about every fetch or feed outcome per table;
// err is nil when the table was reachable.
func WithStatusHook(hook func(table string, err error)) Option {
	return func(c *Client) { c.statusHook = hook }
}

// NewClient wires the adapter to its stores.
func NewClient(tables Tables, photos PhotoStore, feed ChangeFeed, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		tables: tables,
		photos: photos,
		feed:   feed,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscription is a standing realtime feed. Close stops it.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the feed and waits for the last callback to return.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (c *Client) subscribe(ctx context.Context, table string, initial, refresh func(context.Context)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	// The watch is registered before the initial fetch so a write landing
	// between the two still triggers a refresh.
	changed := make(chan struct{}, 1)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- c.feed.Watch(ctx, table, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	go func() {
		defer close(sub.done)

		initial(ctx)
		for {
			select {
			case <-ctx.Done():
				<-watchErr
				return
			case <-changed:
				refresh(ctx)
			case err := <-watchErr:
				if err != nil && ctx.Err() == nil {
					c.logger.Error("Realtime feed stopped", zap.String("table", table), zap.Error(err))
					c.reportStatus(table, err)
				}
				return
			}
		}
	}()

	return sub
}

// SubscribeToInspections delivers the full inspection list, newest first, now and after every change.
func (c *Client) SubscribeToInspections(ctx context.Context, callback func([]models.Inspection)) *Subscription {
	fetch := func(ctx context.Context) {
		inspections, err := c.tables.ListInspections(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("Error fetching inspections", zap.Error(err))
				c.reportStatus(models.InspectionsTable, err)
			}
			return
		}
		c.reportStatus(models.InspectionsTable, nil)
		callback(inspections)
	}
	return c.subscribe(ctx, models.InspectionsTable, fetch, fetch)
}

// SubscribeToUsers delivers the full user list now and after every change.
// An empty table is seeded with the default accounts on first connect.
func (c *Client) SubscribeToUsers(ctx context.Context, callback func([]models.User)) *Subscription {
	initial := func(ctx context.Context) {
		users, err := c.tables.ListUsers(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Could not connect to users table", zap.Error(err))
				c.reportStatus(models.UsersTable, err)
			}
			return
		}
		c.reportStatus(models.UsersTable, nil)

		if len(users) == 0 {
			seeds, err := DefaultUsers()
			if err != nil {
				c.logger.Error("Failed to build default users", zap.Error(err))
				return
			}
			c.logger.Info("Seeding users table with default accounts", zap.Int("count", len(seeds)))
			if err := c.tables.InsertUsers(ctx, seeds); err != nil {
				c.logger.Error("Seeding failed", zap.Error(err))
			} else {
				c.notify(ctx, models.UsersTable)
			}
			users = seeds
		}
		callback(users)
	}

	refresh := func(ctx context.Context) {
		users, err := c.tables.ListUsers(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("Error fetching users", zap.Error(err))
				c.reportStatus(models.UsersTable, err)
			}
			return
		}
		c.reportStatus(models.UsersTable, nil)
		callback(users)
	}

	return c.subscribe(ctx, models.UsersTable, initial, refresh)
}

// SaveInspection uploads the inspection's photo and inserts the record.
// The returned record carries the stored id, the public photo URL and SyncStatusSynced.
// An uploaded photo is not removed again if the insert fails.
func (c *Client) SaveInspection(ctx context.Context, inspection models.Inspection) (models.Inspection, error) {
	data, err := DecodePhoto(inspection.PhotoURL)
	if err != nil {
		return models.Inspection{}, fmt.Errorf("invalid photo payload: %w", err)
	}

	id := c.newID()
	fileName := PhotoName(id)

	if err := c.photos.Upload(ctx, fileName, data, photoContentType); err != nil {
		c.logger.Error("Storage error", zap.String("object", fileName), zap.Error(err))
		return models.Inspection{}, &UploadError{Bucket: c.photos.Bucket(), Err: err}
	}

	inspection.ID = id
	inspection.PhotoURL = c.photos.PublicURL(fileName)
	inspection.SyncStatus = models.SyncStatusSynced
	inspection.LastModified = c.now().UnixMilli()

	if err := c.tables.InsertInspection(ctx, inspection); err != nil {
		return models.Inspection{}, fmt.Errorf("failed to insert inspection: %w", err)
	}

	c.notify(ctx, models.InspectionsTable)
	return inspection, nil
}

// DeleteInspection removes the record and then, best effort, its photo.
func (c *Client) DeleteInspection(ctx context.Context, id string) error {
	if err := c.tables.DeleteInspection(ctx, id); err != nil {
		return fmt.Errorf("failed to delete inspection %s: %w", id, err)
	}

	if err := c.photos.Delete(ctx, PhotoName(id)); err != nil {
		c.logger.Warn("Failed to delete inspection photo", zap.String("id", id), zap.Error(err))
	}

	c.notify(ctx, models.InspectionsTable)
	return nil
}

// SaveUser inserts user as given. Uniqueness of the HRMS id is not checked here.
func (c *Client) SaveUser(ctx context.Context, user models.User) error {
	if err := c.tables.InsertUser(ctx, user); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	c.notify(ctx, models.UsersTable)
	return nil
}

// UpdateUser applies a partial update to the user with the given id.
func (c *Client) UpdateUser(ctx context.Context, id string, update models.UserUpdate) error {
	if update.Empty() {
		return nil
	}
	if err := c.tables.UpdateUser(ctx, id, update); err != nil {
		return fmt.Errorf("failed to update user %s: %w", id, err)
	}
	c.notify(ctx, models.UsersTable)
	return nil
}

// DeleteUser removes the user with the given id.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	if err := c.tables.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	c.notify(ctx, models.UsersTable)
	return nil
}

func (c *Client) notify(ctx context.Context, table string) {
	notifier, ok := c.feed.(ChangeNotifier)
	if !ok {
		return
	}
	if err := notifier.Notify(ctx, table); err != nil {
		c.logger.Warn("Failed to publish change", zap.String("table", table), zap.Error(err))
	}
}

func (c *Client) reportStatus(table string, err error) {
	if c.statusHook != nil {
		c.statusHook(table, err)
	}
}

// PhotoName is the object key of an inspection's photo.
func PhotoName(id string) string {
	return id + ".jpg"
}

// DecodePhoto returns the binary payload of a base64 data URL ("data:image/jpeg;base64,...")
// or of a bare base64 string.
func DecodePhoto(payload string) ([]byte, error) {
	if _, encoded, ok := strings.Cut(payload, ","); ok {
		payload = encoded
	}
	if payload == "" {
		return nil, ErrEmptyPhoto
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// EncodePhoto wraps raw JPEG bytes as a data URL.
func EncodePhoto(data []byte) string {
	return "data:" + photoContentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var defaultUsers = sync.OnceValues(func() ([]models.User, error) {
	hash, err := auth.HashPassword("password")
	if err != nil {
		return nil, err
	}
	return []models.User{
		{ID: "1", Username: "Super Admin", HRMSID: "ADMINX", Password: hash, Role: models.RoleAdmin},
		{ID: "2", Username: "S. Kumar", HRMSID: "KUMARS", Password: hash, Role: models.RoleTechnician},
		{ID: "3", Username: "R. Singh", HRMSID: "SINGHR", Password: hash, Role: models.RoleSupervisor},
	}, nil
})

// DefaultUsers returns the accounts seeded into an empty users table.
// Their password is "password".
func DefaultUsers() ([]models.User, error) {
	users, err := defaultUsers()
	if err != nil {
		return nil, err
	}
	return append([]models.User(nil), users...), nil
}
