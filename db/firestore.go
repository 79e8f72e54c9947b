package db

import (
	"context"
	"errors"
	"fmt"
	"locoinspect/models"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// FirestoreDB wraps the Firestore client
type FirestoreDB struct {
	client *firestore.Client
	logger *zap.Logger
}

// NewFirestoreDB initializes a new Firestore client
func NewFirestoreDB(ctx context.Context, projectID, credentialsPath string, logger *zap.Logger) (*FirestoreDB, error) {
	opt := option.WithCredentialsFile(credentialsPath)

	config := &firebase.Config{ProjectID: projectID}
	app, err := firebase.NewApp(ctx, config, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firestore client: %w", err)
	}

	logger.Info("Connected to Firestore", zap.String("project_id", projectID))

	return &FirestoreDB{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Firestore client
func (db *FirestoreDB) Close() error {
	return db.client.Close()
}

// --- Inspection Operations ---

// ListInspections retrieves all inspections, newest first
func (db *FirestoreDB) ListInspections(ctx context.Context) ([]models.Inspection, error) {
	iter := db.client.Collection(models.InspectionsTable).
		OrderBy("last_modified", firestore.Desc).
		Documents(ctx)
	return readAll[models.Inspection](iter, db.logger, models.InspectionsTable)
}

// InsertInspection creates a new inspection document keyed by its id
func (db *FirestoreDB) InsertInspection(ctx context.Context, inspection models.Inspection) error {
	_, err := db.client.Collection(models.InspectionsTable).Doc(inspection.ID).Create(ctx, inspection)
	if err != nil {
		return fmt.Errorf("failed to create inspection: %w", err)
	}
	return nil
}

// DeleteInspection deletes an inspection
func (db *FirestoreDB) DeleteInspection(ctx context.Context, id string) error {
	_, err := db.client.Collection(models.InspectionsTable).Doc(id).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete inspection: %w", err)
	}
	return nil
}

// --- User Operations ---

// ListUsers retrieves all users
func (db *FirestoreDB) ListUsers(ctx context.Context) ([]models.User, error) {
	iter := db.client.Collection(models.UsersTable).Documents(ctx)
	return readAll[models.User](iter, db.logger, models.UsersTable)
}

// InsertUser creates a new user document keyed by its id
func (db *FirestoreDB) InsertUser(ctx context.Context, user models.User) error {
	_, err := db.client.Collection(models.UsersTable).Doc(user.ID).Set(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// InsertUsers writes several users in one batch
func (db *FirestoreDB) InsertUsers(ctx context.Context, users []models.User) error {
	batch := db.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(users))
	for _, user := range users {
		job, err := batch.Set(db.client.Collection(models.UsersTable).Doc(user.ID), user)
		if err != nil {
			batch.End()
			return fmt.Errorf("failed to queue user %s: %w", user.ID, err)
		}
		jobs = append(jobs, job)
	}
	batch.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to create users: %w", errors.Join(errs...))
	}
	return nil
}

// UpdateUser applies a partial update to an existing user
func (db *FirestoreDB) UpdateUser(ctx context.Context, id string, update models.UserUpdate) error {
	var updates []firestore.Update
	if update.Username != nil {
		updates = append(updates, firestore.Update{Path: "username", Value: *update.Username})
	}
	if update.Password != nil {
		updates = append(updates, firestore.Update{Path: "password", Value: *update.Password})
	}
	if update.Role != nil {
		updates = append(updates, firestore.Update{Path: "role", Value: string(*update.Role)})
	}
	if len(updates) == 0 {
		return nil
	}

	_, err := db.client.Collection(models.UsersTable).Doc(id).Update(ctx, updates)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// DeleteUser deletes a user
func (db *FirestoreDB) DeleteUser(ctx context.Context, id string) error {
	_, err := db.client.Collection(models.UsersTable).Doc(id).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// --- Change Feed ---

// Watch listens to query snapshots of the collection and calls onChange for every
// snapshot after the first, which only reflects the state at listen time.
func (db *FirestoreDB) Watch(ctx context.Context, table string, onChange func()) error {
	snapshots := db.client.Collection(table).Snapshots(ctx)
	defer snapshots.Stop()

	first := true
	for {
		snap, err := snapshots.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("snapshot listener for %s failed: %w", table, err)
		}
		if first {
			first = false
			continue
		}
		if len(snap.Changes) == 0 {
			continue
		}
		onChange()
	}
}

func readAll[T any](iter *firestore.DocumentIterator, logger *zap.Logger, collection string) ([]T, error) {
	defer iter.Stop()

	var items []T
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
		}

		var item T
		if err := doc.DataTo(&item); err != nil {
			logger.Warn("Failed to parse document",
				zap.String("collection", collection),
				zap.String("doc_id", doc.Ref.ID),
				zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	return items, nil
}
