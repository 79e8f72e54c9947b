package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"locoinspect/auth"
	"locoinspect/db"
	"locoinspect/models"
	"locoinspect/photos"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingPhotos struct {
	*photos.LocalStore
	uploadErr error
	deleteErr error
}

func (f *failingPhotos) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	return f.LocalStore.Upload(ctx, name, data, contentType)
}

func (f *failingPhotos) Delete(ctx context.Context, name string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.LocalStore.Delete(ctx, name)
}

type failingTables struct {
	*db.MemoryDB
	listErr   error
	insertErr error
}

func (f *failingTables) ListUsers(ctx context.Context) ([]models.User, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MemoryDB.ListUsers(ctx)
}

func (f *failingTables) InsertUsers(ctx context.Context, users []models.User) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.MemoryDB.InsertUsers(ctx, users)
}

// racingTables lands a write between the first list query and its reply.
type racingTables struct {
	*db.MemoryDB
	once sync.Once
}

func (r *racingTables) ListInspections(ctx context.Context) ([]models.Inspection, error) {
	stale, err := r.MemoryDB.ListInspections(ctx)
	r.once.Do(func() {
		deadline := time.Now().Add(time.Second)
		for r.MemoryDB.Watchers(models.InspectionsTable) == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		err = r.MemoryDB.InsertInspection(ctx, sampleInspection())
	})
	return stale, err
}

type recorder[T any] struct {
	mu    sync.Mutex
	calls [][]T
}

func (r *recorder[T]) record(items []T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, items)
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder[T]) last() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func newLocalPhotos(t *testing.T) *photos.LocalStore {
	store, err := photos.NewLocalStore(t.TempDir(), "loco-photos", "http://localhost:8080/photos")
	require.NoError(t, err)
	return store
}

func sampleInspection() models.Inspection {
	return models.Inspection{
		ID:               "client-side-id",
		LocoNumber:       "30412",
		BaseShed:         "BSL",
		Schedule:         "IA",
		PantographNumber: "P-7",
		PhotoURL:         EncodePhoto([]byte{0xff, 0xd8, 0xff, 0xe0}),
		Timestamp:        "05/03/2024 14:07:09",
		UserID:           "2",
		SyncStatus:       models.SyncStatusPending,
	}
}

func TestSaveInspection_UploadsAndInserts(t *testing.T) {
	store := db.NewMemoryDB()
	photoStore := newLocalPhotos(t)
	now := time.UnixMilli(1709647629000)
	c := NewClient(store, photoStore, store, zap.NewNop(),
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "abc" }))

	saved, err := c.SaveInspection(context.Background(), sampleInspection())
	require.NoError(t, err)

	assert.Equal(t, "abc", saved.ID)
	assert.Equal(t, "http://localhost:8080/photos/abc.jpg", saved.PhotoURL)
	assert.Equal(t, models.SyncStatusSynced, saved.SyncStatus)
	assert.Equal(t, int64(1709647629000), saved.LastModified)
	assert.Equal(t, "05/03/2024 14:07:09", saved.Timestamp)

	data, err := photoStore.Read("abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, data)

	list, err := store.ListInspections(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, saved, list[0])
}

func TestSaveInspection_UploadFailureNamesBucket(t *testing.T) {
	store := db.NewMemoryDB()
	photoStore := &failingPhotos{LocalStore: newLocalPhotos(t), uploadErr: errors.New("bucket not found")}
	c := NewClient(store, photoStore, store, zap.NewNop())

	_, err := c.SaveInspection(context.Background(), sampleInspection())
	require.Error(t, err)

	var uploadErr *UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, "upload failed: bucket not found. Did you create the 'loco-photos' bucket?", err.Error())

	list, _ := store.ListInspections(context.Background())
	assert.Empty(t, list)
}

func TestSaveInspection_RejectsBadPayload(t *testing.T) {
	store := db.NewMemoryDB()
	c := NewClient(store, newLocalPhotos(t), store, zap.NewNop())

	insp := sampleInspection()
	insp.PhotoURL = ""
	_, err := c.SaveInspection(context.Background(), insp)
	assert.ErrorIs(t, err, ErrEmptyPhoto)

	insp.PhotoURL = "data:image/jpeg;base64,!!!"
	_, err = c.SaveInspection(context.Background(), insp)
	assert.ErrorContains(t, err, "invalid photo payload")
}

func TestDeleteInspection_PhotoFailureIsNotReturned(t *testing.T) {
	store := db.NewMemoryDB()
	photoStore := &failingPhotos{LocalStore: newLocalPhotos(t)}
	c := NewClient(store, photoStore, store, zap.NewNop(), WithIDGenerator(func() string { return "gone" }))

	_, err := c.SaveInspection(context.Background(), sampleInspection())
	require.NoError(t, err)

	photoStore.deleteErr = errors.New("permission denied")
	require.NoError(t, c.DeleteInspection(context.Background(), "gone"))

	list, _ := store.ListInspections(context.Background())
	assert.Empty(t, list)
}

func TestSubscribeToInspections_InitialAndRefresh(t *testing.T) {
	store := db.NewMemoryDB()
	c := NewClient(store, newLocalPhotos(t), store, zap.NewNop())

	rec := &recorder[models.Inspection]{}
	sub := c.SubscribeToInspections(context.Background(), rec.record)
	defer sub.Close()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.last())

	require.Eventually(t, func() bool { return store.Watchers(models.InspectionsTable) == 1 }, time.Second, 5*time.Millisecond)

	_, err := c.SaveInspection(context.Background(), sampleInspection())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.last()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "30412", rec.last()[0].LocoNumber)
}

func TestSubscribeToInspections_WriteDuringInitialFetch(t *testing.T) {
	tables := &racingTables{MemoryDB: db.NewMemoryDB()}
	c := NewClient(tables, newLocalPhotos(t), tables.MemoryDB, zap.NewNop())

	rec := &recorder[models.Inspection]{}
	sub := c.SubscribeToInspections(context.Background(), rec.record)
	defer sub.Close()

	require.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	first := rec.calls[0]
	rec.mu.Unlock()
	assert.Empty(t, first)
	require.Len(t, rec.last(), 1)
	assert.Equal(t, "30412", rec.last()[0].LocoNumber)
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	store := db.NewMemoryDB()
	c := NewClient(store, newLocalPhotos(t), store, zap.NewNop())

	rec := &recorder[models.Inspection]{}
	sub := c.SubscribeToInspections(context.Background(), rec.record)
	require.Eventually(t, func() bool { return store.Watchers(models.InspectionsTable) == 1 }, time.Second, 5*time.Millisecond)

	sub.Close()
	select {
	case <-sub.Done():
	default:
		t.Fatal("subscription not done after Close")
	}
	assert.Equal(t, 0, store.Watchers(models.InspectionsTable))

	calls := rec.count()
	_, err := c.SaveInspection(context.Background(), sampleInspection())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, rec.count())
}

func TestSubscribeToUsers_SeedsEmptyTable(t *testing.T) {
	store := db.NewMemoryDB()
	c := NewClient(store, newLocalPhotos(t), store, zap.NewNop())

	rec := &recorder[models.User]{}
	sub := c.SubscribeToUsers(context.Background(), rec.record)
	defer sub.Close()

	require.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	first := rec.calls[0]
	rec.mu.Unlock()
	require.Len(t, first, 3)
	assert.Equal(t, "ADMINX", first[0].HRMSID)
	assert.Equal(t, models.RoleAdmin, first[0].Role)
	assert.Equal(t, "KUMARS", first[1].HRMSID)
	assert.Equal(t, "SINGHR", first[2].HRMSID)
	assert.NoError(t, auth.CheckPassword("password", first[0].Password))

	stored, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestSubscribeToUsers_SeedFailureStillDelivers(t *testing.T) {
	tables := &failingTables{MemoryDB: db.NewMemoryDB(), insertErr: errors.New("permission denied")}
	c := NewClient(tables, newLocalPhotos(t), tables.MemoryDB, zap.NewNop())

	rec := &recorder[models.User]{}
	sub := c.SubscribeToUsers(context.Background(), rec.record)
	defer sub.Close()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, rec.last(), 3)
}

func TestSubscribeToUsers_FetchErrorReportsStatus(t *testing.T) {
	tables := &failingTables{MemoryDB: db.NewMemoryDB(), listErr: errors.New("offline")}

	var mu sync.Mutex
	var statuses []error
	c := NewClient(tables, newLocalPhotos(t), tables.MemoryDB, zap.NewNop(),
		WithStatusHook(func(table string, err error) {
			mu.Lock()
			defer mu.Unlock()
			if table == models.UsersTable {
				statuses = append(statuses, err)
			}
		}))

	rec := &recorder[models.User]{}
	sub := c.SubscribeToUsers(context.Background(), rec.record)
	defer sub.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestUserOperations(t *testing.T) {
	store := db.NewMemoryDB()
	c := NewClient(store, newLocalPhotos(t), store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.SaveUser(ctx, models.User{ID: "u1", Username: "A", HRMSID: "AAAAAA", Role: models.RoleTechnician}))

	role := models.RoleOfficer
	require.NoError(t, c.UpdateUser(ctx, "u1", models.UserUpdate{Role: &role}))
	require.NoError(t, c.UpdateUser(ctx, "u1", models.UserUpdate{}))

	users, _ := store.ListUsers(ctx)
	require.Len(t, users, 1)
	assert.Equal(t, models.RoleOfficer, users[0].Role)
	assert.Equal(t, "A", users[0].Username)

	require.NoError(t, c.DeleteUser(ctx, "u1"))
	users, _ = store.ListUsers(ctx)
	assert.Empty(t, users)
}

func TestDecodePhoto(t *testing.T) {
	data, err := DecodePhoto("data:image/jpeg;base64,AQID")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	data, err = DecodePhoto("AQID")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, err = DecodePhoto("data:image/jpeg;base64,")
	assert.ErrorIs(t, err, ErrEmptyPhoto)
}
