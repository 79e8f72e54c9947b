package inspection

import (
	"errors"
	"testing"
	"time"

	"locoinspect/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validFields = Fields{
	LocoNumber:       " 37210 ",
	BaseShed:         "BSL",
	Schedule:         "IA",
	PantographNumber: "P-1",
}

func TestForm_PhotoReviewFlow(t *testing.T) {
	f := NewForm()
	assert.Equal(t, PhotoIdle, f.Snapshot().State)

	require.NoError(t, f.SelectPhoto("data:image/jpeg;base64,AAAA"))
	snap := f.Snapshot()
	assert.Equal(t, PhotoReview, snap.State)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", snap.Candidate)
	assert.Empty(t, snap.Photo)

	require.NoError(t, f.Confirm())
	snap = f.Snapshot()
	assert.Equal(t, PhotoIdle, snap.State)
	assert.Empty(t, snap.Candidate)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", snap.Photo)

	assert.ErrorIs(t, f.Confirm(), ErrNoCandidate)
}

func TestForm_RetakeDropsConfirmedPhoto(t *testing.T) {
	f := NewForm()
	require.NoError(t, f.SelectPhoto("data:image/jpeg;base64,AAAA"))
	require.NoError(t, f.Confirm())
	require.NoError(t, f.SelectPhoto("data:image/jpeg;base64,BBBB"))

	f.Retake()

	snap := f.Snapshot()
	assert.Equal(t, PhotoPicking, snap.State)
	assert.Empty(t, snap.Candidate)
	assert.Empty(t, snap.Photo)
}

func TestForm_SelectPhotoRejectsEmpty(t *testing.T) {
	f := NewForm()
	assert.ErrorIs(t, f.SelectPhoto("  "), ErrEmptyPhoto)
	assert.ErrorIs(t, f.SelectPhotoBytes(nil), ErrEmptyPhoto)

	require.NoError(t, f.SelectPhotoBytes([]byte{1, 2, 3}))
	assert.Equal(t, "data:image/jpeg;base64,AQID", f.Snapshot().Candidate)
}

func TestForm_SubmitWithoutPhoto(t *testing.T) {
	f := NewForm()
	_, err := f.Submit(models.User{ID: "2"}, validFields, time.Now(), time.UTC)
	require.ErrorIs(t, err, ErrPhotoRequired)
	assert.Equal(t, "Please capture or upload a photo.", err.Error())

	// A photo still under review is not accepted yet.
	require.NoError(t, f.SelectPhoto("data:image/jpeg;base64,AAAA"))
	_, err = f.Submit(models.User{ID: "2"}, validFields, time.Now(), time.UTC)
	assert.ErrorIs(t, err, ErrPhotoRequired)
}

func TestForm_SubmitRequiresFields(t *testing.T) {
	f := NewForm()
	require.NoError(t, f.SelectPhoto("data:image/jpeg;base64,AAAA"))
	require.NoError(t, f.Confirm())

	fields := validFields
	fields.Schedule = "   "
	_, err := f.Submit(models.User{ID: "2"}, fields, time.Now(), time.UTC)

	var fieldErr *FieldError
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "Schedule", fieldErr.Field)
}

func TestForm_SubmitBuildsPendingRecord(t *testing.T) {
	f := NewForm()
	require.NoError(t, f.SelectPhoto("data:image/jpeg;base64,AAAA"))
	require.NoError(t, f.Confirm())

	now := time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)
	insp, err := f.Submit(models.User{ID: "2"}, validFields, now, time.UTC)
	require.NoError(t, err)

	assert.Len(t, insp.ID, 8)
	assert.Equal(t, "37210", insp.LocoNumber)
	assert.Equal(t, "05/03/2024 14:07:09", insp.Timestamp)
	assert.Equal(t, "2", insp.UserID)
	assert.Equal(t, models.SyncStatusPending, insp.SyncStatus)
	assert.Equal(t, now.UnixMilli(), insp.LastModified)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", insp.PhotoURL)
}

func TestFormatTimestamp(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2024, time.December, 31, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, "01/01/2025 01:30:00", FormatTimestamp(ts, ist))
	assert.Equal(t, "31/12/2024 20:00:00", FormatTimestamp(ts, time.UTC))
}
