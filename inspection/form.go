// Package inspection holds the capture form a crew member fills before an inspection is saved.
package inspection

import (
	"errors"
	"strings"
	"sync"
	"time"

	"locoinspect/backend"
	"locoinspect/models"

	"github.com/google/uuid"
)

// PhotoState is the photo sub-state of the form.
type PhotoState string

const (
	PhotoIdle    PhotoState = "idle"
	PhotoReview  PhotoState = "review"
	PhotoPicking PhotoState = "picking"
)

var (
	ErrPhotoRequired = errors.New("Please capture or upload a photo.")
	ErrNoCandidate   = errors.New("no photo is waiting for review")
	ErrEmptyPhoto    = errors.New("photo is empty")
)

// FieldError names a required field left blank.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return e.Field + " is required."
}

// Fields are the typed inputs of the form.
type Fields struct {
	LocoNumber       string `json:"loco_number"`
	BaseShed         string `json:"base_shed"`
	Schedule         string `json:"schedule"`
	PantographNumber string `json:"pantograph_number"`
}

func (f Fields) trimmed() Fields {
	return Fields{
		LocoNumber:       strings.TrimSpace(f.LocoNumber),
		BaseShed:         strings.TrimSpace(f.BaseShed),
		Schedule:         strings.TrimSpace(f.Schedule),
		PantographNumber: strings.TrimSpace(f.PantographNumber),
	}
}

// Validate reports the first blank field.
func (f Fields) Validate() error {
	t := f.trimmed()
	switch {
	case t.LocoNumber == "":
		return &FieldError{Field: "Loco Number"}
	case t.BaseShed == "":
		return &FieldError{Field: "Base Shed"}
	case t.Schedule == "":
		return &FieldError{Field: "Schedule"}
	case t.PantographNumber == "":
		return &FieldError{Field: "Pantograph Number"}
	}
	return nil
}

// Form is the in-progress capture of one inspection.
// A photo goes through review before it is accepted: SelectPhoto, then Confirm or Retake.
type Form struct {
	mu        sync.Mutex
	state     PhotoState
	candidate string
	photo     string
}

// NewForm returns an empty form with no photo.
func NewForm() *Form {
	return &Form{state: PhotoIdle}
}

// Snapshot is a read-only copy of the form's photo state.
type Snapshot struct {
	State     PhotoState `json:"state"`
	Candidate string     `json:"candidate,omitempty"`
	Photo     string     `json:"photo,omitempty"`
}

func (f *Form) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{State: f.state, Candidate: f.candidate, Photo: f.photo}
}

// SelectPhoto puts a picked or captured photo (a data URL) up for review.
func (f *Form) SelectPhoto(dataURL string) error {
	if strings.TrimSpace(dataURL) == "" {
		return ErrEmptyPhoto
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidate = dataURL
	f.state = PhotoReview
	return nil
}

// SelectPhotoBytes is SelectPhoto for a raw JPEG upload.
func (f *Form) SelectPhotoBytes(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPhoto
	}
	return f.SelectPhoto(backend.EncodePhoto(data))
}

// Confirm accepts the photo under review.
func (f *Form) Confirm() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != PhotoReview || f.candidate == "" {
		return ErrNoCandidate
	}
	f.photo = f.candidate
	f.candidate = ""
	f.state = PhotoIdle
	return nil
}

// Retake drops both the photo under review and the accepted one, and reopens the picker.
func (f *Form) Retake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidate = ""
	f.photo = ""
	f.state = PhotoPicking
}

// Reset clears the form after a successful save.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidate = ""
	f.photo = ""
	f.state = PhotoIdle
}

// Submit builds the pending record for user from fields and the accepted photo.
// The timestamp is taken from now in loc and never recomputed.
func (f *Form) Submit(user models.User, fields Fields, now time.Time, loc *time.Location) (models.Inspection, error) {
	f.mu.Lock()
	photo := f.photo
	f.mu.Unlock()

	if photo == "" {
		return models.Inspection{}, ErrPhotoRequired
	}
	if err := fields.Validate(); err != nil {
		return models.Inspection{}, err
	}

	t := fields.trimmed()
	return models.Inspection{
		ID:               NewClientID(),
		LocoNumber:       t.LocoNumber,
		BaseShed:         t.BaseShed,
		Schedule:         t.Schedule,
		PantographNumber: t.PantographNumber,
		PhotoURL:         photo,
		Timestamp:        FormatTimestamp(now, loc),
		UserID:           user.ID,
		SyncStatus:       models.SyncStatusPending,
		LastModified:     now.UnixMilli(),
	}, nil
}

// FormatTimestamp renders t as DD/MM/YYYY HH:mm:ss (24 hour) in loc.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(models.TimestampLayout)
}

// NewClientID is the provisional id of a record that has not been saved yet.
func NewClientID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
