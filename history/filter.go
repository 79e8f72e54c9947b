// Package history filters inspection records and renders them as downloadable exports.
package history

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"locoinspect/models"
)

// ISODateLayout is the format of the date filter as sent by a date input.
const ISODateLayout = "2006-01-02"

// UnknownInspector is shown for records whose user no longer exists.
const UnknownInspector = "Unknown Staff"

var ErrInvalidDate = errors.New("date filter must be YYYY-MM-DD")

// Filter narrows the history list. Zero values match everything.
type Filter struct {
	Loco string `json:"loco"`
	Date string `json:"date"`
}

// IsEmpty reports whether no filter is applied.
func (f Filter) IsEmpty() bool {
	return f.Loco == "" && f.Date == ""
}

// Validate rejects a malformed date.
func (f Filter) Validate() error {
	if f.Date == "" {
		return nil
	}
	if _, err := time.Parse(ISODateLayout, f.Date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, f.Date)
	}
	return nil
}

// datePrefix converts YYYY-MM-DD to the DD/MM/YYYY prefix of a stored timestamp.
func (f Filter) datePrefix() string {
	parts := strings.Split(f.Date, "-")
	if len(parts) != 3 {
		return f.Date
	}
	return parts[2] + "/" + parts[1] + "/" + parts[0]
}

// Matches reports whether inspection passes the filter.
func (f Filter) Matches(inspection models.Inspection) bool {
	if !strings.Contains(strings.ToLower(inspection.LocoNumber), strings.ToLower(f.Loco)) {
		return false
	}
	if f.Date != "" && !strings.HasPrefix(inspection.Timestamp, f.datePrefix()) {
		return false
	}
	return true
}

// Apply returns the matching inspections, keeping their order.
func (f Filter) Apply(inspections []models.Inspection) ([]models.Inspection, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	result := make([]models.Inspection, 0, len(inspections))
	for _, inspection := range inspections {
		if f.Matches(inspection) {
			result = append(result, inspection)
		}
	}
	return result, nil
}

// InspectorName renders the user who made a record as "username (HRMSID)".
func InspectorName(users []models.User, userID string) string {
	for _, user := range users {
		if user.ID == userID {
			return fmt.Sprintf("%s (%s)", user.Username, user.HRMSID)
		}
	}
	return UnknownInspector
}
