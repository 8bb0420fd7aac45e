package tracker

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUserExists is returned when a user record has already been claimed.
var ErrUserExists = errors.New("user already exists")

// ErrUserNotFound is returned when the bound user has no record.
var ErrUserNotFound = errors.New("user not found")

// ErrProjectNotFound is returned when a project cannot be located.
var ErrProjectNotFound = errors.New("project not found")

// ErrEntryNotFound is returned when a time entry cannot be located.
var ErrEntryNotFound = errors.New("time entry not found")

// ErrActiveEntryExists is returned when a project already has a running entry.
var ErrActiveEntryExists = errors.New("active time entry already exists")

// ErrNoActiveEntry is returned when a stop is requested with nothing running.
var ErrNoActiveEntry = errors.New("no active time entry")

// ErrValidation is returned when input validation fails.
var ErrValidation = errors.New("validation error")

// ValidationError wraps a validation message so callers can distinguish
// client errors from internal failures.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// User is the record claimed exactly once per OAuth identity.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project is owned exclusively by one user. Projects are archived, never
// hard-deleted, so historical entries stay resolvable.
type Project struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Archived    bool      `json:"isArchived"`
}

// TimeEntry is one timed work session. A nil EndTime means the entry is
// running; Duration is computed once at stop time.
type TimeEntry struct {
	ID          uuid.UUID     `json:"id"`
	UserID      string        `json:"userId"`
	ProjectID   uuid.UUID     `json:"projectId"`
	Description string        `json:"description"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     *time.Time    `json:"endTime"`
	Duration    time.Duration `json:"duration,omitempty"`
	Tags        []string      `json:"tags"`
}

// Running reports whether the entry has not been stopped yet.
func (e TimeEntry) Running() bool {
	return e.EndTime == nil
}

// Elapsed returns the stored duration, deriving it from the timestamps for
// finished entries persisted before durations were stored. Running entries
// report zero.
func (e TimeEntry) Elapsed() time.Duration {
	if e.Duration > 0 {
		return e.Duration
	}
	if e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// activeMarker is the secondary index pointing at a project's running entry.
// It is written and removed in the same transaction as the entry itself.
type activeMarker struct {
	EntryID   uuid.UUID `json:"entryId"`
	ProjectID uuid.UUID `json:"projectId"`
	StartedAt time.Time `json:"startedAt"`
}

// UpdateProjectInput captures the editable fields of a project.
type UpdateProjectInput struct {
	Name        *string
	Description *string
}

// UpdateEntryInput captures the editable fields of a time entry. A non-nil
// EndTime closes a running entry.
type UpdateEntryInput struct {
	Description *string
	Tags        *[]string
	StartTime   *time.Time
	EndTime     *time.Time
}

// EntryFilter bounds TimeEntries results. Start and End filter on StartTime,
// inclusively.
type EntryFilter struct {
	ProjectID *uuid.UUID
	Start     *time.Time
	End       *time.Time
}

// ProjectSummary aggregates a project's entries over an optional date range.
type ProjectSummary struct {
	TotalDuration time.Duration `json:"totalDuration"`
	EntryCount    int           `json:"entryCount"`
	Entries       []TimeEntry   `json:"entries"`
}
