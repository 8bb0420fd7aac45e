package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"tempo/internal/kv"
)

// Store is a per-user facade over the key-value store. The user id is bound
// at construction and every key it touches lives under that user's prefix,
// so no operation can address another user's data.
type Store struct {
	kv     kv.Store
	userID string
	now    func() time.Time
}

// NewStore binds a Store to an existing user's namespace.
func NewStore(store kv.Store, userID string) *Store {
	return &Store{kv: store, userID: userID, now: time.Now}
}

// CreateUser claims the user key with a compare-and-set on an absent prior
// value, guaranteeing exactly one record per identity, and returns the bound
// store. A lost race reports ErrUserExists.
func CreateUser(ctx context.Context, store kv.Store, user User) (*Store, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, &ValidationError{Message: "user id is required"}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("marshal user: %w", err)
	}

	err = store.Atomic().
		Check(userKey(user.ID), kv.VersionAbsent).
		Set(userKey(user.ID), raw, 0).
		Commit(ctx)
	if errors.Is(err, kv.ErrTxConflict) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return NewStore(store, user.ID), nil
}

// User returns the bound user's record.
func (s *Store) User(ctx context.Context) (User, error) {
	entry, found, err := s.kv.Get(ctx, userKey(s.userID))
	if err != nil {
		return User{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return User{}, ErrUserNotFound
	}

	var user User
	if err := json.Unmarshal(entry.Value, &user); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

// CreateProject stores a new project. Names are not unique; creation always
// succeeds for valid input.
func (s *Store) CreateProject(ctx context.Context, name, description string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, &ValidationError{Message: "project name is required"}
	}

	now := s.now().UTC()
	project := Project{
		ID:          uuid.New(),
		UserID:      s.userID,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.putProject(ctx, project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// GetProject returns one project by id.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (Project, error) {
	project, _, err := s.loadProject(ctx, id)
	return project, err
}

// UpdateProject merges the provided fields and refreshes UpdatedAt.
func (s *Store) UpdateProject(ctx context.Context, id uuid.UUID, input UpdateProjectInput) (Project, error) {
	project, _, err := s.loadProject(ctx, id)
	if err != nil {
		return Project{}, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return Project{}, &ValidationError{Message: "project name is required"}
		}
		project.Name = name
	}
	if input.Description != nil {
		project.Description = strings.TrimSpace(*input.Description)
	}
	project.UpdatedAt = s.now().UTC()

	if err := s.putProject(ctx, project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// ArchiveProject soft-deletes a project. Archiving an archived project is
// not an error.
func (s *Store) ArchiveProject(ctx context.Context, id uuid.UUID) error {
	project, _, err := s.loadProject(ctx, id)
	if err != nil {
		return err
	}

	project.Archived = true
	project.UpdatedAt = s.now().UTC()
	return s.putProject(ctx, project)
}

// ListProjects returns the user's projects in store order. Archived projects
// are excluded unless requested; callers needing a particular order must
// sort explicitly.
func (s *Store) ListProjects(ctx context.Context, includeArchived bool) ([]Project, error) {
	entries, err := s.kv.List(ctx, s.projectPrefix())
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	projects := make([]Project, 0, len(entries))
	for _, entry := range entries {
		var project Project
		if err := json.Unmarshal(entry.Value, &project); err != nil {
			return nil, fmt.Errorf("decode project %q: %w", entry.Key, err)
		}
		if project.Archived && !includeArchived {
			continue
		}
		projects = append(projects, project)
	}
	return projects, nil
}

// StartTimeEntry opens a running entry for the project. The entry record and
// the active marker are written in one transaction guarded by the marker's
// absence, so no observer can see one without the other and a concurrent
// start loses with ErrActiveEntryExists.
func (s *Store) StartTimeEntry(ctx context.Context, projectID uuid.UUID, description string) (TimeEntry, error) {
	if _, _, err := s.loadProject(ctx, projectID); err != nil {
		return TimeEntry{}, err
	}

	markerKey := s.markerKey(projectID)
	if _, found, err := s.kv.Get(ctx, markerKey); err != nil {
		return TimeEntry{}, fmt.Errorf("load active marker: %w", err)
	} else if found {
		return TimeEntry{}, ErrActiveEntryExists
	}

	entry := TimeEntry{
		ID:          uuid.New(),
		UserID:      s.userID,
		ProjectID:   projectID,
		Description: strings.TrimSpace(description),
		StartTime:   s.now().UTC(),
		Tags:        []string{},
	}
	marker := activeMarker{EntryID: entry.ID, ProjectID: projectID, StartedAt: entry.StartTime}

	rawEntry, err := json.Marshal(entry)
	if err != nil {
		return TimeEntry{}, fmt.Errorf("marshal time entry: %w", err)
	}
	rawMarker, err := json.Marshal(marker)
	if err != nil {
		return TimeEntry{}, fmt.Errorf("marshal active marker: %w", err)
	}

	err = s.kv.Atomic().
		Check(markerKey, kv.VersionAbsent).
		Set(s.entryKey(entry.ID), rawEntry, 0).
		Set(markerKey, rawMarker, 0).
		Commit(ctx)
	if errors.Is(err, kv.ErrTxConflict) {
		return TimeEntry{}, ErrActiveEntryExists
	}
	if err != nil {
		return TimeEntry{}, fmt.Errorf("start time entry: %w", err)
	}

	return entry, nil
}

// StopTimeEntry closes the project's running entry, storing EndTime and the
// derived Duration, and removes the active marker in the same transaction.
func (s *Store) StopTimeEntry(ctx context.Context, projectID uuid.UUID) (TimeEntry, error) {
	markerKey := s.markerKey(projectID)
	markerEntry, found, err := s.kv.Get(ctx, markerKey)
	if err != nil {
		return TimeEntry{}, fmt.Errorf("load active marker: %w", err)
	}
	if !found {
		return TimeEntry{}, ErrNoActiveEntry
	}

	var marker activeMarker
	if err := json.Unmarshal(markerEntry.Value, &marker); err != nil {
		return TimeEntry{}, fmt.Errorf("decode active marker: %w", err)
	}

	stored, storedVersion, err := s.loadEntry(ctx, marker.EntryID)
	if err != nil {
		return TimeEntry{}, err
	}

	end := s.now().UTC()
	stored.EndTime = &end
	stored.Duration = end.Sub(stored.StartTime)

	raw, err := json.Marshal(stored)
	if err != nil {
		return TimeEntry{}, fmt.Errorf("marshal time entry: %w", err)
	}

	err = s.kv.Atomic().
		Check(markerKey, markerEntry.Version).
		Check(s.entryKey(stored.ID), storedVersion).
		Set(s.entryKey(stored.ID), raw, 0).
		Delete(markerKey).
		Commit(ctx)
	if err != nil {
		// A conflict means someone else stopped or rewrote the entry
		// between the read and the commit; surface it as-is.
		return TimeEntry{}, fmt.Errorf("stop time entry: %w", err)
	}

	return stored, nil
}

// ActiveTimeEntry returns the running entry for projectID, or any running
// entry when projectID is nil. A nil entry means nothing is running.
func (s *Store) ActiveTimeEntry(ctx context.Context, projectID *uuid.UUID) (*TimeEntry, error) {
	var marker activeMarker

	if projectID != nil {
		entry, found, err := s.kv.Get(ctx, s.markerKey(*projectID))
		if err != nil {
			return nil, fmt.Errorf("load active marker: %w", err)
		}
		if !found {
			return nil, nil
		}
		if err := json.Unmarshal(entry.Value, &marker); err != nil {
			return nil, fmt.Errorf("decode active marker: %w", err)
		}
	} else {
		entries, err := s.kv.List(ctx, s.markerPrefix())
		if err != nil {
			return nil, fmt.Errorf("list active markers: %w", err)
		}
		if len(entries) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(entries[0].Value, &marker); err != nil {
			return nil, fmt.Errorf("decode active marker: %w", err)
		}
	}

	entry, _, err := s.loadEntry(ctx, marker.EntryID)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// TimeEntries returns the user's entries matching filter, newest first. The
// whole prefix is scanned and filtered in memory; there is no pagination.
func (s *Store) TimeEntries(ctx context.Context, filter EntryFilter) ([]TimeEntry, error) {
	raw, err := s.kv.List(ctx, s.entryPrefix())
	if err != nil {
		return nil, fmt.Errorf("list time entries: %w", err)
	}

	entries := make([]TimeEntry, 0, len(raw))
	for _, stored := range raw {
		var entry TimeEntry
		if err := json.Unmarshal(stored.Value, &entry); err != nil {
			return nil, fmt.Errorf("decode time entry %q: %w", stored.Key, err)
		}
		if filter.ProjectID != nil && entry.ProjectID != *filter.ProjectID {
			continue
		}
		if filter.Start != nil && entry.StartTime.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && entry.StartTime.After(*filter.End) {
			continue
		}
		entries = append(entries, entry)
	}

	slices.SortFunc(entries, func(a, b TimeEntry) int {
		return b.StartTime.Compare(a.StartTime)
	})
	return entries, nil
}

// UpdateTimeEntry merges the provided fields into an entry. When the entry is
// the project's running one, the active marker is refreshed (or removed, if
// the update closes the entry) in the same transaction, so the marker can
// never go stale.
func (s *Store) UpdateTimeEntry(ctx context.Context, id uuid.UUID, input UpdateEntryInput) (TimeEntry, error) {
	entry, version, err := s.loadEntry(ctx, id)
	if err != nil {
		return TimeEntry{}, err
	}

	if input.Description != nil {
		entry.Description = strings.TrimSpace(*input.Description)
	}
	if input.Tags != nil {
		entry.Tags = slices.Clone(*input.Tags)
	}
	if input.StartTime != nil {
		entry.StartTime = input.StartTime.UTC()
	}
	if input.EndTime != nil {
		end := input.EndTime.UTC()
		entry.EndTime = &end
	}
	if entry.EndTime != nil {
		if entry.EndTime.Before(entry.StartTime) {
			return TimeEntry{}, &ValidationError{Message: "end time precedes start time"}
		}
		entry.Duration = entry.EndTime.Sub(entry.StartTime)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return TimeEntry{}, fmt.Errorf("marshal time entry: %w", err)
	}

	tx := s.kv.Atomic().
		Check(s.entryKey(id), version).
		Set(s.entryKey(id), raw, 0)

	markerKey := s.markerKey(entry.ProjectID)
	markerEntry, found, err := s.kv.Get(ctx, markerKey)
	if err != nil {
		return TimeEntry{}, fmt.Errorf("load active marker: %w", err)
	}
	if found {
		var marker activeMarker
		if err := json.Unmarshal(markerEntry.Value, &marker); err != nil {
			return TimeEntry{}, fmt.Errorf("decode active marker: %w", err)
		}
		if marker.EntryID == id {
			if entry.Running() {
				marker.StartedAt = entry.StartTime
				rawMarker, err := json.Marshal(marker)
				if err != nil {
					return TimeEntry{}, fmt.Errorf("marshal active marker: %w", err)
				}
				tx = tx.Check(markerKey, markerEntry.Version).Set(markerKey, rawMarker, 0)
			} else {
				tx = tx.Check(markerKey, markerEntry.Version).Delete(markerKey)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return TimeEntry{}, fmt.Errorf("update time entry: %w", err)
	}
	return entry, nil
}

// ProjectSummary aggregates one project's entries over an optional range.
// Entries persisted without a duration fall back to the timestamp delta.
func (s *Store) ProjectSummary(ctx context.Context, projectID uuid.UUID, start, end *time.Time) (ProjectSummary, error) {
	if _, _, err := s.loadProject(ctx, projectID); err != nil {
		return ProjectSummary{}, err
	}

	entries, err := s.TimeEntries(ctx, EntryFilter{ProjectID: &projectID, Start: start, End: end})
	if err != nil {
		return ProjectSummary{}, err
	}

	summary := ProjectSummary{Entries: entries, EntryCount: len(entries)}
	for _, entry := range entries {
		summary.TotalDuration += entry.Elapsed()
	}
	return summary, nil
}

func (s *Store) putProject(ctx context.Context, project Project) error {
	raw, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	if err := s.kv.Set(ctx, s.projectKey(project.ID), raw, 0); err != nil {
		return fmt.Errorf("store project: %w", err)
	}
	return nil
}

func (s *Store) loadProject(ctx context.Context, id uuid.UUID) (Project, int64, error) {
	entry, found, err := s.kv.Get(ctx, s.projectKey(id))
	if err != nil {
		return Project{}, 0, fmt.Errorf("load project: %w", err)
	}
	if !found {
		return Project{}, 0, ErrProjectNotFound
	}

	var project Project
	if err := json.Unmarshal(entry.Value, &project); err != nil {
		return Project{}, 0, fmt.Errorf("decode project: %w", err)
	}
	return project, entry.Version, nil
}

func (s *Store) loadEntry(ctx context.Context, id uuid.UUID) (TimeEntry, int64, error) {
	stored, found, err := s.kv.Get(ctx, s.entryKey(id))
	if err != nil {
		return TimeEntry{}, 0, fmt.Errorf("load time entry: %w", err)
	}
	if !found {
		return TimeEntry{}, 0, ErrEntryNotFound
	}

	var entry TimeEntry
	if err := json.Unmarshal(stored.Value, &entry); err != nil {
		return TimeEntry{}, 0, fmt.Errorf("decode time entry: %w", err)
	}
	return entry, stored.Version, nil
}

func userKey(id string) string {
	return kv.Key("users", id)
}

func (s *Store) projectKey(id uuid.UUID) string {
	return kv.Key("users", s.userID, "projects", id.String())
}

func (s *Store) projectPrefix() string {
	return kv.Key("users", s.userID, "projects") + "/"
}

func (s *Store) entryKey(id uuid.UUID) string {
	return kv.Key("users", s.userID, "entries", id.String())
}

func (s *Store) entryPrefix() string {
	return kv.Key("users", s.userID, "entries") + "/"
}

func (s *Store) markerKey(projectID uuid.UUID) string {
	return kv.Key("users", s.userID, "active", projectID.String())
}

func (s *Store) markerPrefix() string {
	return kv.Key("users", s.userID, "active") + "/"
}
