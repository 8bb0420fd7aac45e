package http

import (
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"tempo/internal/exporter"
	"tempo/internal/kv"
	"tempo/internal/tracker"
)

// TimeHandler exposes time entry endpoints.
type TimeHandler struct {
	store    kv.Store
	exporter *exporter.CSVExporter
	logger   *slog.Logger
}

// NewTimeHandler creates a handler.
func NewTimeHandler(store kv.Store, exporter *exporter.CSVExporter, logger *slog.Logger) *TimeHandler {
	return &TimeHandler{store: store, exporter: exporter, logger: logger}
}

func (h *TimeHandler) trackerFor(r *http.Request) *tracker.Store {
	session := SessionFromContext(r.Context())
	return tracker.NewStore(h.store, session.UserID)
}

// Start handles POST /time/start
func (h *TimeHandler) Start(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProjectID   uuid.UUID `json:"projectId"`
		Description string    `json:"description"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}
	if payload.ProjectID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	}

	entry, err := h.trackerFor(r).StartTimeEntry(r.Context(), payload.ProjectID, payload.Description)
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// Stop handles POST /time/stop
func (h *TimeHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProjectID uuid.UUID `json:"projectId"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}
	if payload.ProjectID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	}

	entry, err := h.trackerFor(r).StopTimeEntry(r.Context(), payload.ProjectID)
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// Active handles GET /time/active
// Without a projectId parameter it returns any running entry; the body is
// null when nothing is running.
func (h *TimeHandler) Active(w http.ResponseWriter, r *http.Request) {
	var projectID *uuid.UUID
	if raw := r.URL.Query().Get("projectId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid projectId parameter")
			return
		}
		projectID = &id
	}

	entry, err := h.trackerFor(r).ActiveTimeEntry(r.Context(), projectID)
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

// Entries handles GET /time/entries
func (h *TimeHandler) Entries(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseEntryFilter(w, r)
	if !ok {
		return
	}

	entries, err := h.trackerFor(r).TimeEntries(r.Context(), filter)
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Update handles PUT /time/entries/{id}
func (h *TimeHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var payload struct {
		Description *string    `json:"description"`
		Tags        *[]string  `json:"tags"`
		StartTime   *time.Time `json:"startTime"`
		EndTime     *time.Time `json:"endTime"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	entry, err := h.trackerFor(r).UpdateTimeEntry(r.Context(), id, tracker.UpdateEntryInput{
		Description: payload.Description,
		Tags:        payload.Tags,
		StartTime:   payload.StartTime,
		EndTime:     payload.EndTime,
	})
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// Export handles GET /time/entries/export
// Streams the filtered entries as a CSV download.
func (h *TimeHandler) Export(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseEntryFilter(w, r)
	if !ok {
		return
	}

	store := h.trackerFor(r)
	entries, err := store.TimeEntries(r.Context(), filter)
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	projects, err := store.ListProjects(r.Context(), true)
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}
	names := make(map[string]string, len(projects))
	for _, project := range projects {
		names[project.ID.String()] = project.Name
	}

	filename := fmt.Sprintf("time-entries-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.exporter.Export(w, entries, names); err != nil {
		h.logger.Error("csv export failed", "error", err)
	}
}

func (h *TimeHandler) parseEntryFilter(w http.ResponseWriter, r *http.Request) (tracker.EntryFilter, bool) {
	filter := tracker.EntryFilter{}

	if raw := r.URL.Query().Get("projectId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid projectId parameter")
			return tracker.EntryFilter{}, false
		}
		filter.ProjectID = &id
	}

	start, err := parseTimeQuery(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return tracker.EntryFilter{}, false
	}
	filter.Start = start

	end, err := parseTimeQuery(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return tracker.EntryFilter{}, false
	}
	filter.End = end

	return filter, true
}
