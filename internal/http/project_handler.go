package http

import (
	"net/http"
	"strconv"

	"log/slog"

	"tempo/internal/kv"
	"tempo/internal/tracker"
)

// ProjectHandler exposes project endpoints. Every request operates on the
// key space of the session's user.
type ProjectHandler struct {
	store  kv.Store
	logger *slog.Logger
}

// NewProjectHandler creates a handler.
func NewProjectHandler(store kv.Store, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{store: store, logger: logger}
}

func (h *ProjectHandler) trackerFor(r *http.Request) *tracker.Store {
	session := SessionFromContext(r.Context())
	return tracker.NewStore(h.store, session.UserID)
}

// Create handles POST /projects/create
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	project, err := h.trackerFor(r).CreateProject(r.Context(), payload.Name, payload.Description)
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

// Update handles PUT /projects/{id}
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var payload struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	project, err := h.trackerFor(r).UpdateProject(r.Context(), id, tracker.UpdateProjectInput{
		Name:        payload.Name,
		Description: payload.Description,
	})
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, project)
}

// Archive handles DELETE /projects/{id}
// Projects are soft-deleted so their time entries stay reportable.
func (h *ProjectHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.trackerFor(r).ArchiveProject(r.Context(), id); err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /projects/list
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	includeArchived := false
	if raw := r.URL.Query().Get("includeArchived"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid includeArchived parameter")
			return
		}
		includeArchived = value
	}

	projects, err := h.trackerFor(r).ListProjects(r.Context(), includeArchived)
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// Summary handles GET /projects/{id}/summary
func (h *ProjectHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	start, err := parseTimeQuery(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTimeQuery(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.trackerFor(r).ProjectSummary(r.Context(), id, start, end)
	if err != nil {
		handleTrackerError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
