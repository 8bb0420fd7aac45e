package http

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"tempo/internal/exporter"
	"tempo/internal/kv"
	"tempo/internal/tracker"
)

func newTimeHandler(store kv.Store) *TimeHandler {
	return NewTimeHandler(store, exporter.NewCSVExporter(), testLogger())
}

func TestTimeHandlerStartAndConflict(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := newTimeHandler(store)

	project, err := tracker.NewStore(store, "user-1").CreateProject(context.Background(), "Website", "")
	if err != nil {
		t.Fatalf("create project failed: %v", err)
	}

	start := func() *httptest.ResponseRecorder {
		req := authedRequest(t, http.MethodPost, "/time/start", map[string]string{
			"projectId":   project.ID.String(),
			"description": "work",
		}, "user-1")
		rec := httptest.NewRecorder()
		handler.Start(rec, req)
		return rec
	}

	rec := start()
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var entry tracker.TimeEntry
	decodeResponse(t, rec, &entry)
	if entry.ProjectID != project.ID || entry.EndTime != nil {
		t.Fatalf("unexpected entry %+v", entry)
	}

	if rec := start(); rec.Code != http.StatusConflict {
		t.Fatalf("second start must conflict, got %d", rec.Code)
	}
}

func TestTimeHandlerStartUnknownProject(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := newTimeHandler(store)

	req := authedRequest(t, http.MethodPost, "/time/start", map[string]string{
		"projectId": uuid.NewString(),
	}, "user-1")
	rec := httptest.NewRecorder()
	handler.Start(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTimeHandlerStartRequiresProjectID(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := newTimeHandler(store)

	req := authedRequest(t, http.MethodPost, "/time/start", map[string]string{"description": "work"}, "user-1")
	rec := httptest.NewRecorder()
	handler.Start(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTimeHandlerStopLifecycle(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := newTimeHandler(store)
	ctx := context.Background()

	trackerStore := tracker.NewStore(store, "user-1")
	project, _ := trackerStore.CreateProject(ctx, "Website", "")
	if _, err := trackerStore.StartTimeEntry(ctx, project.ID, "work"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stop := func() *httptest.ResponseRecorder {
		req := authedRequest(t, http.MethodPost, "/time/stop", map[string]string{
			"projectId": project.ID.String(),
		}, "user-1")
		rec := httptest.NewRecorder()
		handler.Stop(rec, req)
		return rec
	}

	rec := stop()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var entry tracker.TimeEntry
	decodeResponse(t, rec, &entry)
	if entry.EndTime == nil || entry.Duration <= 0 {
		t.Fatalf("expected closed entry with duration, got %+v", entry)
	}

	if rec := stop(); rec.Code != http.StatusNotFound {
		t.Fatalf("stop without running entry must 404, got %d", rec.Code)
	}
}

func TestTimeHandlerActiveReturnsNullWhenIdle(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := newTimeHandler(store)

	req := authedRequest(t, http.MethodGet, "/time/active", nil, "user-1")
	rec := httptest.NewRecorder()
	handler.Active(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Entry *tracker.TimeEntry `json:"entry"`
	}
	decodeResponse(t, rec, &payload)
	if payload.Entry != nil {
		t.Fatalf("expected null entry, got %+v", payload.Entry)
	}
}

func TestTimeHandlerEntriesFilterValidation(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := newTimeHandler(store)

	req := authedRequest(t, http.MethodGet, "/time/entries?start=yesterday", nil, "user-1")
	rec := httptest.NewRecorder()
	handler.Entries(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid start, got %d", rec.Code)
	}
}

func TestTimeHandlerUpdateEntry(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := newTimeHandler(store)
	ctx := context.Background()

	trackerStore := tracker.NewStore(store, "user-1")
	project, _ := trackerStore.CreateProject(ctx, "Website", "")
	entry, err := trackerStore.StartTimeEntry(ctx, project.ID, "work")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	req := authedRequest(t, http.MethodPut, "/time/entries/x", map[string]any{
		"description": "reviewed PRs",
		"tags":        []string{"review"},
	}, "user-1")
	req = withChiParam(req, "id", entry.ID.String())
	rec := httptest.NewRecorder()
	handler.Update(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var updated tracker.TimeEntry
	decodeResponse(t, rec, &updated)
	if updated.Description != "reviewed PRs" || len(updated.Tags) != 1 {
		t.Fatalf("unexpected entry %+v", updated)
	}
}

func TestTimeHandlerExportCSV(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := newTimeHandler(store)
	ctx := context.Background()

	trackerStore := tracker.NewStore(store, "user-1")
	project, _ := trackerStore.CreateProject(ctx, "Website", "")
	if _, err := trackerStore.StartTimeEntry(ctx, project.ID, "work"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := trackerStore.StopTimeEntry(ctx, project.ID); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	req := authedRequest(t, http.MethodGet, "/time/entries/export", nil, "user-1")
	rec := httptest.NewRecorder()
	handler.Export(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Fatalf("expected text/csv, got %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") {
		t.Fatalf("expected attachment disposition, got %q", got)
	}

	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(records))
	}
	if records[1][3] != "Website" {
		t.Fatalf("expected resolved project name, got %q", records[1][3])
	}
}
