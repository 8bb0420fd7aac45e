package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tempo/internal/tracker"
)

func withChiParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestProjectHandlerCreate(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := NewProjectHandler(store, testLogger())

	req := authedRequest(t, http.MethodPost, "/projects/create", map[string]string{
		"name":        "Website",
		"description": "client rebuild",
	}, "user-1")
	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var project tracker.Project
	decodeResponse(t, rec, &project)
	if project.Name != "Website" || project.UserID != "user-1" {
		t.Fatalf("unexpected project %+v", project)
	}
	if project.ID == uuid.Nil {
		t.Fatal("expected assigned project id")
	}
}

func TestProjectHandlerCreateRequiresName(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := NewProjectHandler(store, testLogger())

	req := authedRequest(t, http.MethodPost, "/projects/create", map[string]string{"name": "  "}, "user-1")
	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestProjectHandlerUpdateUnknownProject(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := NewProjectHandler(store, testLogger())

	req := authedRequest(t, http.MethodPut, "/projects/x", map[string]string{"name": "New"}, "user-1")
	req = withChiParam(req, "id", uuid.NewString())
	rec := httptest.NewRecorder()
	handler.Update(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestProjectHandlerArchiveAndList(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := NewProjectHandler(store, testLogger())
	ctx := context.Background()

	project, err := tracker.NewStore(store, "user-1").CreateProject(ctx, "Old", "")
	if err != nil {
		t.Fatalf("create project failed: %v", err)
	}

	archive := func() *httptest.ResponseRecorder {
		req := authedRequest(t, http.MethodDelete, "/projects/x", nil, "user-1")
		req = withChiParam(req, "id", project.ID.String())
		rec := httptest.NewRecorder()
		handler.Archive(rec, req)
		return rec
	}

	if rec := archive(); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := archive(); rec.Code != http.StatusNoContent {
		t.Fatalf("archive must be idempotent, got %d", rec.Code)
	}

	listReq := authedRequest(t, http.MethodGet, "/projects/list", nil, "user-1")
	listRec := httptest.NewRecorder()
	handler.List(listRec, listReq)

	var listed struct {
		Projects []tracker.Project `json:"projects"`
	}
	decodeResponse(t, listRec, &listed)
	if len(listed.Projects) != 0 {
		t.Fatalf("archived projects must be excluded by default, got %d", len(listed.Projects))
	}

	allReq := authedRequest(t, http.MethodGet, "/projects/list?includeArchived=true", nil, "user-1")
	allRec := httptest.NewRecorder()
	handler.List(allRec, allReq)

	decodeResponse(t, allRec, &listed)
	if len(listed.Projects) != 1 || !listed.Projects[0].Archived {
		t.Fatalf("expected archived project when included, got %+v", listed.Projects)
	}
}

func TestProjectHandlerSummaryUnknownProject(t *testing.T) {
	store := newUserStore(t, "user-1")
	handler := NewProjectHandler(store, testLogger())

	req := authedRequest(t, http.MethodGet, "/projects/x/summary", nil, "user-1")
	req = withChiParam(req, "id", uuid.NewString())
	rec := httptest.NewRecorder()
	handler.Summary(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
