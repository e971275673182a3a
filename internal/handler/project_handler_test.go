package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/seva/internal/model"
	"github.com/hitoshi/seva/internal/project"
)

type mockProjectService struct {
	createFn func(ctx context.Context, in project.CreateInput) (*model.ProjectWithTags, error)
	listFn   func(ctx context.Context) ([]model.Project, error)
	getFn    func(ctx context.Context, projectID int64) (*model.ProjectWithTags, error)
}

func (m *mockProjectService) Create(ctx context.Context, in project.CreateInput) (*model.ProjectWithTags, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return nil, errors.New("not implemented")
}

func (m *mockProjectService) List(ctx context.Context) ([]model.Project, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockProjectService) Get(ctx context.Context, projectID int64) (*model.ProjectWithTags, error) {
	if m.getFn != nil {
		return m.getFn(ctx, projectID)
	}
	return nil, model.NewProjectNotFoundError()
}

type mockTagService struct {
	tags []model.ServiceTag
	err  error
}

func (m *mockTagService) List(ctx context.Context) ([]model.ServiceTag, error) {
	return m.tags, m.err
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.err
}

func TestProjectHandler_Create(t *testing.T) {
	var got project.CreateInput
	svc := &mockProjectService{
		createFn: func(ctx context.Context, in project.CreateInput) (*model.ProjectWithTags, error) {
			got = in
			return &model.ProjectWithTags{
				Project: model.Project{ID: 5, Title: in.Title, OwnerEmail: in.OwnerEmail, CreatedAt: time.Now()},
				Tags:    []model.ServiceTag{{ID: 1, Name: "Teaching"}},
			}, nil
		},
	}
	h := NewProjectHandler(svc)

	body := `{"title":"Soup kitchen","owner_email":"a@example.org","tags":[1]}`
	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if got.Title != "Soup kitchen" || got.OwnerEmail != "a@example.org" || len(got.Tags) != 1 {
		t.Errorf("input = %+v", got)
	}

	var resp projectResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.ID != 5 || len(resp.Tags) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestProjectHandler_Create_ValidationError(t *testing.T) {
	svc := &mockProjectService{
		createFn: func(ctx context.Context, in project.CreateInput) (*model.ProjectWithTags, error) {
			return nil, model.NewValidationError("title", "タイトルは必須です")
		},
	}
	h := NewProjectHandler(svc)

	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(`{}`)))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeValidation)
	}
}

func TestProjectHandler_Get(t *testing.T) {
	svc := &mockProjectService{
		getFn: func(ctx context.Context, projectID int64) (*model.ProjectWithTags, error) {
			if projectID != 5 {
				return nil, model.NewProjectNotFoundError()
			}
			return &model.ProjectWithTags{Project: model.Project{ID: 5, Title: "Soup"}}, nil
		},
	}
	h := NewProjectHandler(svc)

	for id, want := range map[string]int{"5": http.StatusOK, "6": http.StatusNotFound, "x": http.StatusNotFound} {
		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/projects/"+id, nil), "id", id)
		w := httptest.NewRecorder()
		h.Get(w, req)
		if w.Code != want {
			t.Errorf("id=%s: status = %d, want %d", id, w.Code, want)
		}
	}
}

func TestProjectHandler_List(t *testing.T) {
	svc := &mockProjectService{
		listFn: func(ctx context.Context) ([]model.Project, error) {
			return []model.Project{{ID: 2, Title: "B"}, {ID: 1, Title: "A"}}, nil
		},
	}
	h := NewProjectHandler(svc)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/projects", nil))

	var resp []projectResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(resp) != 2 || resp[0].ID != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func TestTagHandler_List(t *testing.T) {
	h := NewTagHandler(&mockTagService{tags: []model.ServiceTag{{ID: 1, Name: "Music", Category: "art"}}})

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/tags", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp []tagResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(resp) != 1 || resp[0].Category != "art" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"ok", nil, http.StatusOK, "ok"},
		{"down", errors.New("connection refused"), http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(&mockHealthChecker{err: tt.err})(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantBody)
			}
		})
	}
}
