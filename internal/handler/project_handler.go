package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/seva/internal/middleware"
	"github.com/hitoshi/seva/internal/model"
	"github.com/hitoshi/seva/internal/project"
)

// ProjectServiceInterface はプロジェクトハンドラーが必要とするサービスインターフェース。
type ProjectServiceInterface interface {
	Create(ctx context.Context, in project.CreateInput) (*model.ProjectWithTags, error)
	List(ctx context.Context) ([]model.Project, error)
	Get(ctx context.Context, projectID int64) (*model.ProjectWithTags, error)
}

// ProjectHandler はプロジェクトのHTTPハンドラー。
type ProjectHandler struct {
	service ProjectServiceInterface
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectServiceInterface) *ProjectHandler {
	return &ProjectHandler{service: service}
}

type createProjectRequest struct {
	Title      string  `json:"title"`
	Mission    string  `json:"mission"`
	Needs      string  `json:"needs"`
	Links      string  `json:"links"`
	OwnerEmail string  `json:"owner_email"`
	Tags       []int64 `json:"tags"`
}

type projectResponse struct {
	ID         int64         `json:"id"`
	Title      string        `json:"title"`
	Mission    string        `json:"mission,omitempty"`
	Needs      string        `json:"needs,omitempty"`
	Links      string        `json:"links,omitempty"`
	OwnerEmail string        `json:"owner_email"`
	Tags       []tagResponse `json:"tags,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

func toProjectResponse(p model.Project) projectResponse {
	return projectResponse{
		ID:         p.ID,
		Title:      p.Title,
		Mission:    p.Mission,
		Needs:      p.Needs,
		Links:      p.Links,
		OwnerEmail: p.OwnerEmail,
		CreatedAt:  p.CreatedAt,
	}
}

// Create はプロジェクトを作成する。
// POST /api/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	created, err := h.service.Create(r.Context(), project.CreateInput{
		Title:      req.Title,
		Mission:    req.Mission,
		Needs:      req.Needs,
		Links:      req.Links,
		OwnerEmail: req.OwnerEmail,
		Tags:       req.Tags,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toProjectResponse(created.Project)
	resp.Tags = toTagResponses(created.Tags)
	writeJSON(w, http.StatusCreated, resp)
}

// List はプロジェクト一覧を新しい順に返す。
// GET /api/projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]projectResponse, len(projects))
	for i, p := range projects {
		resp[i] = toProjectResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はプロジェクトをタグとともに返す。
// GET /api/projects/{id}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewProjectNotFoundError())
		return
	}

	found, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toProjectResponse(found.Project)
	resp.Tags = toTagResponses(found.Tags)
	writeJSON(w, http.StatusOK, resp)
}
