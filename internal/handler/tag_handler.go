package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/seva/internal/model"
)

// TagServiceInterface はタグハンドラーが必要とするサービスインターフェース。
type TagServiceInterface interface {
	List(ctx context.Context) ([]model.ServiceTag, error)
}

// TagHandler はサービスタグのHTTPハンドラー。
type TagHandler struct {
	service TagServiceInterface
}

// NewTagHandler はTagHandlerを生成する。
func NewTagHandler(service TagServiceInterface) *TagHandler {
	return &TagHandler{service: service}
}

type tagResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

func toTagResponses(tags []model.ServiceTag) []tagResponse {
	resp := make([]tagResponse, len(tags))
	for i, t := range tags {
		resp[i] = tagResponse{ID: t.ID, Name: t.Name, Category: t.Category}
	}
	return resp
}

// List はタグ一覧を名前順に返す。
// GET /api/tags
func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTagResponses(tags))
}
