package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/seva/internal/middleware"
	"github.com/hitoshi/seva/internal/model"
	"github.com/hitoshi/seva/internal/repository"
	"github.com/hitoshi/seva/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Register(ctx context.Context, in user.RegisterInput) (*model.UserProfile, error)
	List(ctx context.Context, filter repository.UserFilter) ([]model.UserWithServices, error)
	Get(ctx context.Context, userID int64) (*model.UserProfile, error)
	// Withdraw はユーザーの退会処理を実行する。セッションとタグの紐づけも削除される。
	Withdraw(ctx context.Context, userID int64) error
}

// UserHandler はユーザーディレクトリのHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookie  AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。cookieは退会時のセッションCookie削除に使う。
func NewUserHandler(service UserServiceInterface, cookie AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookie:  cookie,
	}
}

// registerRequest はプロフィール登録リクエストのボディ。
type registerRequest struct {
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Location     string  `json:"location"`
	Telegram     string  `json:"telegram"`
	Website      string  `json:"website"`
	Bio          string  `json:"bio"`
	Skills       string  `json:"skills"`
	Availability string  `json:"availability"`
	ServiceTags  []int64 `json:"service_tags"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Email        string        `json:"email,omitempty"`
	Location     string        `json:"location,omitempty"`
	Telegram     string        `json:"telegram,omitempty"`
	Website      string        `json:"website,omitempty"`
	Bio          string        `json:"bio,omitempty"`
	Skills       string        `json:"skills,omitempty"`
	Availability string        `json:"availability,omitempty"`
	Services     string        `json:"services,omitempty"`
	Tags         []tagResponse `json:"tags,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Location:     u.Location,
		Telegram:     u.Telegram,
		Website:      u.Website,
		Bio:          u.Bio,
		Skills:       u.Skills,
		Availability: u.Availability,
		CreatedAt:    u.CreatedAt,
	}
}

func toProfileResponse(p *model.UserProfile) userResponse {
	resp := toUserResponse(p.User)
	resp.Tags = toTagResponses(p.Tags)
	return resp
}

// Register はプロフィールを登録する。
// POST /api/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	profile, err := h.service.Register(r.Context(), user.RegisterInput{
		Name:         req.Name,
		Email:        req.Email,
		Location:     req.Location,
		Telegram:     req.Telegram,
		Website:      req.Website,
		Bio:          req.Bio,
		Skills:       req.Skills,
		Availability: req.Availability,
		ServiceTags:  req.ServiceTags,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProfileResponse(profile))
}

// List はユーザー一覧を返す。
// GET /api/users?q=&location=&tag=1&tag=2
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repository.UserFilter{
		Query:    query.Get("q"),
		Location: query.Get("location"),
	}
	for _, raw := range query["tag"] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("tag", "タグIDは正の整数で指定してください"))
			return
		}
		filter.TagIDs = append(filter.TagIDs, id)
	}

	users, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userResponse, len(users))
	for i, u := range users {
		resp[i] = toUserResponse(u.User)
		resp[i].Services = u.Services
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get はプロフィールを返す。
// GET /api/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	profile, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// Me はログイン中のユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	profile, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookie.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
