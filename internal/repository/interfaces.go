// Package repository はデータ永続化のインターフェースと、
// UnitOfWorkに束縛されたその実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)
	// FindByTelegramKey は小文字化したTelegramハンドルでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByTelegramKey(ctx context.Context, key string) (*model.User, error)
	// Create はユーザーを作成し、採番されたIDとCreatedAtをuserに設定する。
	// ハンドルが既に登録済みの場合はdatabase.ErrConflictを返す。
	Create(ctx context.Context, user *model.User) (int64, error)
	// AddServiceTags はユーザーにサービスタグを紐づける。
	// 存在しないタグIDが含まれる場合はdatabase.ErrNotFoundを返す。
	AddServiceTags(ctx context.Context, userID int64, tagIDs []int64) error
	// List は条件に一致するユーザーを登録日時の新しい順に返す。
	List(ctx context.Context, filter UserFilter) ([]model.UserWithServices, error)
	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するuser_service_tags、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id int64) error
}

// TagRepository はサービスタグの永続化インターフェース。
type TagRepository interface {
	// List は全タグを名前順に返す。
	List(ctx context.Context) ([]model.ServiceTag, error)
	// ListByUserID はユーザーに紐づくタグを名前順に返す。
	ListByUserID(ctx context.Context, userID int64) ([]model.ServiceTag, error)
	// ListByProjectID はプロジェクトに紐づくタグを名前順に返す。
	ListByProjectID(ctx context.Context, projectID int64) ([]model.ServiceTag, error)
	// Seed は同名のタグが存在しない場合のみ挿入する。挿入した件数を返す。
	Seed(ctx context.Context, tags []model.ServiceTag) (int64, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string, now time.Time) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID int64) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ProjectRepository はプロジェクトの永続化インターフェース。
type ProjectRepository interface {
	// Create はプロジェクトを作成し、採番されたIDを返す。
	Create(ctx context.Context, project *model.Project) (int64, error)
	// AddTags はプロジェクトにサービスタグを紐づける。
	AddTags(ctx context.Context, projectID int64, tagIDs []int64) error
	// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Project, error)
	// List は全プロジェクトを作成日時の新しい順に返す。
	List(ctx context.Context) ([]model.Project, error)
}

// Repositories は1つのUnitOfWorkに束縛されたリポジトリ群。
// 同じUnitOfWork上の変更はCommitするまで他から見えない。
type Repositories struct {
	Users    UserRepository
	Tags     TagRepository
	Sessions SessionRepository
	Projects ProjectRepository
}

// New はuowに束縛されたリポジトリ群を生成する。
func New(uow *database.UnitOfWork) *Repositories {
	return &Repositories{
		Users:    NewUserRepo(uow),
		Tags:     NewTagRepo(uow),
		Sessions: NewSessionRepo(uow),
		Projects: NewProjectRepo(uow),
	}
}

// dedupeIDs は重複を除いたIDを元の順序で返す。
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
