// Package tag はサービスタグの一覧と初期データ投入を提供する。
package tag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/model"
	"github.com/hitoshi/seva/internal/repository"
)

// DefaultTags はマイグレーション時に投入する初期タグ。
var DefaultTags = []model.ServiceTag{
	{Name: "киртан/киртана", Category: "music"},
	{Name: "кулинария/прасад", Category: "food"},
	{Name: "дизайн", Category: "creative"},
	{Name: "перевод", Category: "language"},
	{Name: "фандрайзинг", Category: "fundraising"},
	{Name: "санкиртана", Category: "outreach"},
	{Name: "медиа/видео", Category: "media"},
	{Name: "соцсети/PR", Category: "media"},
	{Name: "образование/лекции", Category: "education"},
	{Name: "организация/ивенты", Category: "events"},
}

// UnitOfWorkRunner はUnitOfWorkの実行範囲を提供するインターフェース。
type UnitOfWorkRunner interface {
	WithUnitOfWork(ctx context.Context, fn func(uow *database.UnitOfWork) error) error
	WithWriteUnitOfWork(ctx context.Context, fn func(uow *database.UnitOfWork) error) error
}

// Service はサービスタグのサービス層。
type Service struct {
	db UnitOfWorkRunner
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(db UnitOfWorkRunner) *Service {
	return &Service{db: db}
}

// List は全タグを名前順に返す。
func (s *Service) List(ctx context.Context) ([]model.ServiceTag, error) {
	var tags []model.ServiceTag
	err := s.db.WithUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		var err error
		tags, err = repository.NewTagRepo(uow).List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("タグ一覧の取得に失敗しました: %w", err)
	}
	return tags, nil
}

// Seed は未登録のタグだけを挿入する。何度実行しても同じ結果になる。
func (s *Service) Seed(ctx context.Context, tags []model.ServiceTag) (int64, error) {
	var inserted int64
	err := s.db.WithWriteUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		var err error
		inserted, err = repository.NewTagRepo(uow).Seed(ctx, tags)
		if err != nil {
			return err
		}
		return uow.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("タグの初期投入に失敗しました: %w", err)
	}

	slog.Info("service tags seeded", slog.Int64("inserted", inserted), slog.Int("total", len(tags)))
	return inserted, nil
}
