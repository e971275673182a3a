package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/model"
)

// TagRepo はUnitOfWorkを使用したサービスタグリポジトリ。
type TagRepo struct {
	uow *database.UnitOfWork
}

// NewTagRepo はTagRepoを生成する。
func NewTagRepo(uow *database.UnitOfWork) *TagRepo {
	return &TagRepo{uow: uow}
}

// List は全タグを名前順に返す。
func (r *TagRepo) List(ctx context.Context) ([]model.ServiceTag, error) {
	rows, err := r.uow.Query(ctx, database.SQL(
		"SELECT id, name, category FROM service_tags ORDER BY name, id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list service tags: %w", err)
	}
	return scanTags(rows), nil
}

// ListByUserID はユーザーに紐づくタグを名前順に返す。
func (r *TagRepo) ListByUserID(ctx context.Context, userID int64) ([]model.ServiceTag, error) {
	rows, err := r.uow.Query(ctx, database.SQL(`SELECT st.id AS id, st.name AS name, st.category AS category
FROM service_tags st
JOIN user_service_tags ust ON ust.tag_id = st.id
WHERE ust.user_id = `).Arg(userID).Raw(" ORDER BY st.name, st.id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list user service tags: %w", err)
	}
	return scanTags(rows), nil
}

// ListByProjectID はプロジェクトに紐づくタグを名前順に返す。
func (r *TagRepo) ListByProjectID(ctx context.Context, projectID int64) ([]model.ServiceTag, error) {
	rows, err := r.uow.Query(ctx, database.SQL(`SELECT st.id AS id, st.name AS name, st.category AS category
FROM service_tags st
JOIN project_tags pt ON pt.tag_id = st.id
WHERE pt.project_id = `).Arg(projectID).Raw(" ORDER BY st.name, st.id"))
	if err != nil {
		return nil, fmt.Errorf("failed to list project tags: %w", err)
	}
	return scanTags(rows), nil
}

// Seed は同名のタグが存在しない場合のみ挿入する。何度実行しても結果は変わらない。
func (r *TagRepo) Seed(ctx context.Context, tags []model.ServiceTag) (int64, error) {
	var inserted int64
	for _, tag := range tags {
		n, err := r.uow.Exec(ctx, database.SQL("INSERT INTO service_tags (name, category) VALUES (").
			Args(tag.Name, tag.Category).
			Raw(") ON CONFLICT (name) DO NOTHING"))
		if err != nil {
			return inserted, fmt.Errorf("failed to seed service tag %q: %w", tag.Name, err)
		}
		inserted += n
	}
	return inserted, nil
}

func scanTags(rows []database.Row) []model.ServiceTag {
	tags := make([]model.ServiceTag, 0, len(rows))
	for _, row := range rows {
		tags = append(tags, model.ServiceTag{
			ID:       row.Int64("id"),
			Name:     row.String("name"),
			Category: row.String("category"),
		})
	}
	return tags
}

var _ TagRepository = (*TagRepo)(nil)
