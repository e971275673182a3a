package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/model"
)

const projectColumns = `id, title, mission, needs, links, owner_email, created_at`

// ProjectRepo はUnitOfWorkを使用したプロジェクトリポジトリ。
type ProjectRepo struct {
	uow *database.UnitOfWork
	now func() time.Time
}

// NewProjectRepo はProjectRepoを生成する。
func NewProjectRepo(uow *database.UnitOfWork) *ProjectRepo {
	return &ProjectRepo{uow: uow, now: time.Now}
}

// Create はプロジェクトを作成し、採番されたIDとCreatedAtをprojectに設定する。
func (r *ProjectRepo) Create(ctx context.Context, project *model.Project) (int64, error) {
	createdAt := r.now().UTC().Truncate(time.Millisecond)

	id, err := r.uow.InsertReturningID(ctx, database.InsertInto("projects").
		Set("title", project.Title).
		Set("mission", database.NullIfEmpty(project.Mission)).
		Set("needs", database.NullIfEmpty(project.Needs)).
		Set("links", database.NullIfEmpty(project.Links)).
		Set("owner_email", project.OwnerEmail).
		Set("created_at", database.ToMillis(createdAt)))
	if err != nil {
		return 0, fmt.Errorf("failed to insert project: %w", err)
	}

	project.ID = id
	project.CreatedAt = createdAt
	return id, nil
}

// AddTags はプロジェクトにサービスタグを紐づける。
func (r *ProjectRepo) AddTags(ctx context.Context, projectID int64, tagIDs []int64) error {
	for _, tagID := range dedupeIDs(tagIDs) {
		_, err := r.uow.Exec(ctx, database.SQL("INSERT INTO project_tags (project_id, tag_id) VALUES (").
			Args(projectID, tagID).Raw(")"))
		if err != nil {
			return fmt.Errorf("failed to add project tag %d: %w", tagID, err)
		}
	}
	return nil
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *ProjectRepo) FindByID(ctx context.Context, id int64) (*model.Project, error) {
	row, err := r.uow.QueryOne(ctx, database.SQL("SELECT "+projectColumns+" FROM projects WHERE id = ").Arg(id))
	if err != nil {
		return nil, fmt.Errorf("failed to find project: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	project := scanProject(row)
	return &project, nil
}

// List は全プロジェクトを作成日時の新しい順に返す。
func (r *ProjectRepo) List(ctx context.Context) ([]model.Project, error) {
	rows, err := r.uow.Query(ctx, database.SQL("SELECT "+projectColumns+" FROM projects ORDER BY created_at DESC, id DESC"))
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	projects := make([]model.Project, 0, len(rows))
	for _, row := range rows {
		projects = append(projects, scanProject(row))
	}
	return projects, nil
}

func scanProject(row database.Row) model.Project {
	return model.Project{
		ID:         row.Int64("id"),
		Title:      row.String("title"),
		Mission:    row.String("mission"),
		Needs:      row.String("needs"),
		Links:      row.String("links"),
		OwnerEmail: row.String("owner_email"),
		CreatedAt:  row.Time("created_at"),
	}
}

var _ ProjectRepository = (*ProjectRepo)(nil)
