// Package project はコミュニティプロジェクト（協力者募集）のドメインロジックを提供する。
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/model"
	"github.com/hitoshi/seva/internal/repository"
)

const (
	maxTitleLength    = 200
	maxFreeTextLength = 4000
)

// UnitOfWorkRunner はUnitOfWorkの実行範囲を提供するインターフェース。
type UnitOfWorkRunner interface {
	WithUnitOfWork(ctx context.Context, fn func(uow *database.UnitOfWork) error) error
	WithWriteUnitOfWork(ctx context.Context, fn func(uow *database.UnitOfWork) error) error
}

// TextSanitizer は自由記述テキストからマークアップを除去するインターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// CreateInput はプロジェクト作成の入力。
type CreateInput struct {
	Title      string
	Mission    string
	Needs      string
	Links      string
	OwnerEmail string
	Tags       []int64
}

// Service はプロジェクトのサービス層。
type Service struct {
	db        UnitOfWorkRunner
	sanitizer TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(db UnitOfWorkRunner, sanitizer TextSanitizer) *Service {
	return &Service{db: db, sanitizer: sanitizer}
}

// Create はプロジェクトを作成する。タイトルとオーナーのメールアドレスは必須。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.ProjectWithTags, error) {
	project, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	var result *model.ProjectWithTags
	err = s.db.WithWriteUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		repos := repository.New(uow)

		if _, err := repos.Projects.Create(ctx, project); err != nil {
			return err
		}
		if err := repos.Projects.AddTags(ctx, project.ID, in.Tags); err != nil {
			return err
		}
		tags, err := repos.Tags.ListByProjectID(ctx, project.ID)
		if err != nil {
			return err
		}
		if err := uow.Commit(); err != nil {
			return err
		}

		result = &model.ProjectWithTags{Project: *project, Tags: tags}
		return nil
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, model.NewTagNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの作成に失敗しました: %w", err)
	}

	slog.Info("project created", slog.Int64("project_id", result.ID))
	return result, nil
}

// List は全プロジェクトを作成日時の新しい順に返す。
func (s *Service) List(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	err := s.db.WithUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		var err error
		projects, err = repository.NewProjectRepo(uow).List(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("プロジェクト一覧の取得に失敗しました: %w", err)
	}
	return projects, nil
}

// Get はプロジェクトをタグとともに返す。存在しない場合はPROJECT_NOT_FOUND。
func (s *Service) Get(ctx context.Context, projectID int64) (*model.ProjectWithTags, error) {
	var result *model.ProjectWithTags
	err := s.db.WithUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		repos := repository.New(uow)
		project, err := repos.Projects.FindByID(ctx, projectID)
		if err != nil || project == nil {
			return err
		}
		tags, err := repos.Tags.ListByProjectID(ctx, projectID)
		if err != nil {
			return err
		}
		result = &model.ProjectWithTags{Project: *project, Tags: tags}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	if result == nil {
		return nil, model.NewProjectNotFoundError()
	}
	return result, nil
}

func (s *Service) validate(in CreateInput) (*model.Project, error) {
	project := &model.Project{
		Title:      s.clean(in.Title),
		Mission:    s.clean(in.Mission),
		Needs:      s.clean(in.Needs),
		Links:      s.clean(in.Links),
		OwnerEmail: strings.TrimSpace(in.OwnerEmail),
	}

	if project.Title == "" {
		return nil, model.NewValidationError("title", "必須項目です")
	}
	if utf8.RuneCountInString(project.Title) > maxTitleLength {
		return nil, model.NewValidationError("title", fmt.Sprintf("%d文字以内で入力してください", maxTitleLength))
	}
	if project.OwnerEmail == "" {
		return nil, model.NewValidationError("owner_email", "必須項目です")
	}
	if addr, err := mail.ParseAddress(project.OwnerEmail); err != nil || addr.Address != project.OwnerEmail {
		return nil, model.NewValidationError("owner_email", "メールアドレスの形式が正しくありません")
	}
	for _, text := range []string{project.Mission, project.Needs, project.Links} {
		if utf8.RuneCountInString(text) > maxFreeTextLength {
			return nil, model.NewValidationError("description", fmt.Sprintf("%d文字以内で入力してください", maxFreeTextLength))
		}
	}
	return project, nil
}

func (s *Service) clean(raw string) string {
	if s.sanitizer == nil {
		return strings.TrimSpace(raw)
	}
	return s.sanitizer.Sanitize(raw)
}
