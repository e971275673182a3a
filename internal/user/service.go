// Package user はディレクトリのプロフィール登録・検索・退会のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/seva/internal/database"
	"github.com/hitoshi/seva/internal/model"
	"github.com/hitoshi/seva/internal/repository"
)

// 入力値の最大長（文字数）
const (
	maxNameLength     = 200
	maxShortLength    = 320
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

// WebsiteChecker はWebサイトURLの安全性と到達性を確認するインターフェース。
type WebsiteChecker interface {
	ValidateURL(rawURL string) error
	CheckReachable(ctx context.Context, rawURL string, timeout time.Duration) error
}

// RegistrationRecorder は登録数を記録するインターフェース（メトリクス用）。
type RegistrationRecorder interface {
	RecordRegistration()
}

// ServiceConfig はユーザーサービスの設定。
type ServiceConfig struct {
	CheckWebsite        bool
	WebsiteCheckTimeout time.Duration
}

// RegisterInput はプロフィール登録の入力。
type RegisterInput struct {
	Name         string
	Email        string
	Location     string
	Telegram     string
	Website      string
	Bio          string
	Skills       string
	Availability string
	ServiceTags  []int64
}

// Service はユーザー管理のサービス層。
type Service struct {
	db        UnitOfWorkRunner
	sanitizer TextSanitizer
	checker   WebsiteChecker
	recorder  RegistrationRecorder
	config    ServiceConfig
}

// NewService はServiceの新しいインスタンスを生成する。checkerとrecorderはnilでもよい。
func NewService(db UnitOfWorkRunner, sanitizer TextSanitizer, checker WebsiteChecker, recorder RegistrationRecorder, config ServiceConfig) *Service {
	if config.WebsiteCheckTimeout <= 0 {
		config.WebsiteCheckTimeout = 5 * time.Second
	}
	return &Service{
		db:        db,
		sanitizer: sanitizer,
		checker:   checker,
		recorder:  recorder,
		config:    config,
	}
}

// Register はプロフィールを登録し、紐づけたタグとともに返す。
// 名前以外の項目は任意。存在しないタグはTAG_NOT_FOUND、登録済みのハンドルはCONFLICT。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.UserProfile, error) {
	user, err := s.validate(ctx, in)
	if err != nil {
		return nil, err
	}

	var profile *model.UserProfile
	err = s.db.WithWriteUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		repos := repository.New(uow)

		if _, err := repos.Users.Create(ctx, user); err != nil {
			return err
		}
		if err := repos.Users.AddServiceTags(ctx, user.ID, in.ServiceTags); err != nil {
			return err
		}
		tags, err := repos.Tags.ListByUserID(ctx, user.ID)
		if err != nil {
			return err
		}
		if err := uow.Commit(); err != nil {
			return err
		}

		profile = &model.UserProfile{User: *user, Tags: tags}
		return nil
	})
	switch {
	case errors.Is(err, database.ErrConflict):
		return nil, model.NewHandleTakenError()
	case errors.Is(err, database.ErrNotFound):
		return nil, model.NewTagNotFoundError()
	case err != nil:
		return nil, fmt.Errorf("プロフィールの登録に失敗しました: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordRegistration()
	}
	slog.Info("profile registered",
		slog.Int64("user_id", profile.ID),
		slog.Int("tags", len(profile.Tags)),
	)
	return profile, nil
}

// List は条件に一致するユーザーを登録日時の新しい順に返す。
func (s *Service) List(ctx context.Context, filter repository.UserFilter) ([]model.UserWithServices, error) {
	var users []model.UserWithServices
	err := s.db.WithUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		var err error
		users, err = repository.NewUserRepo(uow).List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// Get はプロフィールをタグとともに返す。存在しない場合はUSER_NOT_FOUND。
func (s *Service) Get(ctx context.Context, userID int64) (*model.UserProfile, error) {
	var profile *model.UserProfile
	err := s.db.WithUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		repos := repository.New(uow)
		user, err := repos.Users.FindByID(ctx, userID)
		if err != nil || user == nil {
			return err
		}
		tags, err := repos.Tags.ListByUserID(ctx, userID)
		if err != nil {
			return err
		}
		profile = &model.UserProfile{User: *user, Tags: tags}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewUserNotFoundError()
	}
	return profile, nil
}

// Withdraw はユーザーの退会処理を実行する。
// セッションを削除したあとユーザーを削除する（user_service_tagsはCASCADE削除）。
func (s *Service) Withdraw(ctx context.Context, userID int64) error {
	found := false
	err := s.db.WithWriteUnitOfWork(ctx, func(uow *database.UnitOfWork) error {
		repos := repository.New(uow)

		user, err := repos.Users.FindByID(ctx, userID)
		if err != nil || user == nil {
			return err
		}
		found = true

		if err := repos.Sessions.DeleteByUserID(ctx, userID); err != nil {
			return err
		}
		if err := repos.Users.DeleteByID(ctx, userID); err != nil {
			return err
		}
		return uow.Commit()
	})
	if err != nil {
		return fmt.Errorf("退会処理に失敗しました: %w", err)
	}
	if !found {
		return model.NewUserNotFoundError()
	}

	slog.Info("user withdrawn", slog.Int64("user_id", userID))
	return nil
}

// validate は入力を無害化・検証し、保存するユーザーを組み立てる。
func (s *Service) validate(ctx context.Context, in RegisterInput) (*model.User, error) {
	user := &model.User{
		Name:         s.clean(in.Name),
		Email:        strings.TrimSpace(in.Email),
		Location:     s.clean(in.Location),
		Website:      strings.TrimSpace(in.Website),
		Bio:          s.clean(in.Bio),
		Skills:       s.clean(in.Skills),
		Availability: s.clean(in.Availability),
	}

	if user.Name == "" {
		return nil, model.NewValidationError("name", "必須項目です")
	}
	if utf8.RuneCountInString(user.Name) > maxNameLength {
		return nil, model.NewValidationError("name", fmt.Sprintf("%d文字以内で入力してください", maxNameLength))
	}
	limits := []struct {
		field string
		value string
		max   int
	}{
		{"location", user.Location, maxShortLength},
		{"availability", user.Availability, maxShortLength},
		{"bio", user.Bio, maxFreeTextLength},
		{"skills", user.Skills, maxFreeTextLength},
	}
	for _, l := range limits {
		if utf8.RuneCountInString(l.value) > l.max {
			return nil, model.NewValidationError(l.field, fmt.Sprintf("%d文字以内で入力してください", l.max))
		}
	}

	if user.Email != "" {
		addr, err := mail.ParseAddress(user.Email)
		if err != nil || addr.Address != user.Email {
			return nil, model.NewValidationError("email", "メールアドレスの形式が正しくありません")
		}
	}

	if raw := strings.TrimSpace(in.Telegram); raw != "" {
		handle, _, ok := model.NormalizeTelegramHandle(raw)
		if !ok {
			return nil, model.NewValidationError("telegram", "Telegramのユーザー名の形式が正しくありません")
		}
		user.Telegram = handle
	}

	if user.Website != "" {
		if err := s.checkWebsite(ctx, user.Website); err != nil {
			return nil, err
		}
	}

	return user, nil
}

func (s *Service) checkWebsite(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.NewValidationError("website", "http(s)で始まるURLを入力してください")
	}
	if !s.config.CheckWebsite || s.checker == nil {
		return nil
	}

	if err := s.checker.ValidateURL(rawURL); err != nil {
		slog.Warn("website rejected", slog.String("website", rawURL), slog.String("error", err.Error()))
		return model.NewValidationError("website", "このURLは登録できません")
	}
	if err := s.checker.CheckReachable(ctx, rawURL, s.config.WebsiteCheckTimeout); err != nil {
		slog.Warn("website unreachable", slog.String("website", rawURL), slog.String("error", err.Error()))
		return model.NewWebsiteUnreachableError()
	}
	return nil
}

func (s *Service) clean(raw string) string {
	if s.sanitizer == nil {
		return strings.TrimSpace(raw)
	}
	return s.sanitizer.Sanitize(raw)
}
